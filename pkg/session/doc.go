// Package session implements the client session state machine.
//
// An Engine owns one logical session with the server and every
// connection carrying it. Facade calls, network callbacks and timers all
// mutate the engine under a single lock; listener events leave through
// the dispatcher in the order they were produced.
//
// # Statuses
//
//	DISCONNECTED -> CONNECTING -> CONNECTED:STREAM-SENSING -> CONNECTED:<leaf>
//	CONNECTED:<streaming leaf> -> STALLED -> CONNECTED:<leaf> | DISCONNECTED:TRYING-RECOVERY
//	any -> DISCONNECTED:WILL-RETRY -> CONNECTING
//	any -> DISCONNECTED
//
// The leaves are WS-STREAMING, HTTP-STREAMING, WS-POLLING and
// HTTP-POLLING.
//
// # Stream-Sense
//
// A new session is created with an HTTP request answered at once (a
// zero-length poll). Its LOOP starts binding the candidates in order: a
// WebSocket stream, then an HTTP stream, then HTTP polling. A candidate
// that fails, or does not answer within the connect timeout, moves to the
// next one. A forced transport restricts the candidates; a forced
// combination skips Stream-Sense and creates the session on it directly.
//
// # Interruptions
//
// A bound stream that stays silent for the keepalive interval plus the
// stalled timeout is STALLED; after a further reconnect timeout it is
// dropped. A dropped stream is recovered by binding again with the count
// of data notifications received, for up to the session recovery timeout.
// Anything else ends the session: a new one is created after a delay, the
// first one random within the first retry max delay, the following ones
// growing from the retry delay.
//
// # Control requests
//
// Subscription, message, bandwidth and heartbeat requests wait in one
// FIFO queue until the session is bound. A bound WebSocket carries them
// directly; otherwise they are posted over HTTP, one request at a time.
package session
