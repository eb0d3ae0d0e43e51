// Package transport provides the network adapters used by the session
// engine.
//
// The transport layer handles:
//   - HTTP POST requests with streamed, CRLF-delimited responses
//   - WebSocket connections negotiating the protocol sub-protocol
//   - HTTP, SOCKS4 and SOCKS5 proxies
//   - the process-wide cookie jar and TLS trust configuration
//
// # Connections
//
// Every Open call returns a Conn immediately and performs the network
// I/O on its own goroutine. Lines are delivered to a Handler in arrival
// order, followed by exactly one terminal OnError or OnClose. Dispose is
// idempotent and may be called before the connection resolves: the
// attempt is canceled and a socket that completes afterwards is closed
// at once. No callback is delivered once Dispose has returned, except
// one that was already running.
//
// # Environment
//
// HTTP clients and WebSocket dialers are pooled per proxy in an
// Environment. Default returns the process-wide instance, created on
// first use.
package transport
