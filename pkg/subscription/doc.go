// Package subscription implements subscriptions to items and the
// per-client manager that keeps them in step with the server.
//
// # Lifecycle
//
// A Subscription is configured while inactive and becomes active when it
// is handed to a client. Descriptive setters fail while it is active; the
// requested max frequency is the exception and is forwarded to the server
// as a reconfiguration. Independently of being active, a Subscription is
// subscribed while the server has confirmed it on the current session.
// Active subscriptions survive session loss and are subscribed again on
// the next session.
//
// # Updates
//
// The server sends field values as deltas against the previous update of
// the same item. The manager decodes them, applies JSON Patch and TLCP-diff
// deltas, and keeps an item value table per (item, key). The key is
// "default" outside COMMAND mode. Each update computes per-field changed
// flags against the last values seen.
//
// # COMMAND and two-level subscriptions
//
// In COMMAND mode rows are keyed by the value of the key field; ADD creates
// a row, UPDATE merges into it and DELETE clears every field but key and
// command before removing the row. When second-level fields are set, one
// MERGE child subscription per key supplies the extra fields, which are
// appended after the first-level ones.
package subscription
