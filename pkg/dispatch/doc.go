// Package dispatch provides the single ordered channel through which
// every listener callback of a client is delivered.
//
// Producers Post tasks from any goroutine without blocking; one
// background goroutine runs them in posting order. Slow listener code
// therefore delays later notifications only, never network I/O or the
// session state machine.
package dispatch
