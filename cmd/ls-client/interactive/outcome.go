package interactive

import (
	"fmt"

	"github.com/lightstreamer/ls-go-client/pkg/message"
)

// Result is the final outcome of a message.
type Result struct {
	Text    string
	Outcome string // processed, denied, discarded, error or aborted
	Detail  string
}

// OK reports whether the message was processed.
func (r Result) OK() bool { return r.Outcome == "processed" }

func (r Result) String() string {
	if r.Detail == "" {
		return fmt.Sprintf("%q %s", r.Text, r.Outcome)
	}
	return fmt.Sprintf("%q %s: %s", r.Text, r.Outcome, r.Detail)
}

// Outcome is a message.Listener delivering the single outcome of a
// message on a channel.
type Outcome struct {
	done chan Result
}

// NewOutcome creates an Outcome.
func NewOutcome() *Outcome {
	return &Outcome{done: make(chan Result, 1)}
}

// Done returns the channel receiving the outcome.
func (o *Outcome) Done() <-chan Result { return o.done }

func (o *Outcome) deliver(r Result) {
	select {
	case o.done <- r:
	default:
	}
}

func (o *Outcome) OnProcessed(msg, response string) {
	o.deliver(Result{Text: msg, Outcome: "processed", Detail: response})
}

func (o *Outcome) OnDeny(msg string, code int, reason string) {
	o.deliver(Result{Text: msg, Outcome: "denied", Detail: fmt.Sprintf("%d %s", code, reason)})
}

func (o *Outcome) OnDiscarded(msg string) {
	o.deliver(Result{Text: msg, Outcome: "discarded"})
}

func (o *Outcome) OnError(msg string) {
	o.deliver(Result{Text: msg, Outcome: "error"})
}

func (o *Outcome) OnAbort(msg string, sentOnNetwork bool) {
	detail := "not sent"
	if sentOnNetwork {
		detail = "sent"
	}
	o.deliver(Result{Text: msg, Outcome: "aborted", Detail: detail})
}

var _ message.Listener = (*Outcome)(nil)
