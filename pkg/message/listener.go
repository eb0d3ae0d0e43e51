package message

// Listener receives the outcome of one message. Every callback carries
// the original message text.
type Listener interface {
	OnAbort(msg string, sentOnNetwork bool)
	OnDeny(msg string, code int, reason string)
	OnDiscarded(msg string)
	OnError(msg string)
	OnProcessed(msg string, response string)
}

// BaseListener implements Listener with no-ops. Embed it to handle only
// some outcomes.
type BaseListener struct{}

func (BaseListener) OnAbort(string, bool)       {}
func (BaseListener) OnDeny(string, int, string) {}
func (BaseListener) OnDiscarded(string)         {}
func (BaseListener) OnError(string)             {}
func (BaseListener) OnProcessed(string, string) {}
