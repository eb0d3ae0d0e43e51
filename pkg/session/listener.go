package session

// Listener receives the events of a client session. Calls are delivered
// on the dispatcher goroutine, in production order.
type Listener interface {
	// OnListenEnd is called when the listener is removed.
	OnListenEnd()

	// OnListenStart is called when the listener is added.
	OnListenStart()

	// OnPropertyChange reports a change of a connection option or
	// detail, by property name.
	OnPropertyChange(property string)

	// OnServerError reports that the server refused the session. The
	// status is already DISCONNECTED.
	OnServerError(code int, message string)

	// OnStatusChange reports a new session status.
	OnStatusChange(status string)
}

// BaseListener implements Listener with no-op methods.
type BaseListener struct{}

func (BaseListener) OnListenEnd()              {}
func (BaseListener) OnListenStart()            {}
func (BaseListener) OnPropertyChange(string)   {}
func (BaseListener) OnServerError(int, string) {}
func (BaseListener) OnStatusChange(string)     {}

var _ Listener = BaseListener{}
