package subscription

// Listener receives the events of a Subscription. Callbacks run on the
// client's notification goroutine, one at a time.
type Listener interface {
	OnClearSnapshot(itemName string, itemPos int)
	OnCommandSecondLevelItemLostUpdates(lost int, key string)
	OnCommandSecondLevelSubscriptionError(code int, message string, key string)
	OnEndOfSnapshot(itemName string, itemPos int)
	OnItemLostUpdates(itemName string, itemPos int, lost int)
	OnItemUpdate(update *ItemUpdate)
	OnListenEnd()
	OnListenStart()
	OnRealMaxFrequency(frequency string)
	OnSubscription()
	OnSubscriptionError(code int, message string)
	OnUnsubscription()
}

// BaseListener implements Listener with no-ops. Embed it to handle only
// some events.
type BaseListener struct{}

func (BaseListener) OnClearSnapshot(string, int)                     {}
func (BaseListener) OnCommandSecondLevelItemLostUpdates(int, string) {}
func (BaseListener) OnEndOfSnapshot(string, int)                     {}
func (BaseListener) OnItemLostUpdates(string, int, int)              {}
func (BaseListener) OnItemUpdate(*ItemUpdate)                        {}
func (BaseListener) OnListenEnd()                                    {}
func (BaseListener) OnListenStart()                                  {}
func (BaseListener) OnRealMaxFrequency(string)                       {}
func (BaseListener) OnSubscription()                                 {}
func (BaseListener) OnSubscriptionError(int, string)                 {}
func (BaseListener) OnUnsubscription()                               {}

func (BaseListener) OnCommandSecondLevelSubscriptionError(int, string, string) {}
