package e2e_test

import (
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lightstreamer/ls-go-client/pkg/message"
	"github.com/lightstreamer/ls-go-client/pkg/session"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
)

func TestE2E(t *testing.T) {
	RegisterFailHandler(Fail)
	SetDefaultEventuallyTimeout(5 * time.Second)
	SetDefaultEventuallyPollingInterval(10 * time.Millisecond)
	RunSpecs(t, "E2E Suite")
}

// events collects listener callbacks as short strings. Each listener
// kind gets its own adapter sharing the same list.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(ev string) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
}

// All returns a copy of the collected events.
func (e *events) All() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

func (e *events) Session() session.Listener           { return sessionEvents{e: e} }
func (e *events) Subscription() subscription.Listener { return subscriptionEvents{e: e} }
func (e *events) Message() message.Listener           { return messageEvents{e: e} }

type sessionEvents struct {
	session.BaseListener
	e *events
}

func (l sessionEvents) OnStatusChange(status string) { l.e.add(status) }

func (l sessionEvents) OnServerError(code int, msg string) { l.e.add("error:" + msg) }

type subscriptionEvents struct {
	subscription.BaseListener
	e *events
}

func (l subscriptionEvents) OnSubscription() { l.e.add("subscribed") }

func (l subscriptionEvents) OnItemUpdate(u *subscription.ItemUpdate) {
	if v, _ := u.Value(subscription.Name("price")); v != nil {
		l.e.add(u.ItemName() + "=" + *v)
	}
}

type messageEvents struct {
	message.BaseListener
	e *events
}

func (l messageEvents) OnProcessed(msg, response string) { l.e.add("processed:" + msg) }
