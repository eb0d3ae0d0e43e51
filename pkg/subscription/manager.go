package subscription

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/lightstreamer/ls-go-client/pkg/log"
	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

var logger = log.For(log.Subscriptions)

// Error reported for a COMMAND key that cannot name a second-level item.
const (
	codeInvalidKey    = 14
	messageInvalidKey = "The received key value is not a valid name for an Item"
)

// Sender hands subscription requests to the control channel. Each method
// returns the request id it assigned.
type Sender interface {
	SendSubscribe(r tlcp.Subscribe) int64
	SendUnsubscribe(subID int) int64
	SendReconf(subID int, maxFrequency string) int64
}

// Manager keeps the active subscriptions of a client in step with the
// server. It is not safe for concurrent use: the session engine
// serializes every call under its own lock.
type Manager struct {
	sender Sender
	post   func(func())
	onFreq frequencyHook

	active  []*Subscription
	bySubID map[int]*Subscription
	byReq   map[int64]*Subscription
	nextID  int
	online  bool
}

// NewManager creates a manager. Listener callbacks are handed to post.
// onFreq is invoked, without locks held, when the max frequency of an
// active subscription changes; it must call Reconf.
func NewManager(sender Sender, post func(func()), onFreq func(sub *Subscription, frequency string)) *Manager {
	return &Manager{
		sender:  sender,
		post:    post,
		onFreq:  onFreq,
		bySubID: make(map[int]*Subscription),
		byReq:   make(map[int64]*Subscription),
	}
}

// Subscriptions returns the active subscriptions in subscription order.
func (m *Manager) Subscriptions() []*Subscription {
	return slices.Clone(m.active)
}

// Add activates sub and subscribes it on the current session, if any.
func (m *Manager) Add(sub *Subscription) error {
	sub.mu.Lock()
	if err := sub.checkInactive(); err != nil {
		sub.mu.Unlock()
		return err
	}
	if sub.items == nil && sub.group == "" {
		sub.mu.Unlock()
		return fmt.Errorf("%w: items or item group not set", ErrIllegalState)
	}
	if sub.fields == nil && sub.schema == "" {
		sub.mu.Unlock()
		return fmt.Errorf("%w: fields or field schema not set", ErrIllegalState)
	}
	sub.resetLocked()
	sub.active = true
	sub.failed = false
	sub.post = m.post
	sub.onFreq = m.onFreq
	sub.mu.Unlock()

	m.active = append(m.active, sub)
	if m.online {
		m.subscribe(sub)
	}
	return nil
}

// Remove deactivates sub and unsubscribes it from the server.
func (m *Manager) Remove(sub *Subscription) error {
	sub.mu.Lock()
	if !sub.active || !slices.Contains(m.active, sub) {
		sub.mu.Unlock()
		return fmt.Errorf("%w: subscription is not active on this client", ErrIllegalState)
	}
	wasSubscribed := sub.subscribed
	subID := sub.subID
	children := childrenOf(sub)
	sub.resetLocked()
	sub.active = false
	sub.onFreq = nil
	sub.mu.Unlock()

	m.active = slices.DeleteFunc(m.active, func(s *Subscription) bool { return s == sub })
	for _, c := range children {
		m.dropChild(c)
	}
	if _, known := m.bySubID[subID]; known {
		delete(m.bySubID, subID)
		if m.online {
			m.sender.SendUnsubscribe(subID)
		}
	}
	if wasSubscribed {
		sub.fire(func(l Listener) { l.OnUnsubscription() })
	}
	return nil
}

// Reconf forwards a max frequency change to the server.
func (m *Manager) Reconf(sub *Subscription, frequency string) {
	sub.mu.RLock()
	subID := sub.subID
	children := childrenOf(sub)
	sub.mu.RUnlock()

	if _, known := m.bySubID[subID]; !known || !m.online {
		return
	}
	m.sender.SendReconf(subID, frequency)
	for _, c := range children {
		c.mu.Lock()
		c.maxFrequency = frequency
		childID := c.subID
		c.mu.Unlock()
		if _, known := m.bySubID[childID]; known {
			m.sender.SendReconf(childID, frequency)
		}
	}
}

// SessionStarted subscribes every active subscription on a new session.
func (m *Manager) SessionStarted() {
	m.online = true
	for _, sub := range m.active {
		sub.mu.RLock()
		failed := sub.failed
		sub.mu.RUnlock()
		if !failed {
			m.subscribe(sub)
		}
	}
}

// SessionLost resets every subscription. Active subscriptions are kept
// and subscribed again on the next session; second-level children are
// dropped.
func (m *Manager) SessionLost() {
	m.online = false
	m.bySubID = make(map[int]*Subscription)
	m.byReq = make(map[int64]*Subscription)

	for _, sub := range m.active {
		sub.mu.Lock()
		wasSubscribed := sub.subscribed
		sub.resetLocked()
		sub.mu.Unlock()
		if wasSubscribed {
			sub.fire(func(l Listener) { l.OnUnsubscription() })
		}
	}
}

func (m *Manager) subscribe(sub *Subscription) {
	m.nextID++
	id := m.nextID

	sub.mu.Lock()
	sub.subID = id
	req := tlcp.Subscribe{
		SubID:        id,
		Mode:         string(sub.mode),
		Group:        sub.group,
		Schema:       sub.schema,
		DataAdapter:  sub.dataAdapter,
		Selector:     sub.selector,
		Snapshot:     snapshotParam(sub.snapshot),
		MaxFrequency: sub.maxFrequency,
		BufferSize:   sub.bufferSize,
	}
	if sub.items != nil {
		req.Group = strings.Join(sub.items, " ")
	}
	if sub.fields != nil {
		req.Schema = strings.Join(sub.fields, " ")
	}
	sub.mu.Unlock()

	reqID := m.sender.SendSubscribe(req)
	m.bySubID[id] = sub
	m.byReq[reqID] = sub
	logger.Debug("subscribing", "sub_id", id, "mode", req.Mode, "group", req.Group)
}

func snapshotParam(snapshot string) string {
	switch snapshot {
	case "":
		return ""
	case Yes:
		return "true"
	case No:
		return "false"
	}
	return snapshot
}

// childrenOf must be called with sub.mu held.
func childrenOf(sub *Subscription) []*Subscription {
	children := make([]*Subscription, 0, len(sub.children))
	for _, c := range sub.children {
		children = append(children, c)
	}
	return children
}

// Accepted records a REQOK. It reports whether reqID was a subscription
// request.
func (m *Manager) Accepted(reqID int64) bool {
	if _, ok := m.byReq[reqID]; !ok {
		return false
	}
	delete(m.byReq, reqID)
	return true
}

// Refused handles a REQERR. It reports whether reqID was a subscription
// request.
func (m *Manager) Refused(reqID int64, code int, message string) bool {
	sub, ok := m.byReq[reqID]
	if !ok {
		return false
	}
	delete(m.byReq, reqID)

	sub.mu.Lock()
	delete(m.bySubID, sub.subID)
	sub.subID = 0
	sub.failed = true
	parent, key := sub.parent, sub.parentKey
	sub.mu.Unlock()

	logger.Warn("subscription refused", "code", code, "message", message)
	if parent != nil {
		parent.mu.Lock()
		for k, c := range parent.children {
			if c == sub {
				delete(parent.children, k)
			}
		}
		parent.mu.Unlock()
		parent.fire(func(l Listener) { l.OnCommandSecondLevelSubscriptionError(code, message, key) })
		return true
	}
	sub.fire(func(l Listener) { l.OnSubscriptionError(code, message) })
	return true
}

// Handle applies a subscription notification. Notifications for unknown
// subscriptions are ignored. An error means the update could not be
// applied and the stream can no longer be trusted.
func (m *Manager) Handle(n tlcp.Notification) error {
	switch n := n.(type) {
	case tlcp.SubOK:
		m.subscribed(n.SubID, n.Items, n.Fields, 0, 0)
	case tlcp.SubCmd:
		m.subscribed(n.SubID, n.Items, n.Fields, n.KeyPosition, n.CmdPosition)
	case tlcp.Unsub:
		m.unsubscribed(n.SubID)
	case tlcp.Update:
		return m.update(n)
	case tlcp.EOS:
		if sub := m.first(n.SubID); sub != nil {
			sub.endOfSnapshot(n.Item)
			name := sub.ItemNameAt(n.Item)
			sub.fire(func(l Listener) { l.OnEndOfSnapshot(name, n.Item) })
		} else if child := m.bySubID[n.SubID]; child != nil {
			child.endOfSnapshot(n.Item)
		}
	case tlcp.CS:
		if sub := m.first(n.SubID); sub != nil {
			for _, c := range sub.clearSnapshot(n.Item) {
				m.dropChild(c)
			}
			name := sub.ItemNameAt(n.Item)
			sub.fire(func(l Listener) { l.OnClearSnapshot(name, n.Item) })
		}
	case tlcp.OV:
		m.lost(n)
	case tlcp.Conf:
		m.configured(n)
	default:
		return fmt.Errorf("%w: not a subscription notification: %s", ErrIllegalState, n.Tag())
	}
	return nil
}

// first returns the first-level subscription with subID.
func (m *Manager) first(subID int) *Subscription {
	sub := m.bySubID[subID]
	if sub == nil || sub.parent != nil {
		return nil
	}
	return sub
}

// ItemNameAt returns the name of the item at pos, or "" when a group is
// used.
func (s *Subscription) ItemNameAt(pos int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemName(pos)
}

func (m *Manager) subscribed(subID, items, fields, keyPos, cmdPos int) {
	sub := m.bySubID[subID]
	if sub == nil {
		return
	}
	sub.mu.Lock()
	sub.subscribed = true
	sub.itemCount = items
	sub.fieldCount = fields
	sub.keyPos = keyPos
	sub.cmdPos = cmdPos
	parent := sub.parent
	sub.mu.Unlock()

	if parent != nil {
		parent.mu.Lock()
		if parent.secondFields == nil && fields > parent.secondCount {
			parent.secondCount = fields
		}
		parent.mu.Unlock()
		return
	}
	logger.Debug("subscribed", "sub_id", subID, "items", items, "fields", fields)
	sub.fire(func(l Listener) { l.OnSubscription() })
}

func (m *Manager) unsubscribed(subID int) {
	sub := m.bySubID[subID]
	if sub == nil {
		return
	}
	delete(m.bySubID, subID)
	sub.mu.Lock()
	wasSubscribed := sub.subscribed
	sub.subscribed = false
	parent := sub.parent
	sub.mu.Unlock()
	if parent == nil && wasSubscribed {
		sub.fire(func(l Listener) { l.OnUnsubscription() })
	}
}

func (m *Manager) update(n tlcp.Update) error {
	sub := m.bySubID[n.SubID]
	if sub == nil {
		return nil
	}
	upd, ev, err := sub.applyUpdate(n)
	if err != nil {
		return fmt.Errorf("subscription %d: %w", n.SubID, err)
	}

	sub.mu.RLock()
	parent, parentItem, parentKey := sub.parent, sub.parentItem, sub.parentKey
	sub.mu.RUnlock()
	if parent != nil {
		if merged := parent.applySecondLevel(parentItem, parentKey, upd); merged != nil {
			parent.fire(func(l Listener) { l.OnItemUpdate(merged) })
		}
		return nil
	}

	if ev != nil {
		ev.item = n.Item
		m.secondLevel(sub, ev)
	}
	sub.fire(func(l Listener) { l.OnItemUpdate(upd) })
	return nil
}

// secondLevel spawns or drops the child serving a COMMAND row.
func (m *Manager) secondLevel(sub *Subscription, ev *commandEvent) {
	sub.mu.Lock()
	if !sub.hasSecondLevel() {
		sub.mu.Unlock()
		return
	}
	k := childKey{item: ev.item, key: ev.key}
	existing := sub.children[k]

	if ev.command == CommandDelete {
		delete(sub.children, k)
		sub.mu.Unlock()
		if existing != nil {
			m.dropChild(existing)
		}
		return
	}
	if existing != nil || ev.command != CommandAdd {
		sub.mu.Unlock()
		return
	}
	if err := validateName(ev.key, "item"); err != nil {
		sub.mu.Unlock()
		key := ev.key
		sub.fire(func(l Listener) { l.OnCommandSecondLevelSubscriptionError(codeInvalidKey, messageInvalidKey, key) })
		return
	}

	child := &Subscription{
		mode:         ModeMerge,
		items:        []string{ev.key},
		fields:       slices.Clone(sub.secondFields),
		schema:       sub.secondSchema,
		dataAdapter:  sub.secondAdapter,
		snapshot:     Yes,
		maxFrequency: sub.maxFrequency,
		active:       true,
		post:         m.post,
		parent:       sub,
		parentItem:   ev.item,
		parentKey:    ev.key,
	}
	if sub.children == nil {
		sub.children = make(map[childKey]*Subscription)
	}
	sub.children[k] = child
	sub.mu.Unlock()

	if m.online {
		m.subscribe(child)
	}
}

func (m *Manager) dropChild(child *Subscription) {
	child.mu.Lock()
	subID := child.subID
	child.resetLocked()
	child.active = false
	child.mu.Unlock()

	if _, known := m.bySubID[subID]; known {
		delete(m.bySubID, subID)
		if m.online {
			m.sender.SendUnsubscribe(subID)
		}
	}
}

func (m *Manager) lost(n tlcp.OV) {
	sub := m.bySubID[n.SubID]
	if sub == nil {
		return
	}
	sub.mu.RLock()
	parent, key := sub.parent, sub.parentKey
	sub.mu.RUnlock()
	if parent != nil {
		parent.fire(func(l Listener) { l.OnCommandSecondLevelItemLostUpdates(n.Lost, key) })
		return
	}
	name := sub.ItemNameAt(n.Item)
	sub.fire(func(l Listener) { l.OnItemLostUpdates(name, n.Item, n.Lost) })
}

// configured records the frequency granted to a subscription. For
// two-level subscriptions the reported value is the highest among the
// parent and its children.
func (m *Manager) configured(n tlcp.Conf) {
	sub := m.bySubID[n.SubID]
	if sub == nil {
		return
	}
	sub.mu.Lock()
	sub.ownFreq = n.MaxFrequency
	parent := sub.parent
	sub.mu.Unlock()
	if parent != nil {
		sub = parent
	}

	sub.mu.Lock()
	freq := sub.ownFreq
	for _, c := range sub.children {
		c.mu.RLock()
		freq = maxFrequency(freq, c.ownFreq)
		c.mu.RUnlock()
	}
	changed := freq != sub.realFreq
	sub.realFreq = freq
	sub.mu.Unlock()

	if changed {
		sub.fire(func(l Listener) { l.OnRealMaxFrequency(freq) })
	}
}

// maxFrequency compares two granted frequencies; "unlimited" is the
// highest and "" the lowest.
func maxFrequency(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	case a == Unlimited || b == Unlimited:
		return Unlimited
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil {
		return b
	}
	if errB != nil || fa >= fb {
		return a
	}
	return b
}
