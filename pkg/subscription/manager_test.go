package subscription

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

type fakeSender struct {
	nextReq int64
	subs    []tlcp.Subscribe
	reqIDs  []int64
	unsubs  []int
	reconfs []string
}

func (f *fakeSender) SendSubscribe(r tlcp.Subscribe) int64 {
	f.nextReq++
	r.ReqID = f.nextReq
	f.subs = append(f.subs, r)
	f.reqIDs = append(f.reqIDs, f.nextReq)
	return f.nextReq
}

func (f *fakeSender) SendUnsubscribe(subID int) int64 {
	f.nextReq++
	f.unsubs = append(f.unsubs, subID)
	return f.nextReq
}

func (f *fakeSender) SendReconf(subID int, freq string) int64 {
	f.nextReq++
	f.reconfs = append(f.reconfs, fmt.Sprintf("%d:%s", subID, freq))
	return f.nextReq
}

func (f *fakeSender) last() tlcp.Subscribe { return f.subs[len(f.subs)-1] }

type recordingListener struct {
	BaseListener
	log     *[]string
	updates []*ItemUpdate
}

func newRecorder() *recordingListener {
	return &recordingListener{log: new([]string)}
}

func (r *recordingListener) add(format string, args ...any) {
	*r.log = append(*r.log, fmt.Sprintf(format, args...))
}

func (r *recordingListener) OnListenStart()    { r.add("listenStart") }
func (r *recordingListener) OnListenEnd()      { r.add("listenEnd") }
func (r *recordingListener) OnSubscription()   { r.add("subscription") }
func (r *recordingListener) OnUnsubscription() { r.add("unsubscription") }
func (r *recordingListener) OnSubscriptionError(code int, msg string) {
	r.add("error:%d:%s", code, msg)
}
func (r *recordingListener) OnItemUpdate(u *ItemUpdate) {
	r.updates = append(r.updates, u)
	r.add("update:%d", u.ItemPos())
}
func (r *recordingListener) OnEndOfSnapshot(name string, pos int) { r.add("eos:%s:%d", name, pos) }
func (r *recordingListener) OnClearSnapshot(name string, pos int) { r.add("cs:%s:%d", name, pos) }
func (r *recordingListener) OnItemLostUpdates(name string, pos, lost int) {
	r.add("lost:%s:%d:%d", name, pos, lost)
}
func (r *recordingListener) OnRealMaxFrequency(freq string) { r.add("freq:%s", freq) }
func (r *recordingListener) OnCommandSecondLevelSubscriptionError(code int, msg, key string) {
	r.add("2nd-error:%d:%s", code, key)
}
func (r *recordingListener) OnCommandSecondLevelItemLostUpdates(lost int, key string) {
	r.add("2nd-lost:%d:%s", lost, key)
}

func (r *recordingListener) events() []string { return *r.log }

func (r *recordingListener) lastUpdate(t *testing.T) *ItemUpdate {
	t.Helper()
	if len(r.updates) == 0 {
		t.Fatal("no updates received")
	}
	return r.updates[len(r.updates)-1]
}

func newTestManager() (*Manager, *fakeSender) {
	s := &fakeSender{}
	m := NewManager(s, func(f func()) { f() }, nil)
	m.onFreq = func(sub *Subscription, freq string) { m.Reconf(sub, freq) }
	return m, s
}

func str(s string) tlcp.FieldValue { return tlcp.FieldValue{Kind: tlcp.ValueString, Text: s} }

var unchanged = tlcp.FieldValue{Kind: tlcp.ValueUnchanged}

func update(subID, item int, values ...tlcp.FieldValue) tlcp.Update {
	return tlcp.Update{SubID: subID, Item: item, Values: values}
}

func mustHandle(t *testing.T, m *Manager, n tlcp.Notification) {
	t.Helper()
	if err := m.Handle(n); err != nil {
		t.Fatalf("Handle(%s): %v", n.Tag(), err)
	}
}

func value(t *testing.T, u *ItemUpdate, field Ref) string {
	t.Helper()
	v, err := u.Value(field)
	if err != nil {
		t.Fatalf("Value(%s): %v", field, err)
	}
	if v == nil {
		return "<nil>"
	}
	return *v
}

func changed(t *testing.T, u *ItemUpdate, field Ref) bool {
	t.Helper()
	c, err := u.IsValueChanged(field)
	if err != nil {
		t.Fatalf("IsValueChanged(%s): %v", field, err)
	}
	return c
}

func TestMergeSubscriptionScenario(t *testing.T) {
	m, sender := newTestManager()
	sub, err := New(ModeMerge, []string{"item1", "item2", "item3"}, []string{"stock_name", "last_price"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := newRecorder()
	if err := m.Add(sub); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sub.AddListener(rec)
	m.SessionStarted()

	if len(sender.subs) != 1 {
		t.Fatalf("subscribe requests = %d, want 1", len(sender.subs))
	}
	req := sender.last()
	if req.Group != "item1 item2 item3" || req.Schema != "stock_name last_price" || req.Mode != "MERGE" || req.Snapshot != "true" {
		t.Errorf("subscribe request = %+v", req)
	}

	mustHandle(t, m, tlcp.SubOK{SubID: req.SubID, Items: 3, Fields: 2})
	if !sub.IsSubscribed() {
		t.Error("IsSubscribed = false after SUBOK")
	}
	mustHandle(t, m, update(req.SubID, 1, str("Apple"), str("100")))

	u := rec.lastUpdate(t)
	if u.ItemName() != "item1" || u.ItemPos() != 1 {
		t.Errorf("item = %q/%d", u.ItemName(), u.ItemPos())
	}
	if got := value(t, u, Name("stock_name")); got != "Apple" {
		t.Errorf("stock_name = %s", got)
	}
	if !changed(t, u, Name("stock_name")) || !changed(t, u, Pos(2)) {
		t.Error("first update must mark every field changed")
	}
	if !u.IsSnapshot() {
		t.Error("first MERGE update must be the snapshot")
	}

	mustHandle(t, m, update(req.SubID, 1, unchanged, str("101")))
	u = rec.lastUpdate(t)
	if changed(t, u, Name("stock_name")) {
		t.Error("stock_name reported changed")
	}
	if !changed(t, u, Name("last_price")) {
		t.Error("last_price not reported changed")
	}
	if u.IsSnapshot() {
		t.Error("second update reported as snapshot")
	}
	cf, err := u.ChangedFields()
	if err != nil || len(cf) != 1 || *cf["last_price"] != "101" {
		t.Errorf("ChangedFields = %v, %v", cf, err)
	}

	v, err := sub.Value(Name("item1"), Name("last_price"))
	if err != nil || v == nil || *v != "101" {
		t.Errorf("Subscription.Value = %v, %v", v, err)
	}

	want := []string{"listenStart", "subscription", "update:1", "update:1"}
	if fmt.Sprint(rec.events()) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", rec.events(), want)
	}
}

func TestDistinctChangedFlagsCompareLastValue(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeDistinct, []string{"news"}, []string{"title", "source"})
	rec := newRecorder()
	m.Add(sub)
	sub.AddListener(rec)
	m.SessionStarted()
	id := sender.last().SubID
	mustHandle(t, m, tlcp.SubOK{SubID: id, Items: 1, Fields: 2})

	mustHandle(t, m, update(id, 1, str("a"), str("x")))
	if !rec.lastUpdate(t).IsSnapshot() {
		t.Error("update before EOS must be snapshot")
	}
	mustHandle(t, m, tlcp.EOS{SubID: id, Item: 1})
	mustHandle(t, m, update(id, 1, str("b"), unchanged))

	u := rec.lastUpdate(t)
	if u.IsSnapshot() {
		t.Error("update after EOS reported as snapshot")
	}
	if !changed(t, u, Name("title")) || changed(t, u, Name("source")) {
		t.Errorf("changed flags = %v", u.ChangedFieldsByPosition())
	}
}

func newCommandSubscription(t *testing.T, m *Manager, sender *fakeSender, second []string) (*Subscription, *recordingListener, int) {
	t.Helper()
	sub, err := New(ModeCommand, []string{"portfolio"}, []string{"key", "command", "qty"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if second != nil {
		if err := sub.SetCommandSecondLevelFields(second); err != nil {
			t.Fatalf("SetCommandSecondLevelFields: %v", err)
		}
		if err := sub.SetCommandSecondLevelDataAdapter("QUOTES"); err != nil {
			t.Fatalf("SetCommandSecondLevelDataAdapter: %v", err)
		}
	}
	rec := newRecorder()
	if err := m.Add(sub); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sub.AddListener(rec)
	m.SessionStarted()
	id := sender.last().SubID
	mustHandle(t, m, tlcp.SubCmd{SubID: id, Items: 1, Fields: 3, KeyPosition: 1, CmdPosition: 2})
	return sub, rec, id
}

func TestCommandAddUpdateDelete(t *testing.T) {
	m, sender := newTestManager()
	sub, rec, id := newCommandSubscription(t, m, sender, nil)

	mustHandle(t, m, update(id, 1, str("AAPL"), str("ADD"), str("10")))
	u := rec.lastUpdate(t)
	if value(t, u, Name("command")) != "ADD" || !changed(t, u, Name("qty")) {
		t.Errorf("ADD update = %v", u.FieldsByPosition())
	}

	mustHandle(t, m, update(id, 1, unchanged, str("UPDATE"), str("12")))
	u = rec.lastUpdate(t)
	if !changed(t, u, Name("qty")) || changed(t, u, Name("key")) {
		t.Errorf("UPDATE changed = %v", u.ChangedFieldsByPosition())
	}
	v, _ := sub.CommandValue(Pos(1), "AAPL", Name("qty"))
	if v == nil || *v != "12" {
		t.Errorf("qty after UPDATE = %v", v)
	}

	mustHandle(t, m, update(id, 1, unchanged, str("DELETE"), unchanged))
	u = rec.lastUpdate(t)
	if got := value(t, u, Name("qty")); got != "<nil>" {
		t.Errorf("qty in DELETE update = %s, want null", got)
	}
	if got := value(t, u, Name("key")); got != "AAPL" {
		t.Errorf("key in DELETE update = %s", got)
	}
	v, err := sub.CommandValue(Pos(1), "AAPL", Name("qty"))
	if err != nil || v != nil {
		t.Errorf("CommandValue after DELETE = %v, %v", v, err)
	}
	if keys, _ := sub.Keys(Pos(1)); len(keys) != 0 {
		t.Errorf("keys after DELETE = %v", keys)
	}

	// An UPDATE for a missing key becomes an ADD.
	mustHandle(t, m, update(id, 1, unchanged, str("UPDATE"), str("1")))
	if got := value(t, rec.lastUpdate(t), Name("command")); got != "ADD" {
		t.Errorf("command = %s, want ADD", got)
	}
	if keys, _ := sub.Keys(Name("portfolio")); len(keys) != 1 || keys[0] != "AAPL" {
		t.Errorf("keys after re-ADD = %v", keys)
	}
}

func TestCommandClearSnapshot(t *testing.T) {
	m, sender := newTestManager()
	sub, rec, id := newCommandSubscription(t, m, sender, nil)

	mustHandle(t, m, update(id, 1, str("A"), str("ADD"), str("1")))
	mustHandle(t, m, update(id, 1, str("B"), str("ADD"), str("2")))
	mustHandle(t, m, tlcp.CS{SubID: id, Item: 1})

	if keys, _ := sub.Keys(Pos(1)); len(keys) != 0 {
		t.Errorf("keys after CS = %v", keys)
	}
	events := rec.events()
	if events[len(events)-1] != "cs:portfolio:1" {
		t.Errorf("events = %v", events)
	}
}

func TestTwoLevelCommand(t *testing.T) {
	m, sender := newTestManager()
	_, rec, id := newCommandSubscription(t, m, sender, []string{"bid", "qty"})

	mustHandle(t, m, update(id, 1, str("AAPL"), str("ADD"), str("10")))
	if len(sender.subs) != 2 {
		t.Fatalf("subscribe requests = %d, want 2", len(sender.subs))
	}
	child := sender.last()
	if child.Mode != "MERGE" || child.Group != "AAPL" || child.Schema != "bid qty" || child.DataAdapter != "QUOTES" || child.Snapshot != "true" {
		t.Errorf("child request = %+v", child)
	}

	mustHandle(t, m, tlcp.SubOK{SubID: child.SubID, Items: 1, Fields: 2})
	mustHandle(t, m, update(child.SubID, 1, str("99.5"), str("7")))

	u := rec.lastUpdate(t)
	if got := value(t, u, Name("bid")); got != "99.5" {
		t.Errorf("bid = %s", got)
	}
	if got := value(t, u, Pos(4)); got != "99.5" {
		t.Errorf("position 4 = %s", got)
	}
	// The first-level qty shadows the second-level one.
	if got := value(t, u, Name("qty")); got != "10" {
		t.Errorf("qty by name = %s, want first-level value", got)
	}
	if got := value(t, u, Pos(5)); got != "7" {
		t.Errorf("second-level qty = %s", got)
	}
	if changed(t, u, Name("key")) || !changed(t, u, Name("bid")) {
		t.Errorf("changed = %v", u.ChangedFieldsByPosition())
	}
	if got := value(t, u, Name("command")); got != "UPDATE" {
		t.Errorf("command = %s", got)
	}
	fields, err := u.Fields()
	if err != nil || len(fields) != 4 {
		t.Errorf("Fields = %v, %v", fields, err)
	}

	// A first-level UPDATE keeps second-level values.
	mustHandle(t, m, update(id, 1, unchanged, str("UPDATE"), str("11")))
	if got := value(t, rec.lastUpdate(t), Name("bid")); got != "99.5" {
		t.Errorf("bid after first-level update = %s", got)
	}

	mustHandle(t, m, tlcp.OV{SubID: child.SubID, Item: 1, Lost: 3})
	mustHandle(t, m, update(id, 1, unchanged, str("DELETE"), unchanged))
	if len(sender.unsubs) != 1 || sender.unsubs[0] != child.SubID {
		t.Errorf("unsubscribes = %v, want child %d", sender.unsubs, child.SubID)
	}
	u = rec.lastUpdate(t)
	if got := value(t, u, Name("bid")); got != "<nil>" {
		t.Errorf("bid after DELETE = %s", got)
	}

	// Updates from the dropped child are ignored.
	before := len(rec.updates)
	mustHandle(t, m, update(child.SubID, 1, str("1"), str("1")))
	if len(rec.updates) != before {
		t.Error("update delivered for a dropped child")
	}

	found := false
	for _, e := range rec.events() {
		if e == "2nd-lost:3:AAPL" {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %v, missing second-level lost updates", rec.events())
	}
}

func TestTwoLevelInvalidKeyAndRefusal(t *testing.T) {
	m, sender := newTestManager()
	_, rec, id := newCommandSubscription(t, m, sender, []string{"bid"})

	mustHandle(t, m, update(id, 1, str("bad key"), str("ADD"), str("1")))
	if len(sender.subs) != 1 {
		t.Errorf("child subscribed for invalid key")
	}

	mustHandle(t, m, update(id, 1, str("MSFT"), str("ADD"), str("1")))
	childReq := sender.reqIDs[len(sender.reqIDs)-1]
	if !m.Refused(childReq, 17, "no such item") {
		t.Fatal("Refused did not recognize child request")
	}

	events := rec.events()
	want := []string{"2nd-error:14:bad key", "2nd-error:17:MSFT"}
	var got []string
	for _, e := range events {
		if len(e) > 9 && e[:9] == "2nd-error" {
			got = append(got, e)
		}
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("second-level errors = %v, want %v", got, want)
	}
}

func TestSessionLostKeepsSubscriptions(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeMerge, []string{"i"}, []string{"f"})
	rec := newRecorder()
	m.Add(sub)
	sub.AddListener(rec)
	m.SessionStarted()
	first := sender.last().SubID
	mustHandle(t, m, tlcp.SubOK{SubID: first, Items: 1, Fields: 1})
	mustHandle(t, m, update(first, 1, str("v")))

	m.SessionLost()
	if sub.IsSubscribed() || !sub.IsActive() {
		t.Errorf("subscribed=%v active=%v after session loss", sub.IsSubscribed(), sub.IsActive())
	}
	if v, _ := sub.Value(Pos(1), Pos(1)); v != nil {
		t.Errorf("value kept after session loss: %s", *v)
	}

	// Late notifications of the old session are ignored.
	mustHandle(t, m, update(first, 1, str("late")))

	m.SessionStarted()
	if len(sender.subs) != 2 || sender.last().SubID == first {
		t.Errorf("resubscribe requests = %+v", sender.subs)
	}
	want := []string{"listenStart", "subscription", "update:1", "unsubscription"}
	if fmt.Sprint(rec.events()) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", rec.events(), want)
	}
}

func TestRemoveUnsubscribes(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeMerge, []string{"i"}, []string{"f"})
	rec := newRecorder()
	m.Add(sub)
	sub.AddListener(rec)
	m.SessionStarted()
	id := sender.last().SubID
	mustHandle(t, m, tlcp.SubOK{SubID: id, Items: 1, Fields: 1})

	if err := m.Remove(sub); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if len(sender.unsubs) != 1 || sender.unsubs[0] != id {
		t.Errorf("unsubscribes = %v", sender.unsubs)
	}
	mustHandle(t, m, tlcp.Unsub{SubID: id})
	if err := m.Remove(sub); !errors.Is(err, ErrIllegalState) {
		t.Errorf("second Remove err = %v", err)
	}
	if len(m.Subscriptions()) != 0 {
		t.Errorf("subscriptions = %d", len(m.Subscriptions()))
	}

	want := []string{"listenStart", "subscription", "unsubscription"}
	if fmt.Sprint(rec.events()) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", rec.events(), want)
	}
}

func TestSubscriptionErrorIsNotRetried(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeMerge, []string{"i"}, []string{"f"})
	rec := newRecorder()
	m.Add(sub)
	sub.AddListener(rec)
	m.SessionStarted()

	if !m.Refused(sender.reqIDs[0], 21, "bad group") {
		t.Fatal("Refused returned false")
	}
	if m.Refused(sender.reqIDs[0], 21, "bad group") {
		t.Error("second Refused returned true")
	}
	m.SessionLost()
	m.SessionStarted()
	if len(sender.subs) != 1 {
		t.Errorf("failed subscription resubscribed: %d requests", len(sender.subs))
	}
	if !sub.IsActive() {
		t.Error("failed subscription became inactive")
	}
	want := []string{"listenStart", "error:21:bad group"}
	if fmt.Sprint(rec.events()) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", rec.events(), want)
	}
}

func TestItemEvents(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeMerge, []string{"i"}, []string{"f"})
	rec := newRecorder()
	m.Add(sub)
	sub.AddListener(rec)
	m.SessionStarted()
	id := sender.last().SubID

	mustHandle(t, m, tlcp.SubOK{SubID: id, Items: 1, Fields: 1})
	mustHandle(t, m, tlcp.EOS{SubID: id, Item: 1})
	mustHandle(t, m, tlcp.OV{SubID: id, Item: 1, Lost: 4})
	mustHandle(t, m, tlcp.Conf{SubID: id, MaxFrequency: "2"})
	mustHandle(t, m, tlcp.Conf{SubID: id, MaxFrequency: "2"})
	mustHandle(t, m, tlcp.Conf{SubID: id, MaxFrequency: "unlimited"})
	mustHandle(t, m, tlcp.CS{SubID: id, Item: 1})

	want := []string{"listenStart", "subscription", "eos:i:1", "lost:i:1:4", "freq:2", "freq:unlimited", "cs:i:1"}
	if fmt.Sprint(rec.events()) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", rec.events(), want)
	}
	if sub.RealMaxFrequency() != "unlimited" {
		t.Errorf("RealMaxFrequency = %q", sub.RealMaxFrequency())
	}
}

func TestFrequencyChangeSendsReconf(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeMerge, []string{"i"}, []string{"f"})
	sub.SetRequestedMaxFrequency("1")
	m.Add(sub)

	// Not yet on a session: applied with the next subscription.
	sub.SetRequestedMaxFrequency("2")
	m.SessionStarted()
	if got := sender.last().MaxFrequency; got != "2" {
		t.Errorf("subscribe frequency = %q", got)
	}

	id := sender.last().SubID
	if err := sub.SetRequestedMaxFrequency("unlimited"); err != nil {
		t.Fatalf("SetRequestedMaxFrequency: %v", err)
	}
	if len(sender.reconfs) != 1 || sender.reconfs[0] != fmt.Sprintf("%d:unlimited", id) {
		t.Errorf("reconfs = %v", sender.reconfs)
	}
}

func TestJSONPatchUpdate(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeMerge, []string{"i"}, []string{"doc"})
	rec := newRecorder()
	m.Add(sub)
	sub.AddListener(rec)
	m.SessionStarted()
	id := sender.last().SubID
	mustHandle(t, m, tlcp.SubOK{SubID: id, Items: 1, Fields: 1})

	mustHandle(t, m, update(id, 1, str(`{"n":1}`)))
	if p, _ := rec.lastUpdate(t).ValueAsJSONPatchIfAvailable(Pos(1)); p != nil {
		t.Errorf("patch available for a full value: %s", *p)
	}

	patch := `[{"op":"replace","path":"/n","value":2}]`
	mustHandle(t, m, update(id, 1, tlcp.FieldValue{Kind: tlcp.ValueJSONPatch, Text: patch}))
	u := rec.lastUpdate(t)
	if got := value(t, u, Name("doc")); got != `{"n":2}` {
		t.Errorf("patched value = %s", got)
	}
	p, err := u.ValueAsJSONPatchIfAvailable(Name("doc"))
	if err != nil || p == nil || *p != patch {
		t.Errorf("patch = %v, %v", p, err)
	}
}

func TestMalformedUpdate(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeCommand, []string{"i"}, []string{"key", "command"})
	m.Add(sub)
	m.SessionStarted()
	id := sender.last().SubID
	mustHandle(t, m, tlcp.SubCmd{SubID: id, Items: 1, Fields: 2, KeyPosition: 1, CmdPosition: 2})

	tests := []tlcp.Update{
		update(id, 1, str("k"), str("JUMP")),
		update(id, 1, tlcp.FieldValue{Kind: tlcp.ValueNull}, str("ADD")),
		update(id, 5, str("k"), str("ADD")),
	}
	for _, u := range tests {
		if err := m.Handle(u); !errors.Is(err, ErrMalformedUpdate) {
			t.Errorf("Handle(%+v) err = %v", u, err)
		}
	}
}

func TestGroupAndSchemaNames(t *testing.T) {
	m, sender := newTestManager()
	sub, _ := New(ModeMerge, nil, nil)
	sub.SetItemGroup("grp")
	sub.SetFieldSchema("sch")
	rec := newRecorder()
	if err := m.Add(sub); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sub.AddListener(rec)
	m.SessionStarted()
	req := sender.last()
	if req.Group != "grp" || req.Schema != "sch" {
		t.Errorf("request = %+v", req)
	}
	mustHandle(t, m, tlcp.SubOK{SubID: req.SubID, Items: 2, Fields: 2})
	mustHandle(t, m, update(req.SubID, 2, str("a"), str("b")))

	u := rec.lastUpdate(t)
	if u.ItemName() != "" || u.ItemPos() != 2 {
		t.Errorf("item = %q/%d", u.ItemName(), u.ItemPos())
	}
	if _, err := u.Fields(); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Fields without names err = %v", err)
	}
	if _, err := u.Value(Name("x")); !errors.Is(err, ErrInvalidRef) {
		t.Errorf("Value by name err = %v", err)
	}
	if got := value(t, u, Pos(2)); got != "b" {
		t.Errorf("Pos(2) = %s", got)
	}
}

func TestAddRequiresItemsAndFields(t *testing.T) {
	m, _ := newTestManager()
	noItems, _ := New(ModeMerge, nil, []string{"f"})
	if err := m.Add(noItems); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Add without items err = %v", err)
	}
	noFields, _ := New(ModeMerge, []string{"i"}, nil)
	if err := m.Add(noFields); !errors.Is(err, ErrIllegalState) {
		t.Errorf("Add without fields err = %v", err)
	}
}

func TestMaxFrequency(t *testing.T) {
	tests := []struct{ a, b, want string }{
		{"", "2", "2"},
		{"3", "", "3"},
		{"1", "2.5", "2.5"},
		{"unlimited", "9", "unlimited"},
		{"4", "4", "4"},
	}
	for _, tt := range tests {
		if got := maxFrequency(tt.a, tt.b); got != tt.want {
			t.Errorf("maxFrequency(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}
