package subscription

import (
	"fmt"
	"slices"

	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

// schema describes the field positions of a subscription: the first-level
// fields followed, for two-level subscriptions, by the second-level ones.
// Names are nil when a schema token is used.
type schema struct {
	names1 []string
	count1 int
	names2 []string
	count2 int
}

func (s *Subscription) schemaLocked() schema {
	sc := schema{names1: s.fields, count1: s.fieldCountLocked()}
	if s.hasSecondLevel() {
		sc.names2 = s.secondFields
		sc.count2 = len(s.secondFields)
		if s.secondFields == nil {
			sc.count2 = s.secondCount
		}
	}
	return sc
}

func (sc schema) total() int { return sc.count1 + sc.count2 }

// resolve maps a field reference to a position. First-level names win
// over second-level names.
func (sc schema) resolve(r Ref) (int, error) {
	if !r.IsName() {
		return r.resolve(nil, sc.total())
	}
	if sc.names1 == nil && sc.names2 == nil {
		return r.resolve(nil, sc.total())
	}
	if i := slices.Index(sc.names1, r.name); i >= 0 {
		return i + 1, nil
	}
	if i := slices.Index(sc.names2, r.name); i >= 0 {
		return sc.count1 + i + 1, nil
	}
	return 0, &RefError{Ref: r, Reason: "unknown name"}
}

// name returns the name at pos, or "" when unknown or shadowed by a
// first-level name.
func (sc schema) name(pos int) string {
	if pos <= sc.count1 {
		if pos-1 < len(sc.names1) {
			return sc.names1[pos-1]
		}
		return ""
	}
	i := pos - sc.count1 - 1
	if i < len(sc.names2) && !slices.Contains(sc.names1, sc.names2[i]) {
		return sc.names2[i]
	}
	return ""
}

func (sc schema) hasNames() bool {
	return (sc.count1 == 0 || sc.names1 != nil) && (sc.count2 == 0 || sc.names2 != nil)
}

// row holds the values of one (item, key) pair by position.
type row []*string

func (r row) get(pos int) *string {
	if pos >= 1 && pos <= len(r) {
		return r[pos-1]
	}
	return nil
}

func (r row) grow(n int) row {
	if len(r) >= n {
		return r
	}
	return append(r, make(row, n-len(r))...)
}

// itemState is the value table of one item.
type itemState struct {
	prev         []*string
	rows         map[string]row
	order        []string
	seen         bool
	snapshotDone bool
}

func newItemState() *itemState {
	return &itemState{rows: make(map[string]row)}
}

func (st *itemState) remove(key string) {
	delete(st.rows, key)
	if i := slices.Index(st.order, key); i >= 0 {
		st.order = slices.Delete(st.order, i, i+1)
	}
}

// commandEvent tells the manager which COMMAND row an update touched.
type commandEvent struct {
	item    int
	key     string
	command string
}

func equalValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// resetLocked drops all session state.
func (s *Subscription) resetLocked() {
	s.subID = 0
	s.subscribed = false
	s.itemCount = 0
	s.fieldCount = 0
	s.keyPos = 0
	s.cmdPos = 0
	s.realFreq = ""
	s.ownFreq = ""
	s.secondCount = 0
	s.items1 = nil
	s.children = nil
}

func (s *Subscription) itemStateLocked(item int) *itemState {
	if s.items1 == nil {
		s.items1 = make(map[int]*itemState)
	}
	st := s.items1[item]
	if st == nil {
		st = newItemState()
		s.items1[item] = st
	}
	return st
}

// snapshotLocked tells whether the next update of st belongs to the
// snapshot.
func (s *Subscription) snapshotLocked(st *itemState) bool {
	if s.snapshot == "" || s.snapshot == No || s.mode == ModeRaw {
		return false
	}
	if s.mode == ModeMerge {
		return !st.seen && !st.snapshotDone
	}
	return !st.snapshotDone
}

// applyUpdate applies an update to the item table and returns the update
// to deliver. For COMMAND subscriptions it also reports the touched row.
func (s *Subscription) applyUpdate(u tlcp.Update) (*ItemUpdate, *commandEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Item < 1 || (s.itemCountLocked() > 0 && u.Item > s.itemCountLocked()) {
		return nil, nil, fmt.Errorf("%w: item %d out of range", ErrMalformedUpdate, u.Item)
	}
	st := s.itemStateLocked(u.Item)
	vals, patches, err := decodeDeltas(st.prev, u.Values)
	if err != nil {
		return nil, nil, err
	}
	st.prev = vals

	sc := s.schemaLocked()
	if sc.count1 == 0 {
		sc.count1 = len(vals)
	}
	snapshot := s.snapshotLocked(st)

	var (
		old, cur row
		ev       *commandEvent
		first    = !st.seen
	)
	if s.mode == ModeCommand {
		ev, err = s.applyCommandLocked(st, vals, sc)
		if err != nil {
			return nil, nil, err
		}
		old = st.rows[ev.key]
		first = old == nil
		cur = slices.Clone(old).grow(sc.total())
		copy(cur, vals)
		cur[s.cmdPosLocked()-1] = ptr(ev.command)
		if ev.command == CommandDelete {
			for i := range cur {
				if i != s.keyPosLocked()-1 && i != s.cmdPosLocked()-1 {
					cur[i] = nil
				}
			}
			st.remove(ev.key)
		} else {
			if old == nil {
				st.order = append(st.order, ev.key)
			}
			st.rows[ev.key] = cur
		}
	} else {
		old = st.rows[DefaultKey]
		cur = row(vals).grow(sc.total())
		st.rows[DefaultKey] = cur
	}
	st.seen = true

	changed := make([]bool, len(cur))
	for i := range cur {
		changed[i] = first || !equalValue(old.get(i+1), cur[i])
	}
	return &ItemUpdate{
		itemName: s.itemName(u.Item),
		itemPos:  u.Item,
		snapshot: snapshot,
		values:   slices.Clone(cur),
		changed:  changed,
		patches:  patches,
		schema:   sc,
	}, ev, nil
}

// applyCommandLocked extracts key and command from vals and normalizes
// the command against the rows already present.
func (s *Subscription) applyCommandLocked(st *itemState, vals []*string, sc schema) (*commandEvent, error) {
	keyPos, cmdPos := s.keyPosLocked(), s.cmdPosLocked()
	if keyPos < 1 || cmdPos < 1 || keyPos > len(vals) || cmdPos > len(vals) {
		return nil, fmt.Errorf("%w: key or command position unknown", ErrMalformedUpdate)
	}
	if vals[keyPos-1] == nil || vals[cmdPos-1] == nil {
		return nil, fmt.Errorf("%w: null key or command", ErrMalformedUpdate)
	}
	key, cmd := *vals[keyPos-1], *vals[cmdPos-1]
	_, exists := st.rows[key]
	switch cmd {
	case CommandAdd, CommandUpdate:
		if exists {
			cmd = CommandUpdate
		} else {
			cmd = CommandAdd
		}
	case CommandDelete:
	default:
		return nil, fmt.Errorf("%w: unknown command %q", ErrMalformedUpdate, cmd)
	}
	return &commandEvent{key: key, command: cmd}, nil
}

func (s *Subscription) keyPosLocked() int {
	if s.keyPos > 0 {
		return s.keyPos
	}
	return slices.Index(s.fields, KeyField) + 1
}

func (s *Subscription) cmdPosLocked() int {
	if s.cmdPos > 0 {
		return s.cmdPos
	}
	return slices.Index(s.fields, CommandField) + 1
}

// applySecondLevel merges the values of a child update into the row of
// key and returns the update to deliver, or nil when the row is gone.
func (s *Subscription) applySecondLevel(item int, key string, child *ItemUpdate) *ItemUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.items1[item]
	if st == nil {
		return nil
	}
	old, ok := st.rows[key]
	if !ok {
		return nil
	}
	if s.secondFields == nil && len(child.values) > s.secondCount {
		s.secondCount = len(child.values)
	}
	sc := s.schemaLocked()
	if sc.count1 == 0 {
		sc.count1 = len(st.prev)
	}
	cur := slices.Clone(old).grow(sc.count1 + len(child.values))
	cur[s.cmdPosLocked()-1] = ptr(CommandUpdate)
	changed := make([]bool, len(cur))
	changed[s.cmdPosLocked()-1] = !equalValue(old.get(s.cmdPosLocked()), cur[s.cmdPosLocked()-1])

	var patches map[int]string
	for i, v := range child.values {
		pos := sc.count1 + i + 1
		cur[pos-1] = v
		changed[pos-1] = child.changed[i]
		if p, ok := child.patches[i+1]; ok {
			if patches == nil {
				patches = make(map[int]string)
			}
			patches[pos] = p
		}
	}
	st.rows[key] = cur

	return &ItemUpdate{
		itemName: s.itemName(item),
		itemPos:  item,
		snapshot: child.snapshot,
		values:   slices.Clone(cur),
		changed:  changed,
		patches:  patches,
		schema:   sc,
	}
}

// endOfSnapshot marks the end of the snapshot of an item.
func (s *Subscription) endOfSnapshot(item int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemStateLocked(item).snapshotDone = true
}

// clearSnapshot drops the rows of an item and returns the children that
// served them.
func (s *Subscription) clearSnapshot(item int) []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.items1[item]; st != nil {
		st.rows = make(map[string]row)
		st.order = nil
	}
	var dropped []*Subscription
	for k, c := range s.children {
		if k.item == item {
			dropped = append(dropped, c)
			delete(s.children, k)
		}
	}
	return dropped
}

func ptr(s string) *string { return &s }
