package subscription

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/lightstreamer/ls-go-client/pkg/dispatch"
)

// Subscription errors.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIllegalState    = errors.New("illegal state")
)

// Mode is the delivery mode of a subscription.
type Mode string

// Subscription modes.
const (
	ModeMerge    Mode = "MERGE"
	ModeDistinct Mode = "DISTINCT"
	ModeRaw      Mode = "RAW"
	ModeCommand  Mode = "COMMAND"
)

// ParseMode parses a mode token, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToUpper(s)); m {
	case ModeMerge, ModeDistinct, ModeRaw, ModeCommand:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidArgument, s)
}

// Special tokens of the requested parameters.
const (
	Unlimited  = "unlimited"
	Unfiltered = "unfiltered"
	Yes        = "yes"
	No         = "no"
)

// Command field names and values.
const (
	KeyField     = "key"
	CommandField = "command"

	CommandAdd    = "ADD"
	CommandUpdate = "UPDATE"
	CommandDelete = "DELETE"
)

// DefaultKey is the row key of items outside COMMAND mode.
const DefaultKey = "default"

// frequencyHook forwards max frequency changes of an active subscription.
type frequencyHook func(sub *Subscription, frequency string)

// Subscription describes a set of items and fields to receive updates for.
// It is safe for concurrent use.
type Subscription struct {
	mu sync.RWMutex

	mode         Mode
	items        []string
	group        string
	fields       []string
	schema       string
	dataAdapter  string
	selector     string
	bufferSize   string
	snapshot     string
	maxFrequency string

	secondAdapter string
	secondFields  []string
	secondSchema  string

	listeners []Listener
	post      func(func())

	active     bool
	subscribed bool
	failed     bool
	onFreq     frequencyHook

	// Session state, reset by reset().
	subID      int
	itemCount  int
	fieldCount int
	keyPos     int
	cmdPos     int
	realFreq   string
	items1     map[int]*itemState

	// Two-level state.
	parent     *Subscription
	parentItem int
	parentKey  string
	children   map[childKey]*Subscription
	// secondCount is the second-level field count learned from a child
	// when a schema is used.
	secondCount int
	ownFreq     string
}

type childKey struct {
	item int
	key  string
}

// New creates an inactive subscription. items and fields may be nil, in
// which case a group and a schema must be set before subscribing.
func New(mode Mode, items, fields []string) (*Subscription, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	s := &Subscription{mode: mode}
	if mode != ModeRaw {
		s.snapshot = Yes
	}
	if items != nil {
		if err := validateNames(items, "item"); err != nil {
			return nil, err
		}
		s.items = slices.Clone(items)
	}
	if fields != nil {
		if err := s.validateFields(fields); err != nil {
			return nil, err
		}
		s.fields = slices.Clone(fields)
	}
	return s, nil
}

func validateNames(names []string, what string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: %s list is empty", ErrInvalidArgument, what)
	}
	for _, n := range names {
		if err := validateName(n, what); err != nil {
			return err
		}
	}
	return nil
}

func validateName(n, what string) error {
	if n == "" {
		return fmt.Errorf("%w: %s name is empty", ErrInvalidArgument, what)
	}
	if strings.ContainsAny(n, " \t\r\n") {
		return fmt.Errorf("%w: %s name %q contains spaces", ErrInvalidArgument, what, n)
	}
	if _, err := strconv.Atoi(n); err == nil {
		return fmt.Errorf("%w: %s name %q is a number", ErrInvalidArgument, what, n)
	}
	return nil
}

func (s *Subscription) validateFields(fields []string) error {
	if err := validateNames(fields, "field"); err != nil {
		return err
	}
	if s.mode == ModeCommand {
		if !slices.Contains(fields, KeyField) {
			return fmt.Errorf("%w: COMMAND field list must contain %q", ErrInvalidArgument, KeyField)
		}
		if !slices.Contains(fields, CommandField) {
			return fmt.Errorf("%w: COMMAND field list must contain %q", ErrInvalidArgument, CommandField)
		}
	}
	return nil
}

// checkInactive must be called with mu held.
func (s *Subscription) checkInactive() error {
	if s.active {
		return fmt.Errorf("%w: subscription is active", ErrIllegalState)
	}
	return nil
}

// Mode returns the subscription mode.
func (s *Subscription) Mode() Mode { return s.mode }

// IsActive reports whether the subscription has been handed to a client
// and not yet removed.
func (s *Subscription) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// IsSubscribed reports whether the server has confirmed the subscription
// on the current session.
func (s *Subscription) IsSubscribed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribed
}

// Items returns the item names, or nil when a group is used.
func (s *Subscription) Items() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// SetItems sets the item names, replacing any group.
func (s *Subscription) SetItems(items []string) error {
	if err := validateNames(items, "item"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.items = slices.Clone(items)
	s.group = ""
	return nil
}

// ItemGroup returns the item group, or "" when item names are used.
func (s *Subscription) ItemGroup() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.group
}

// SetItemGroup sets the item group, replacing any item names.
func (s *Subscription) SetItemGroup(group string) error {
	if group == "" {
		return fmt.Errorf("%w: empty item group", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.group = group
	s.items = nil
	return nil
}

// Fields returns the field names, or nil when a schema is used.
func (s *Subscription) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fields)
}

// SetFields sets the field names, replacing any schema.
func (s *Subscription) SetFields(fields []string) error {
	if err := s.validateFields(fields); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.fields = slices.Clone(fields)
	s.schema = ""
	return nil
}

// FieldSchema returns the field schema, or "" when field names are used.
func (s *Subscription) FieldSchema() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schema
}

// SetFieldSchema sets the field schema, replacing any field names.
func (s *Subscription) SetFieldSchema(schema string) error {
	if schema == "" {
		return fmt.Errorf("%w: empty field schema", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.schema = schema
	s.fields = nil
	return nil
}

// DataAdapter returns the data adapter name; "" selects the default.
func (s *Subscription) DataAdapter() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataAdapter
}

// SetDataAdapter sets the data adapter name.
func (s *Subscription) SetDataAdapter(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.dataAdapter = name
	return nil
}

// Selector returns the selector name.
func (s *Subscription) Selector() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selector
}

// SetSelector sets the selector name.
func (s *Subscription) SetSelector(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.selector = name
	return nil
}

// RequestedBufferSize returns "unlimited", a positive number, or "" for
// the server default.
func (s *Subscription) RequestedBufferSize() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufferSize
}

// SetRequestedBufferSize sets the buffer size. It accepts "unlimited", a
// positive integer, or "" for the server default.
func (s *Subscription) SetRequestedBufferSize(size string) error {
	v, err := normalizeBufferSize(size)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.bufferSize = v
	return nil
}

func normalizeBufferSize(size string) (string, error) {
	if size == "" || strings.EqualFold(size, Unlimited) {
		return strings.ToLower(size), nil
	}
	n, err := strconv.Atoi(size)
	if err != nil || n <= 0 {
		return "", fmt.Errorf("%w: buffer size %q", ErrInvalidArgument, size)
	}
	return strconv.Itoa(n), nil
}

// RequestedSnapshot returns "yes", "no", a positive length, or "" for the
// server default.
func (s *Subscription) RequestedSnapshot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// SetRequestedSnapshot sets the snapshot request. A length is only valid
// in DISTINCT mode and RAW mode accepts no snapshot at all.
func (s *Subscription) SetRequestedSnapshot(snapshot string) error {
	v := strings.ToLower(snapshot)
	switch v {
	case "", No:
	case Yes:
		if s.mode == ModeRaw {
			return fmt.Errorf("%w: snapshot not available in RAW mode", ErrIllegalState)
		}
	default:
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: snapshot %q", ErrInvalidArgument, snapshot)
		}
		if s.mode != ModeDistinct {
			return fmt.Errorf("%w: snapshot length only available in DISTINCT mode", ErrIllegalState)
		}
		v = strconv.Itoa(n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.snapshot = v
	return nil
}

// RequestedMaxFrequency returns "unlimited", "unfiltered", a positive
// decimal number of updates per second, or "" for the server default.
func (s *Subscription) RequestedMaxFrequency() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxFrequency
}

// SetRequestedMaxFrequency sets the max frequency. On an active
// subscription the change is sent to the server, except that switching
// to or from "unfiltered" is refused.
func (s *Subscription) SetRequestedMaxFrequency(freq string) error {
	v, err := normalizeFrequency(freq)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.active && (v == Unfiltered) != (s.maxFrequency == Unfiltered) {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot switch to or from unfiltered while active", ErrIllegalState)
	}
	if s.active && v == "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot reset the frequency while active", ErrIllegalState)
	}
	s.maxFrequency = v
	hook := s.onFreq
	active := s.active
	s.mu.Unlock()

	if active && hook != nil {
		hook(s, v)
	}
	return nil
}

func normalizeFrequency(freq string) (string, error) {
	v := strings.ToLower(freq)
	switch v {
	case "", Unlimited, Unfiltered:
		return v, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return "", fmt.Errorf("%w: max frequency %q", ErrInvalidArgument, freq)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// CommandSecondLevelDataAdapter returns the data adapter of second-level
// items.
func (s *Subscription) CommandSecondLevelDataAdapter() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secondAdapter
}

// SetCommandSecondLevelDataAdapter sets the data adapter of second-level
// items. Only COMMAND subscriptions have a second level.
func (s *Subscription) SetCommandSecondLevelDataAdapter(name string) error {
	if s.mode != ModeCommand {
		return fmt.Errorf("%w: second level requires COMMAND mode", ErrIllegalState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.secondAdapter = name
	return nil
}

// CommandSecondLevelFields returns the second-level field names.
func (s *Subscription) CommandSecondLevelFields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.secondFields)
}

// SetCommandSecondLevelFields enables the second level with a field list.
// nil disables it.
func (s *Subscription) SetCommandSecondLevelFields(fields []string) error {
	if s.mode != ModeCommand {
		return fmt.Errorf("%w: second level requires COMMAND mode", ErrIllegalState)
	}
	if fields != nil {
		if err := validateNames(fields, "field"); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.secondFields = slices.Clone(fields)
	s.secondSchema = ""
	return nil
}

// CommandSecondLevelFieldSchema returns the second-level field schema.
func (s *Subscription) CommandSecondLevelFieldSchema() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secondSchema
}

// SetCommandSecondLevelFieldSchema enables the second level with a schema.
// "" disables it.
func (s *Subscription) SetCommandSecondLevelFieldSchema(schema string) error {
	if s.mode != ModeCommand {
		return fmt.Errorf("%w: second level requires COMMAND mode", ErrIllegalState)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInactive(); err != nil {
		return err
	}
	s.secondSchema = schema
	s.secondFields = nil
	return nil
}

// hasSecondLevel must be called with mu held.
func (s *Subscription) hasSecondLevel() bool {
	return s.secondFields != nil || s.secondSchema != ""
}

// KeyPosition returns the 1-based position of the key field of a COMMAND
// subscription, or 0 when it is not known yet.
func (s *Subscription) KeyPosition() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.keyPos > 0 {
		return s.keyPos
	}
	return slices.Index(s.fields, KeyField) + 1
}

// CommandPosition returns the 1-based position of the command field of a
// COMMAND subscription, or 0 when it is not known yet.
func (s *Subscription) CommandPosition() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmdPos > 0 {
		return s.cmdPos
	}
	return slices.Index(s.fields, CommandField) + 1
}

// AddListener registers l. OnListenStart is its first notification.
func (s *Subscription) AddListener(l Listener) {
	s.mu.Lock()
	if slices.Contains(s.listeners, l) {
		s.mu.Unlock()
		return
	}
	s.listeners = append(s.listeners, l)
	post := s.poster()
	s.mu.Unlock()
	post(l.OnListenStart)
}

// RemoveListener unregisters l. OnListenEnd is its last notification.
func (s *Subscription) RemoveListener(l Listener) {
	s.mu.Lock()
	i := slices.Index(s.listeners, l)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.listeners = slices.Delete(s.listeners, i, i+1)
	post := s.poster()
	s.mu.Unlock()
	post(l.OnListenEnd)
}

// Listeners returns the registered listeners in registration order.
func (s *Subscription) Listeners() []Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.listeners)
}

// poster must be called with mu held.
func (s *Subscription) poster() func(func()) {
	if s.post != nil {
		return s.post
	}
	return func(f func()) { dispatch.Default().Post(f) }
}

// fire delivers fn to every listener registered at the time of the call.
// It must be called without mu held.
func (s *Subscription) fire(fn func(Listener)) {
	s.mu.RLock()
	listeners := slices.Clone(s.listeners)
	post := s.poster()
	s.mu.RUnlock()
	if len(listeners) == 0 {
		return
	}
	post(func() {
		for _, l := range listeners {
			fn(l)
		}
	})
}

// Value returns the latest value of a field of an item in MERGE, DISTINCT
// or RAW mode. A nil value means null or not yet received.
func (s *Subscription) Value(item, field Ref) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode == ModeCommand {
		return nil, fmt.Errorf("%w: use CommandValue in COMMAND mode", ErrIllegalState)
	}
	itemPos, fieldPos, err := s.resolveLocked(item, field)
	if err != nil {
		return nil, err
	}
	st := s.items1[itemPos]
	if st == nil {
		return nil, nil
	}
	return st.rows[DefaultKey].get(fieldPos), nil
}

// CommandValue returns the latest value of a field for a key of an item
// in COMMAND mode.
func (s *Subscription) CommandValue(item Ref, key string, field Ref) (*string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.mode != ModeCommand {
		return nil, fmt.Errorf("%w: CommandValue requires COMMAND mode", ErrIllegalState)
	}
	itemPos, fieldPos, err := s.resolveLocked(item, field)
	if err != nil {
		return nil, err
	}
	st := s.items1[itemPos]
	if st == nil {
		return nil, nil
	}
	return st.rows[key].get(fieldPos), nil
}

// Keys returns the keys currently present for a COMMAND item, in
// insertion order.
func (s *Subscription) Keys(item Ref) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	itemPos, err := item.resolve(s.items, s.itemCountLocked())
	if err != nil {
		return nil, err
	}
	st := s.items1[itemPos]
	if st == nil {
		return nil, nil
	}
	return slices.Clone(st.order), nil
}

func (s *Subscription) resolveLocked(item, field Ref) (int, int, error) {
	itemPos, err := item.resolve(s.items, s.itemCountLocked())
	if err != nil {
		return 0, 0, err
	}
	fieldPos, err := s.schemaLocked().resolve(field)
	if err != nil {
		return 0, 0, err
	}
	return itemPos, fieldPos, nil
}

func (s *Subscription) itemCountLocked() int {
	if s.items != nil {
		return len(s.items)
	}
	return s.itemCount
}

func (s *Subscription) fieldCountLocked() int {
	if s.fields != nil {
		return len(s.fields)
	}
	return s.fieldCount
}

// itemName returns the name of an item, or "" when a group is used.
func (s *Subscription) itemName(pos int) string {
	if pos >= 1 && pos <= len(s.items) {
		return s.items[pos-1]
	}
	return ""
}

// RealMaxFrequency returns the frequency granted by the server: a
// number, "unlimited", or "" when not known.
func (s *Subscription) RealMaxFrequency() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realFreq
}
