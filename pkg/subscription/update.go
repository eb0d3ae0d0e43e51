package subscription

import (
	"fmt"
)

// ItemUpdate is one update of an item as delivered to listeners. It is
// immutable and may be retained.
type ItemUpdate struct {
	itemName string
	itemPos  int
	snapshot bool
	values   []*string
	changed  []bool
	patches  map[int]string
	schema   schema
}

// ItemName returns the item name, or "" when the subscription uses a
// group.
func (u *ItemUpdate) ItemName() string { return u.itemName }

// ItemPos returns the 1-based item position.
func (u *ItemUpdate) ItemPos() int { return u.itemPos }

// IsSnapshot reports whether the update belongs to the initial snapshot.
func (u *ItemUpdate) IsSnapshot() bool { return u.snapshot }

// Value returns the value of a field; nil means null.
func (u *ItemUpdate) Value(field Ref) (*string, error) {
	pos, err := u.resolve(field)
	if err != nil {
		return nil, err
	}
	return row(u.values).get(pos), nil
}

// IsValueChanged reports whether the field changed with this update.
func (u *ItemUpdate) IsValueChanged(field Ref) (bool, error) {
	pos, err := u.resolve(field)
	if err != nil {
		return false, err
	}
	return pos <= len(u.changed) && u.changed[pos-1], nil
}

// ValueAsJSONPatchIfAvailable returns the JSON Patch the server sent for
// the field, or nil when the value was sent in full.
func (u *ItemUpdate) ValueAsJSONPatchIfAvailable(field Ref) (*string, error) {
	pos, err := u.resolve(field)
	if err != nil {
		return nil, err
	}
	if p, ok := u.patches[pos]; ok {
		return &p, nil
	}
	return nil, nil
}

// ChangedFields returns the changed fields by name. It fails when field
// names are not known.
func (u *ItemUpdate) ChangedFields() (map[string]*string, error) {
	return u.byName(true)
}

// ChangedFieldsByPosition returns the changed fields by position.
func (u *ItemUpdate) ChangedFieldsByPosition() map[int]*string {
	return u.byPosition(true)
}

// Fields returns every field by name. It fails when field names are not
// known.
func (u *ItemUpdate) Fields() (map[string]*string, error) {
	return u.byName(false)
}

// FieldsByPosition returns every field by position.
func (u *ItemUpdate) FieldsByPosition() map[int]*string {
	return u.byPosition(false)
}

func (u *ItemUpdate) resolve(field Ref) (int, error) {
	sc := u.schema
	if sc.total() < len(u.values) {
		sc.count2 = len(u.values) - sc.count1
	}
	return sc.resolve(field)
}

func (u *ItemUpdate) byName(onlyChanged bool) (map[string]*string, error) {
	if !u.schema.hasNames() {
		return nil, fmt.Errorf("%w: field names are not known for a schema", ErrIllegalState)
	}
	m := make(map[string]*string)
	for i, v := range u.values {
		if onlyChanged && !u.changed[i] {
			continue
		}
		if name := u.schema.name(i + 1); name != "" {
			m[name] = v
		}
	}
	return m, nil
}

func (u *ItemUpdate) byPosition(onlyChanged bool) map[int]*string {
	m := make(map[int]*string)
	for i, v := range u.values {
		if onlyChanged && !u.changed[i] {
			continue
		}
		m[i+1] = v
	}
	return m
}
