package tlcp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ValueKind tells how a field value in an update relates to the
// previous value of the same field.
type ValueKind uint8

const (
	// ValueUnchanged keeps the previous value.
	ValueUnchanged ValueKind = iota
	// ValueNull sets the field to null.
	ValueNull
	// ValueString replaces the value with Text.
	ValueString
	// ValueJSONPatch carries an RFC 6902 patch to apply to the previous
	// value, which must be a JSON document.
	ValueJSONPatch
	// ValueTextDiff carries a text diff to apply to the previous value.
	ValueTextDiff
)

// String returns the kind name.
func (k ValueKind) String() string {
	switch k {
	case ValueUnchanged:
		return "UNCHANGED"
	case ValueNull:
		return "NULL"
	case ValueString:
		return "STRING"
	case ValueJSONPatch:
		return "JSON_PATCH"
	case ValueTextDiff:
		return "TEXT_DIFF"
	default:
		return "UNKNOWN"
	}
}

// FieldValue is one decoded field of an update.
type FieldValue struct {
	Kind ValueKind
	// Text is the literal value, patch or diff, percent-decoded.
	Text string
}

// DecodeValues parses the value section of an update line. Runs of
// unchanged fields ("^N") are expanded.
func DecodeValues(s string) ([]FieldValue, error) {
	raw := strings.Split(s, "|")
	values := make([]FieldValue, 0, len(raw))
	for _, v := range raw {
		switch {
		case v == "":
			values = append(values, FieldValue{Kind: ValueUnchanged})
		case v == "#":
			values = append(values, FieldValue{Kind: ValueNull})
		case v == "$":
			values = append(values, FieldValue{Kind: ValueString})
		case strings.HasPrefix(v, "^P"):
			text, err := url.PathUnescape(v[2:])
			if err != nil {
				return nil, err
			}
			values = append(values, FieldValue{Kind: ValueJSONPatch, Text: text})
		case strings.HasPrefix(v, "^T"):
			text, err := url.PathUnescape(v[2:])
			if err != nil {
				return nil, err
			}
			values = append(values, FieldValue{Kind: ValueTextDiff, Text: text})
		case v[0] == '^':
			n, err := strconv.Atoi(v[1:])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("bad unchanged count %q", v)
			}
			for i := 0; i < n; i++ {
				values = append(values, FieldValue{Kind: ValueUnchanged})
			}
		default:
			text, err := url.PathUnescape(v)
			if err != nil {
				return nil, err
			}
			values = append(values, FieldValue{Kind: ValueString, Text: text})
		}
	}
	return values, nil
}

// EncodeValues renders values as the value section of an update line.
// Consecutive unchanged fields are compressed. It is the inverse of
// DecodeValues and is used by test servers.
func EncodeValues(values []FieldValue) string {
	parts := make([]string, 0, len(values))
	for i := 0; i < len(values); i++ {
		v := values[i]
		switch v.Kind {
		case ValueUnchanged:
			run := 1
			for i+run < len(values) && values[i+run].Kind == ValueUnchanged {
				run++
			}
			if run > 1 {
				parts = append(parts, "^"+strconv.Itoa(run))
				i += run - 1
			} else {
				parts = append(parts, "")
			}
		case ValueNull:
			parts = append(parts, "#")
		case ValueJSONPatch:
			parts = append(parts, "^P"+escapeValue(v.Text))
		case ValueTextDiff:
			parts = append(parts, "^T"+escapeValue(v.Text))
		default:
			if v.Text == "" {
				parts = append(parts, "$")
			} else {
				parts = append(parts, escapeValue(v.Text))
			}
		}
	}
	return strings.Join(parts, "|")
}

// escapeValue percent-encodes the characters that carry meaning inside
// an update line.
func escapeValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '%' || c == '|' || c == ',' || c == '\r' || c == '\n' || c == '+':
			fmt.Fprintf(&b, "%%%02X", c)
		case i == 0 && (c == '#' || c == '$' || c == '^'):
			fmt.Fprintf(&b, "%%%02X", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
