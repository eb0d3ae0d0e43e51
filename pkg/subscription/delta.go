package subscription

import (
	"errors"
	"fmt"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

// ErrMalformedUpdate reports an update that cannot be applied to the
// current item state.
var ErrMalformedUpdate = errors.New("malformed update")

// decodeDeltas computes the new field values of an item from its previous
// values. It also returns the JSON patches carried by the update, keyed
// by 1-based field position.
func decodeDeltas(prev []*string, deltas []tlcp.FieldValue) ([]*string, map[int]string, error) {
	vals := make([]*string, len(deltas))
	var patches map[int]string
	for i, d := range deltas {
		var old *string
		if i < len(prev) {
			old = prev[i]
		}
		switch d.Kind {
		case tlcp.ValueUnchanged:
			vals[i] = old
		case tlcp.ValueNull:
		case tlcp.ValueString:
			text := d.Text
			vals[i] = &text
		case tlcp.ValueJSONPatch:
			if old == nil {
				return nil, nil, fmt.Errorf("%w: JSON patch on null field %d", ErrMalformedUpdate, i+1)
			}
			out, err := applyJSONPatch(*old, d.Text)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: field %d: %v", ErrMalformedUpdate, i+1, err)
			}
			vals[i] = &out
			if patches == nil {
				patches = make(map[int]string)
			}
			patches[i+1] = d.Text
		case tlcp.ValueTextDiff:
			if old == nil {
				return nil, nil, fmt.Errorf("%w: text diff on null field %d", ErrMalformedUpdate, i+1)
			}
			out, err := applyTextDiff(*old, d.Text)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: field %d: %v", ErrMalformedUpdate, i+1, err)
			}
			vals[i] = &out
		default:
			return nil, nil, fmt.Errorf("%w: unknown value kind %v", ErrMalformedUpdate, d.Kind)
		}
	}
	return vals, patches, nil
}

func applyJSONPatch(doc, patch string) (string, error) {
	p, err := jsonpatch.DecodePatch([]byte(patch))
	if err != nil {
		return "", err
	}
	out, err := p.Apply([]byte(doc))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// applyTextDiff applies a TLCP-diff to base. A diff is a sequence of
// counts for alternating copy, add and del operations; add is followed
// by the characters to insert. Each count is a base-26 number whose
// non-final digits are upper-case and whose final digit is lower-case.
// Counts are in characters, not bytes.
func applyTextDiff(base, diff string) (string, error) {
	src := []rune(base)
	d := []rune(diff)
	var out strings.Builder
	pos, i := 0, 0

	for op := 0; i < len(d); op = (op + 1) % 3 {
		n, next, err := readDiffCount(d, i)
		if err != nil {
			return "", err
		}
		i = next
		switch op {
		case 0: // copy
			if pos+n > len(src) {
				return "", fmt.Errorf("copy of %d past end of value", n)
			}
			out.WriteString(string(src[pos : pos+n]))
			pos += n
		case 1: // add
			if i+n > len(d) {
				return "", fmt.Errorf("add of %d past end of diff", n)
			}
			out.WriteString(string(d[i : i+n]))
			i += n
		case 2: // del
			if pos+n > len(src) {
				return "", fmt.Errorf("delete of %d past end of value", n)
			}
			pos += n
		}
	}
	return out.String(), nil
}

func readDiffCount(d []rune, i int) (int, int, error) {
	n := 0
	for ; i < len(d); i++ {
		c := d[i]
		switch {
		case c >= 'A' && c <= 'Z':
			n = n*26 + int(c-'A')
		case c >= 'a' && c <= 'z':
			return n*26 + int(c-'a'), i + 1, nil
		default:
			return 0, 0, fmt.Errorf("bad diff digit %q", c)
		}
	}
	return 0, 0, errors.New("truncated diff count")
}
