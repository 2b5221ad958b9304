package report

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Composite maps the components of a composite report to their payloads.
// Missing keys are components that failed to load.
type Composite map[Type]json.RawMessage

// Clone returns a deep copy.
func (c Composite) Clone() Composite {
	if c == nil {
		return nil
	}
	out := make(Composite, len(c))
	for id, payload := range c {
		out[id] = bytes.Clone(payload)
	}
	return out
}

// SamePayload reports whether two payloads are structurally equal, ignoring
// formatting and object key order.
func SamePayload(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var left, right any
	if err := json.Unmarshal(a, &left); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &right); err != nil {
		return bytes.Equal(a, b)
	}
	return reflect.DeepEqual(left, right)
}

// SameComposite compares two composites slot by slot.
func SameComposite(a, b Composite) bool {
	if len(a) != len(b) {
		return false
	}
	for id, left := range a {
		right, ok := b[id]
		if !ok || !SamePayload(left, right) {
			return false
		}
	}
	return true
}
