package profile

import (
	"encoding/json"
	"strconv"
)

// Threshold is one profile slot: either a value in device units or unset.
// Unset slots are written as -1 in profiles.txt and on the wire.
type Threshold struct {
	value int
	set   bool
}

const unsetRaw = -1

// Unset returns the empty slot.
func Unset() Threshold {
	return Threshold{}
}

// Value returns a set slot. Negative values yield Unset.
func Value(v int) Threshold {
	if v < 0 {
		return Threshold{}
	}
	return Threshold{value: v, set: true}
}

// IsSet reports whether the slot holds a value.
func (t Threshold) IsSet() bool {
	return t.set
}

// Get returns the value and whether it is set.
func (t Threshold) Get() (int, bool) {
	return t.value, t.set
}

// Raw is the file and wire form: the value, or -1 when unset.
func (t Threshold) Raw() int {
	if !t.set {
		return unsetRaw
	}
	return t.value
}

func (t Threshold) String() string {
	return strconv.Itoa(t.Raw())
}

func (t Threshold) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Raw())
}

// Merge combines the active and secondary slot for one sensor. A set value
// always wins over an unset one; two set values resolve to the larger.
func Merge(a, b Threshold) Threshold {
	switch {
	case !a.set:
		return b
	case !b.set:
		return a
	case b.value > a.value:
		return b
	default:
		return a
	}
}
