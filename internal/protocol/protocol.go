// Package protocol encodes and decodes the line protocol spoken by the pad firmware.
//
// Inbound frames (newline already stripped):
//
//	v<int> <int> ...   sensor readings for the port
//	t<int> <int> ...   thresholds currently held on the device
//
// Outbound frames:
//
//	v\n                 poll readings
//	t\n                 query thresholds
//	<index><value>\n    set one threshold, both in decimal
//	c<pin><button>...\n configure every sensor on the port
package protocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
)

const (
	TagValues     byte = 'v'
	TagThresholds byte = 't'
	TagConfig     byte = 'c'

	// NeverTrigger is sent in place of an unset or negative threshold.
	NeverTrigger = 1024

	configDigits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// Kind identifies a decoded inbound frame.
type Kind int

const (
	KindValues Kind = iota + 1
	KindThresholds
)

func (k Kind) String() string {
	switch k {
	case KindValues:
		return "values"
	case KindThresholds:
		return "thresholds"
	default:
		return "unknown"
	}
}

// Event is a decoded inbound frame.
type Event struct {
	Kind Kind
	Ints []int
}

// Pair is the two readings reported per sensor.
type Pair [2]int

// Decode parses one frame. Errors are of kind ContractInvalid.
func Decode(frame []byte) (Event, error) {
	if len(frame) == 0 {
		return Event{}, malformed("empty frame", nil)
	}

	var kind Kind
	switch frame[0] {
	case TagValues:
		kind = KindValues
	case TagThresholds:
		kind = KindThresholds
	default:
		return Event{}, malformed(fmt.Sprintf("unknown message type %q", frame[0]), nil)
	}

	fields := bytes.Fields(frame[1:])
	if len(fields) == 0 {
		return Event{}, malformed(fmt.Sprintf("%s frame without payload", kind), nil)
	}
	ints := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(string(f))
		if err != nil {
			return Event{}, malformed(fmt.Sprintf("%s frame field %d", kind, i), err)
		}
		ints[i] = n
	}
	return Event{Kind: kind, Ints: ints}, nil
}

// PairValues splits a values payload into one Pair per sensor. Firmware
// reporting a single axis sends exactly one value per sensor; each value
// is then duplicated into both halves of the pair.
func PairValues(values []int, sensors int) ([]Pair, error) {
	if sensors > 0 && len(values) == sensors {
		doubled := make([]int, 0, 2*len(values))
		for _, v := range values {
			doubled = append(doubled, v, v)
		}
		values = doubled
	}
	if len(values) != 2*sensors {
		return nil, malformed(fmt.Sprintf("got %d values for %d sensors", len(values), sensors), nil)
	}

	pairs := make([]Pair, sensors)
	for i := range pairs {
		pairs[i] = Pair{values[2*i], values[2*i+1]}
	}
	return pairs, nil
}

// EncodePoll asks the device for a values frame.
func EncodePoll() []byte {
	return []byte{TagValues, '\n'}
}

// EncodeThresholdQuery asks the device for a thresholds frame.
func EncodeThresholdQuery() []byte {
	return []byte{TagThresholds, '\n'}
}

// EncodeThreshold sets the threshold of the sensor at port-local index.
// The firmware splits the number itself, so index and value are simply
// concatenated.
func EncodeThreshold(index, threshold int) []byte {
	if threshold < 0 {
		threshold = NeverTrigger
	}
	b := strconv.AppendInt(nil, int64(index), 10)
	b = strconv.AppendInt(b, int64(threshold), 10)
	return append(b, '\n')
}

// ConfigEntry is the pin and joystick button of one sensor.
type ConfigEntry struct {
	Pin    int
	Button int
}

// EncodeConfig builds the configuration frame for a port, entries in index order.
func EncodeConfig(entries []ConfigEntry) ([]byte, error) {
	b := make([]byte, 0, 2+2*len(entries))
	b = append(b, TagConfig)
	for i, e := range entries {
		pin, err := configDigit(e.Pin)
		if err != nil {
			return nil, errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("sensor %d pin", i), err)
		}
		button, err := configDigit(e.Button)
		if err != nil {
			return nil, errors.NewCommonEdgeX(errors.KindContractInvalid, fmt.Sprintf("sensor %d button", i), err)
		}
		b = append(b, pin, button)
	}
	return append(b, '\n'), nil
}

func configDigit(n int) (byte, error) {
	if n < 0 || n >= len(configDigits) {
		return 0, fmt.Errorf("value %d out of range 0-%d", n, len(configDigits)-1)
	}
	return configDigits[n], nil
}

func malformed(msg string, err error) error {
	return errors.NewCommonEdgeX(errors.KindContractInvalid, "malformed frame: "+msg, err)
}
