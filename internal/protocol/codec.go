// Package protocol implements the Buddha Rev F wire protocol: fixed-width
// little-endian integer codecs, the packed step-record format, and the
// base64 text encoding that every characteristic payload carries across
// the transport. The base64 conversion happens in this package and nowhere
// else; other packages only see decoded values or opaque payload bytes.
package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a payload decodes to a byte
// sequence that violates the fixed record layout.
var ErrMalformedPayload = errors.New("protocol: malformed payload")

// ValidationError reports a value outside its declared domain. It is
// raised before any I/O is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("protocol: invalid %s: %s", e.Field, e.Reason)
}

// Step is one entry of a treatment program: actuation amplitude as a
// percentage and how long to hold it.
type Step struct {
	AmplitudePct int
	DurationMs   int
}

// MaxSteps is the capacity of the fixed-size step-list characteristic.
const MaxSteps = 40

const stepRecordSize = 3 // [amplitude:u8][durLow:u8][durHigh:u8]

// PutU16 writes v little-endian into the first two bytes of b.
func PutU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

// U16 reads a little-endian uint16 from the first two bytes of b.
func U16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// I16 reads a little-endian two's-complement int16 from the first two
// bytes of b.
func I16(b []byte) int16 {
	return int16(U16(b))
}

// wireEncode converts raw payload bytes to their transport form.
func wireEncode(b []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(b))
}

// wireDecode converts a transport payload back to raw bytes. An empty
// payload decodes to nil, which codecs treat as "value absent".
func wireDecode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return raw, nil
}

// EncodeU8 encodes a single unsigned byte value.
func EncodeU8(v uint8) []byte {
	return wireEncode([]byte{v})
}

// DecodeU8 decodes a single unsigned byte value.
func DecodeU8(payload []byte) (uint8, error) {
	raw, err := wireDecode(payload)
	if err != nil {
		return 0, err
	}
	if len(raw) != 1 {
		return 0, fmt.Errorf("%w: want 1 byte, got %d", ErrMalformedPayload, len(raw))
	}
	return raw[0], nil
}

// EncodeU16 encodes an unsigned 16-bit value, little-endian.
func EncodeU16(v uint16) []byte {
	b := make([]byte, 2)
	PutU16(b, v)
	return wireEncode(b)
}

// DecodeU16 decodes an unsigned 16-bit value, little-endian.
func DecodeU16(payload []byte) (uint16, error) {
	raw, err := wireDecode(payload)
	if err != nil {
		return 0, err
	}
	if len(raw) != 2 {
		return 0, fmt.Errorf("%w: want 2 bytes, got %d", ErrMalformedPayload, len(raw))
	}
	return U16(raw), nil
}

// EncodeI16 encodes a signed 16-bit value as its two's-complement
// little-endian representation.
func EncodeI16(v int16) []byte {
	return EncodeU16(uint16(v))
}

// DecodeI16 decodes a signed 16-bit value.
func DecodeI16(payload []byte) (int16, error) {
	v, err := DecodeU16(payload)
	if err != nil {
		return 0, err
	}
	return int16(v), nil
}

// Version is a firmware or hardware revision, packed on the wire as a
// u16 with the major revision in the high byte.
type Version struct {
	Major uint8
	Minor uint8
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// DecodeVersion decodes a version characteristic payload.
func DecodeVersion(payload []byte) (Version, error) {
	v, err := DecodeU16(payload)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: uint8(v >> 8), Minor: uint8(v)}, nil
}

// EncodeSteps validates a step list and packs it into its transport form:
// three bytes per step, then base64. The list must be non-empty, hold at
// most MaxSteps entries, and every step must be in bounds.
func EncodeSteps(steps []Step) ([]byte, error) {
	if len(steps) == 0 {
		return nil, &ValidationError{Field: "stepList", Reason: "step list is empty"}
	}
	if len(steps) > MaxSteps {
		return nil, &ValidationError{
			Field:  "stepList",
			Reason: fmt.Sprintf("%d steps exceeds the device limit of %d", len(steps), MaxSteps),
		}
	}
	raw := make([]byte, 0, len(steps)*stepRecordSize)
	for i, s := range steps {
		if s.AmplitudePct < 0 || s.AmplitudePct > 100 {
			return nil, &ValidationError{
				Field:  "stepList",
				Reason: fmt.Sprintf("step %d amplitude %d%% outside 0..100", i, s.AmplitudePct),
			}
		}
		if s.DurationMs < 1 || s.DurationMs > 65535 {
			return nil, &ValidationError{
				Field:  "stepList",
				Reason: fmt.Sprintf("step %d duration %dms outside 1..65535", i, s.DurationMs),
			}
		}
		raw = append(raw, byte(s.AmplitudePct), byte(s.DurationMs), byte(s.DurationMs>>8))
	}
	return wireEncode(raw), nil
}

// DecodeSteps unpacks a step-list payload. An empty or absent payload is
// an empty list, not an error; any other payload must decode to a
// multiple of the record size.
func DecodeSteps(payload []byte) ([]Step, error) {
	raw, err := wireDecode(payload)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw)%stepRecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of step records", ErrMalformedPayload, len(raw))
	}
	steps := make([]Step, 0, len(raw)/stepRecordSize)
	for i := 0; i < len(raw); i += stepRecordSize {
		steps = append(steps, Step{
			AmplitudePct: int(raw[i]),
			DurationMs:   int(raw[i+1]) | int(raw[i+2])<<8,
		})
	}
	return steps, nil
}
