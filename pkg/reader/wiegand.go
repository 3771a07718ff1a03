package reader

import (
	"errors"
	"fmt"
	"strings"
)

// Wiegand26Bits is the frame length of the 26-bit Wiegand format.
const Wiegand26Bits = 26

// Wiegand errors.
var (
	ErrWiegandLength = errors.New("reader: wiegand frame length")
	ErrWiegandParity = errors.New("reader: wiegand parity")
	ErrWiegandBits   = errors.New("reader: wiegand frame must be 0 and 1 only")
)

// WiegandFrame is a decoded Wiegand read.
type WiegandFrame struct {
	// Bits as received, first bit first.
	Bits []bool

	// Value is the 24-bit payload between the parity bits.
	Value uint64

	// LengthOK is set for 26-bit frames.
	LengthOK bool

	// ParityOK is set when the leading bit gives even parity over bits
	// 0-12 and the trailing bit gives odd parity over bits 13-25.
	ParityOK bool
}

// Valid reports whether the frame can be used.
func (f WiegandFrame) Valid() bool {
	return f.LengthOK && f.ParityOK
}

// Err returns why the frame is unusable, or nil.
func (f WiegandFrame) Err() error {
	switch {
	case !f.LengthOK:
		return fmt.Errorf("%w: got %d bits", ErrWiegandLength, len(f.Bits))
	case !f.ParityOK:
		return ErrWiegandParity
	default:
		return nil
	}
}

// DecodeWiegand26 decodes a raw frame. Value is only set for 26-bit frames.
func DecodeWiegand26(bits []bool) WiegandFrame {
	f := WiegandFrame{Bits: append([]bool(nil), bits...)}
	if len(bits) != Wiegand26Bits {
		return f
	}
	f.LengthOK = true

	var even, odd bool
	for i := 0; i < 13; i++ {
		even = even != bits[i]
		odd = odd != bits[i+13]
	}
	f.ParityOK = !even && odd

	for i := 1; i <= 24; i++ {
		f.Value <<= 1
		if bits[i] {
			f.Value |= 1
		}
	}
	return f
}

// ParseWiegandLine decodes a line of '0' and '1' characters.
func ParseWiegandLine(line string) (WiegandFrame, error) {
	line = strings.TrimSpace(line)
	bits := make([]bool, 0, len(line))
	for _, c := range line {
		switch c {
		case '0':
			bits = append(bits, false)
		case '1':
			bits = append(bits, true)
		default:
			return WiegandFrame{}, ErrWiegandBits
		}
	}
	f := DecodeWiegand26(bits)
	return f, f.Err()
}

// EncodeWiegand26 builds a 26-bit frame for a 24-bit value with correct
// parity.
func EncodeWiegand26(value uint64) []bool {
	bits := make([]bool, Wiegand26Bits)
	for i := 24; i >= 1; i-- {
		bits[i] = value&1 == 1
		value >>= 1
	}

	var even, odd bool
	for i := 1; i < 13; i++ {
		even = even != bits[i]
	}
	for i := 13; i < 25; i++ {
		odd = odd != bits[i]
	}
	bits[0] = even
	bits[25] = !odd
	return bits
}
