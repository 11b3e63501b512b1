package lift

// The controller exposes its height readout as the raw segment drive state of
// the handset's three digit seven segment display, packed into the first two
// registers of the display block.

// Reading is one decoded height sample. Tenths is the displayed value in
// tenths of an inch; Known is false when the display state did not decode.
type Reading struct {
	Known  bool
	Tenths uint16
}

// Inches converts the raw display value to engineering units.
func (r Reading) Inches() float64 {
	return float64(r.Tenths) / 10
}

// segment patterns for the digits 0-9, low seven bits gfedcba; the display
// blanks leading digits, so an undriven digit reads as zero
var segmentDigits = map[uint16]uint16{
	0b0000000: 0,
	0b0111111: 0,
	0b0000110: 1,
	0b1011011: 2,
	0b1001111: 3,
	0b1100110: 4,
	0b1101101: 5,
	0b1111101: 6,
	0b0000111: 7,
	0b1111111: 8,
	0b1101111: 9,
}

// DecodeDisplay interprets the two display registers as three digits: the low
// byte of r0 is the ones digit, bits 8-14 of r0 the tens, the low byte of r1
// the hundreds. Bit 15 of r0 must be set and bit 7 of r0 plus bits 7-15 of r1
// clear, otherwise the display is mid refresh and the sample is unusable. Any
// unrecognized segment pattern also yields an unknown reading.
func DecodeDisplay(r0, r1 uint16) Reading {
	if r0&0x8080 != 0x8000 || r1&0xff80 != 0 {
		return Reading{}
	}
	ones, ok := segmentDigits[r0&0x7f]
	if !ok {
		return Reading{}
	}
	tens, ok := segmentDigits[(r0>>8)&0x7f]
	if !ok {
		return Reading{}
	}
	hundreds, ok := segmentDigits[r1&0x7f]
	if !ok {
		return Reading{}
	}
	return Reading{Known: true, Tenths: ones + 10*tens + 100*hundreds}
}
