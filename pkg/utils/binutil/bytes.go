package binutil

// Modbus register data is big endian on the wire.

func ParseUint16BigEndian(buf []byte) uint16 {
	return uint16(buf[0])<<8 + uint16(buf[1])
}

func WriteUint16(buffer []byte, value uint16) {
	buffer[0] = byte(value >> 8)
	buffer[1] = byte(value)
}

// WordsToBytes lays out a register block for transmission.
func WordsToBytes(words []uint16) []byte {
	buf := make([]byte, 2*len(words))
	for i, w := range words {
		WriteUint16(buf[2*i:], w)
	}
	return buf
}

// BytesToWords parses a register block from a response. The byte count must be
// even; Modbus register payloads always are.
func BytesToWords(buf []byte) []uint16 {
	words := make([]uint16, len(buf)/2)
	for i := range words {
		words[i] = ParseUint16BigEndian(buf[2*i:])
	}
	return words
}
