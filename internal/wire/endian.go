package wire

import "fmt"

// PutUint24 writes the low 24 bits of v into b[:3], little-endian.
func PutUint24(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

// GetUint24 reads a little-endian 24-bit value from b[:3].
func GetUint24(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// PutUint48 writes the low 48 bits of v into b[:6], little-endian.
func PutUint48(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
}

// GetUint48 reads a little-endian 48-bit value from b[:6].
func GetUint48(b []byte) uint64 {
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 |
		uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40
}

func errShort(what string, need, got int) error {
	return fmt.Errorf("wire: %s needs %d bytes, got %d", what, need, got)
}
