package wire

import (
	"encoding/binary"
	"errors"
)

// ErrTLVOutOfBounds is returned whenever a TLV traversal would read past
// the end of the supplied buffer; this is the hard security invariant
// every TLV walk in this package enforces.
var ErrTLVOutOfBounds = errors.New("wire: tlv element out of bounds")

// TLVHead is the 8-byte type-length header preceding every TLV value.
type TLVHead struct {
	Type uint32
	Len  uint32 // length of the value only, not including this header
}

const TLVHeadSize = 8

func putTLVHead(b []byte, h TLVHead) {
	binary.LittleEndian.PutUint32(b[0:4], h.Type)
	binary.LittleEndian.PutUint32(b[4:8], h.Len)
}

func getTLVHead(b []byte) TLVHead {
	return TLVHead{
		Type: binary.LittleEndian.Uint32(b[0:4]),
		Len:  binary.LittleEndian.Uint32(b[4:8]),
	}
}

// Element is one decoded TLV: its header, a slice view of the value
// bytes (aliasing the original buffer, not copied), and the byte offset
// within the buffer where its header began — kept so SearchNext can
// resume without re-walking from the start.
type Element struct {
	Head   TLVHead
	Value  []byte
	offset int
}

// EncodeTLV appends one TLV-framed value to dst and returns the result.
func EncodeTLV(dst []byte, typ uint32, value []byte) []byte {
	head := make([]byte, TLVHeadSize)
	putTLVHead(head, TLVHead{Type: typ, Len: uint32(len(value))})
	dst = append(dst, head...)
	dst = append(dst, value...)
	return dst
}

// validateBuf rejects a buffer that's too small to hold even one header,
// matching urpc_tlv_buf_validation's null/size guard.
func validateBuf(buf []byte) error {
	if len(buf) < TLVHeadSize {
		return ErrTLVOutOfBounds
	}
	return nil
}

func readAt(buf []byte, offset int) (*Element, int, error) {
	if offset > len(buf)-TLVHeadSize {
		return nil, 0, nil // clean end of buffer, not an error
	}
	head := getTLVHead(buf[offset:])
	remaining := len(buf) - offset - TLVHeadSize
	if int(head.Len) > remaining {
		return nil, 0, ErrTLVOutOfBounds
	}
	valStart := offset + TLVHeadSize
	valEnd := valStart + int(head.Len)
	return &Element{Head: head, Value: buf[valStart:valEnd], offset: offset}, valEnd, nil
}

// Search scans buf for the first TLV whose Type matches want, returning
// ErrTLVOutOfBounds (never panicking) if any element's declared length
// would read past the buffer before a match is found or the buffer is
// exhausted.
func Search(buf []byte, want uint32) (*Element, error) {
	if err := validateBuf(buf); err != nil {
		return nil, err
	}
	offset := 0
	for {
		el, next, err := readAt(buf, offset)
		if err != nil {
			return nil, err
		}
		if el == nil {
			return nil, nil
		}
		if el.Head.Type == want {
			return el, nil
		}
		offset = next
	}
}

// SearchNext returns the TLV element immediately following cur, or nil
// at end-of-buffer.
func SearchNext(buf []byte, cur *Element) (*Element, error) {
	if cur == nil {
		return nil, ErrTLVOutOfBounds
	}
	next := cur.offset + TLVHeadSize + len(cur.Value)
	el, _, err := readAt(buf, next)
	return el, err
}

// LeftLen returns the number of bytes remaining in buf after the end of
// element e (e's own header+value are not counted), used by callers deciding whether
// another SearchNext call is worth making.
func LeftLen(buf []byte, e *Element) int {
	end := e.offset + TLVHeadSize + len(e.Value)
	if end >= len(buf) {
		return 0
	}
	return len(buf) - end
}

// EncodeArrayTLV frames a homogeneous array of values sharing elemType,
// prefixed with a 4-byte count, since TLV framing alone doesn't
// self-describe "how many" elements follow.
func EncodeArrayTLV(elemType uint32, values [][]byte) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(values)))
	for _, v := range values {
		out = EncodeTLV(out, elemType, v)
	}
	return out
}

// DecodeArrayTLV reads the count-prefixed array and returns each
// element's value slice, propagating ErrTLVOutOfBounds if any element's
// declared length overruns the buffer.
func DecodeArrayTLV(buf []byte) ([][]byte, error) {
	if len(buf) < 4 {
		return nil, ErrTLVOutOfBounds
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	rest := buf[4:]
	out := make([][]byte, 0, count)
	offset := 0
	for i := uint32(0); i < count; i++ {
		el, next, err := readAt(rest, offset)
		if err != nil {
			return nil, err
		}
		if el == nil {
			return nil, ErrTLVOutOfBounds
		}
		out = append(out, el.Value)
		offset = next
	}
	return out, nil
}
