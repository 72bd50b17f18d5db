package wire

import (
	"encoding/binary"

	"github.com/ehrlich-b/urpc/internal/cursor"
)

// CDCMsgType is the fixed type byte identifying a CDC message on the wire.
const CDCMsgType = 0xFE

// CDCMessage is the 44-byte connection-data-control message exchanged
// between CDC state machine peers to carry cursor/credit updates and
// connection-state flag changes.
type CDCMessage struct {
	Len            uint8 // always 44
	Seqno          uint16
	Token          uint32
	Prod, Cons     cursor.Cursor
	ProdFlags      uint8
	ConnStateFlags uint8
	Credits        uint8
	Reserved       [17]byte
}

const CDCMessageSize = 44

// PutCDCMessage encodes m into b[:44] in network byte order (big-endian),
// matching the wire convention used by the rest of the CDC header.
func PutCDCMessage(b []byte, m *CDCMessage) {
	b[0] = CDCMsgType
	b[1] = 44
	binary.BigEndian.PutUint16(b[2:4], m.Seqno)
	binary.BigEndian.PutUint32(b[4:8], m.Token)
	binary.BigEndian.PutUint32(b[8:12], m.Prod.Count)
	binary.BigEndian.PutUint16(b[12:14], m.Prod.Wrap)
	binary.BigEndian.PutUint32(b[16:20], m.Cons.Count)
	binary.BigEndian.PutUint16(b[20:22], m.Cons.Wrap)
	b[24] = m.ProdFlags
	b[25] = m.ConnStateFlags
	b[26] = m.Credits
	copy(b[27:44], m.Reserved[:])
}

// GetCDCMessage decodes a CDCMessage from b.
func GetCDCMessage(b []byte) *CDCMessage {
	m := &CDCMessage{
		Len:   b[1],
		Seqno: binary.BigEndian.Uint16(b[2:4]),
		Token: binary.BigEndian.Uint32(b[4:8]),
		Prod: cursor.Cursor{
			Count: binary.BigEndian.Uint32(b[8:12]),
			Wrap:  binary.BigEndian.Uint16(b[12:14]),
		},
		Cons: cursor.Cursor{
			Count: binary.BigEndian.Uint32(b[16:20]),
			Wrap:  binary.BigEndian.Uint16(b[20:22]),
		},
		ProdFlags:      b[24],
		ConnStateFlags: b[25],
		Credits:        b[26],
	}
	copy(m.Reserved[:], b[27:44])
	return m
}

// Imm packs the 32-bit immediate-data word carried by a WRITE_IMM work
// request: credits, a write-blocked flag, a skip flag, and a 22-bit
// token identifying the target jetty.
type Imm struct {
	Credits      uint8
	WriteBlocked bool
	SkipFlag     bool
	Token        uint32 // 22 bits
}

// PackImm encodes an Imm into its 32-bit wire representation.
func PackImm(i Imm) uint32 {
	v := uint32(i.Credits)
	if i.WriteBlocked {
		v |= 1 << 8
	}
	if i.SkipFlag {
		v |= 1 << 9
	}
	v |= (i.Token & 0x3fffff) << 10
	return v
}

// UnpackImm decodes a 32-bit immediate word into an Imm.
func UnpackImm(v uint32) Imm {
	return Imm{
		Credits:      uint8(v & 0xff),
		WriteBlocked: v&(1<<8) != 0,
		SkipFlag:     v&(1<<9) != 0,
		Token:        (v >> 10) & 0x3fffff,
	}
}

// SeqnoNewer reports whether candidate is strictly newer than last,
// treating the 16-bit sequence number space as a ring so a wraparound
// doesn't look like staleness. A CDC message failing this check is
// dropped to stop a stale in-flight message from clobbering state after
// a reconnect.
func SeqnoNewer(last, candidate uint16) bool {
	return int16(candidate-last) > 0
}
