// Package wire implements the fixed-layout wire headers and TLV framing
// exchanged between peers: request/ack/response headers for the RPC data
// plane, the keepalive and control headers for the session layer, and
// the CDC message used by the connection-data-control state machine.
//
// Every field accessor here is hand-written rather than reflection- or
// tag-driven, one field at a time, matching the style used for the
// fixed kernel ABI structs this codec is descended from.
package wire

import "encoding/binary"

const (
	ProtoVersion = 1

	// CtlHdrOpcode is the fixed opcode value stamped on every CtlHead;
	// the actual operation lives in the CtlOpcode field below it.
	CtlHdrOpcode = 2

	KeepaliveFunctionID = uint64(0x002001000005)
)

// MsgType enumerates the data-plane message kinds.
type MsgType uint8

const (
	MsgReq MsgType = iota
	MsgAck
	MsgRsp
	MsgAckAndRsp
	MsgRead
)

// MsgStatus enumerates response/ack status codes.
type MsgStatus uint8

const (
	StatusSuccess MsgStatus = iota
	StatusServerDecline
	StatusFunctionErr
	StatusRemoteLenErr
	StatusTimeout
	StatusVersionErr
	StatusHdrErr
)

// ArgDMA describes one scatter-gather argument attached to a request.
type ArgDMA struct {
	Size    uint32
	Address uint64
	Token   uint32
}

const argDMASize = 16

func putArgDMA(b []byte, a ArgDMA) {
	binary.LittleEndian.PutUint32(b[0:4], a.Size)
	binary.LittleEndian.PutUint64(b[4:12], a.Address)
	binary.LittleEndian.PutUint32(b[12:16], a.Token)
}

func getArgDMA(b []byte) ArgDMA {
	return ArgDMA{
		Size:    binary.LittleEndian.Uint32(b[0:4]),
		Address: binary.LittleEndian.Uint64(b[4:12]),
		Token:   binary.LittleEndian.Uint32(b[12:16]),
	}
}

// ReqHead is the 20-byte fixed portion of a request header; ArgDMA
// entries follow immediately after in the wire encoding.
type ReqHead struct {
	Type          uint8 // low nibble of byte 0
	Version       uint8 // high nibble of byte 0
	ArgDMACount   uint8 // low 5 bits of byte 1
	Ack           bool  // bit 7 of byte 1
	Function      uint64 // 48 bits
	ReqTotalSize  uint32
	ReqID         uint32
	ClientChannel uint32 // 24 bits
	FunctionDefined uint8
	Args          []ArgDMA
}

const ReqHeadSize = 20

// PutReqHead encodes h (without Args) into b[:20].
func PutReqHead(b []byte, h *ReqHead) {
	b[0] = (h.Type & 0x0f) | (h.Version&0x0f)<<4
	ackBit := uint8(0)
	if h.Ack {
		ackBit = 1 << 7
	}
	b[1] = (h.ArgDMACount & 0x1f) | ackBit
	PutUint48(b[2:8], h.Function)
	binary.LittleEndian.PutUint32(b[8:12], h.ReqTotalSize)
	binary.LittleEndian.PutUint32(b[12:16], h.ReqID)
	PutUint24(b[16:19], h.ClientChannel)
	b[19] = h.FunctionDefined
}

// GetReqHead decodes the fixed 20-byte portion from b.
func GetReqHead(b []byte) *ReqHead {
	h := &ReqHead{}
	h.Type = b[0] & 0x0f
	h.Version = (b[0] >> 4) & 0x0f
	h.ArgDMACount = b[1] & 0x1f
	h.Ack = b[1]&(1<<7) != 0
	h.Function = GetUint48(b[2:8])
	h.ReqTotalSize = binary.LittleEndian.Uint32(b[8:12])
	h.ReqID = binary.LittleEndian.Uint32(b[12:16])
	h.ClientChannel = GetUint24(b[16:19])
	h.FunctionDefined = b[19]
	return h
}

// MarshalReq encodes the full request: fixed header then arg_dma_count
// ArgDMA entries.
func MarshalReq(h *ReqHead) []byte {
	out := make([]byte, ReqHeadSize+len(h.Args)*argDMASize)
	PutReqHead(out, h)
	for i, a := range h.Args {
		putArgDMA(out[ReqHeadSize+i*argDMASize:], a)
	}
	return out
}

// UnmarshalReq decodes a full request from b.
func UnmarshalReq(b []byte) (*ReqHead, error) {
	if len(b) < ReqHeadSize {
		return nil, errShort("ReqHead", ReqHeadSize, len(b))
	}
	h := GetReqHead(b)
	need := ReqHeadSize + int(h.ArgDMACount)*argDMASize
	if len(b) < need {
		return nil, errShort("ReqHead.Args", need, len(b))
	}
	h.Args = make([]ArgDMA, h.ArgDMACount)
	for i := range h.Args {
		h.Args[i] = getArgDMA(b[ReqHeadSize+i*argDMASize:])
	}
	return h, nil
}

// AckHead is the 12-byte ack header sent by a receiver acknowledging
// buffer delivery before the full response is ready.
type AckHead struct {
	Type          uint8
	Version       uint8
	ReqIDRange    uint16
	ReqID         uint32
	ClientChannel uint32 // 24 bits
}

const AckHeadSize = 12

func PutAckHead(b []byte, h *AckHead) {
	b[0] = (h.Type & 0x0f) | (h.Version&0x0f)<<4
	b[1] = 0
	binary.LittleEndian.PutUint16(b[2:4], h.ReqIDRange)
	binary.LittleEndian.PutUint32(b[4:8], h.ReqID)
	PutUint24(b[8:11], h.ClientChannel)
	b[11] = 0
}

func GetAckHead(b []byte) *AckHead {
	return &AckHead{
		Type:          b[0] & 0x0f,
		Version:       (b[0] >> 4) & 0x0f,
		ReqIDRange:    binary.LittleEndian.Uint16(b[2:4]),
		ReqID:         binary.LittleEndian.Uint32(b[4:8]),
		ClientChannel: GetUint24(b[8:11]),
	}
}

// RspHead is the fixed 16-byte portion of a response; ReturnDataOffset
// entries follow.
type RspHead struct {
	Type               uint8
	Version            uint8
	Status             MsgStatus
	ReqIDRange         uint16
	ReqID              uint32
	FunctionDefined    uint8
	ClientChannel      uint32 // 24 bits
	ResponseTotalSize  uint32
	ReturnDataOffset   []uint32
}

const RspHeadSize = 16

func PutRspHead(b []byte, h *RspHead) {
	b[0] = (h.Type & 0x0f) | (h.Version&0x0f)<<4
	b[1] = uint8(h.Status)
	binary.LittleEndian.PutUint16(b[2:4], h.ReqIDRange)
	binary.LittleEndian.PutUint32(b[4:8], h.ReqID)
	PutUint24(b[8:11], h.ClientChannel)
	b[11] = h.FunctionDefined
	binary.LittleEndian.PutUint32(b[12:16], h.ResponseTotalSize)
}

func GetRspHead(b []byte) *RspHead {
	return &RspHead{
		Type:              b[0] & 0x0f,
		Version:           (b[0] >> 4) & 0x0f,
		Status:            MsgStatus(b[1]),
		ReqIDRange:        binary.LittleEndian.Uint16(b[2:4]),
		ReqID:             binary.LittleEndian.Uint32(b[4:8]),
		ClientChannel:     GetUint24(b[8:11]),
		FunctionDefined:   b[11],
		ResponseTotalSize: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// MarshalRsp encodes the full response: fixed header then
// response_total_size/4 return-data offsets, if any were set.
func MarshalRsp(h *RspHead) []byte {
	out := make([]byte, RspHeadSize+len(h.ReturnDataOffset)*4)
	PutRspHead(out, h)
	for i, off := range h.ReturnDataOffset {
		binary.LittleEndian.PutUint32(out[RspHeadSize+i*4:], off)
	}
	return out
}

// UnmarshalRsp decodes a fixed response header plus n trailing
// return-data offsets (n is known from context, not self-describing).
func UnmarshalRsp(b []byte, offsetCount int) (*RspHead, error) {
	if len(b) < RspHeadSize {
		return nil, errShort("RspHead", RspHeadSize, len(b))
	}
	h := GetRspHead(b)
	need := RspHeadSize + offsetCount*4
	if len(b) < need {
		return nil, errShort("RspHead.ReturnDataOffset", need, len(b))
	}
	h.ReturnDataOffset = make([]uint32, offsetCount)
	for i := range h.ReturnDataOffset {
		h.ReturnDataOffset[i] = binary.LittleEndian.Uint32(b[RspHeadSize+i*4:])
	}
	return h, nil
}
