package wire

import "encoding/binary"

// KeepaliveHead is the 44-byte keepalive/heartbeat header. The trailing
// 28 bytes (Reserved3) double as a security extension header when the
// channel's DPEncrypt flag is set; callers that don't negotiate
// encryption leave it zeroed.
type KeepaliveHead struct {
	IsRsp         bool
	Version       uint8 // low 4 bits of byte 0
	Status        uint8
	LQID          uint16
	ServerChannel uint32 // 24 bits
	Reserved3     [28]byte
}

const KeepaliveHeadSize = 44

func PutKeepaliveHead(b []byte, h *KeepaliveHead) {
	rspBit := uint8(0)
	if h.IsRsp {
		rspBit = 1 << 7
	}
	b[0] = rspBit | (h.Version & 0x0f)
	b[1] = h.Status
	binary.LittleEndian.PutUint16(b[2:4], h.LQID)
	PutUint24(b[4:7], h.ServerChannel)
	b[7] = 0
	copy(b[16:44], h.Reserved3[:])
}

func GetKeepaliveHead(b []byte) *KeepaliveHead {
	h := &KeepaliveHead{
		IsRsp:         b[0]&(1<<7) != 0,
		Version:       b[0] & 0x0f,
		Status:        b[1],
		LQID:          binary.LittleEndian.Uint16(b[2:4]),
		ServerChannel: GetUint24(b[4:7]),
	}
	copy(h.Reserved3[:], b[16:44])
	return h
}

// CtlOpcode enumerates control-plane operations carried in a CtlHead.
type CtlOpcode uint8

const (
	CtlSessionUpdate CtlOpcode = iota
	CtlWorkerChange
	CtlFunctionChange
	CtlTPInfoUpdate
	CtlServerReady
	CtlQueueInfoAttach
	CtlQueueInfoDetach
	CtlQueueInfoRefresh
	CtlQueueInfoBind
	CtlQueueInfoUnbind
	CtlQueueInfoAdd
	CtlQueueInfoRm
	CtlTaskCancel
	// CtlNegotiate..CtlDetachAck are the client/server handshake messages
	// driven by internal/taskengine's attach/detach workflows.
	CtlNegotiate
	CtlNegotiateAck
	CtlAttach
	CtlAttachAck
	CtlDetach
	CtlDetachAck
)

func (o CtlOpcode) String() string {
	names := [...]string{
		"SessionUpdate", "WorkerChange", "FunctionChange", "TPInfoUpdate",
		"ServerReady", "QueueInfoAttach", "QueueInfoDetach", "QueueInfoRefresh",
		"QueueInfoBind", "QueueInfoUnbind", "QueueInfoAdd", "QueueInfoRm",
		"TaskCancel", "Negotiate", "NegotiateAck", "Attach", "AttachAck",
		"Detach", "DetachAck",
	}
	if int(o) < 0 || int(o) >= len(names) {
		return "unknown"
	}
	return names[o]
}

// CtlFlags packs the boolean negotiation/session flags carried by CtlHead.
type CtlFlags struct {
	DPEncrypt           bool
	Keepalive           bool
	PrimaryIsServer     bool
	DetachManage        bool
	ManageChannelCreated bool
	FuncInfoEnabled     bool
	IsStart             bool
	MultiplexEnabled    bool
}

func (f CtlFlags) pack() uint8 {
	var v uint8
	if f.DPEncrypt {
		v |= 1 << 0
	}
	if f.Keepalive {
		v |= 1 << 1
	}
	if f.PrimaryIsServer {
		v |= 1 << 2
	}
	if f.DetachManage {
		v |= 1 << 3
	}
	if f.ManageChannelCreated {
		v |= 1 << 4
	}
	if f.FuncInfoEnabled {
		v |= 1 << 5
	}
	if f.IsStart {
		v |= 1 << 6
	}
	if f.MultiplexEnabled {
		v |= 1 << 7
	}
	return v
}

func unpackCtlFlags(v uint8) CtlFlags {
	return CtlFlags{
		DPEncrypt:            v&(1<<0) != 0,
		Keepalive:            v&(1<<1) != 0,
		PrimaryIsServer:      v&(1<<2) != 0,
		DetachManage:         v&(1<<3) != 0,
		ManageChannelCreated: v&(1<<4) != 0,
		FuncInfoEnabled:      v&(1<<5) != 0,
		IsStart:              v&(1<<6) != 0,
		MultiplexEnabled:     v&(1<<7) != 0,
	}
}

// CtlHead is the 18-byte control header framing every session-layer
// control message (attach/detach negotiation, queue bind/unbind,
// task cancellation). TaskID correlates a control message with the
// task-engine task awaiting its reply, since several workflows can be
// in flight on the same connection at once.
type CtlHead struct {
	Version   uint8
	ErrorCode int16
	Flags     CtlFlags
	Channel   uint32
	DataSize  uint32
	CtlOpcode CtlOpcode
	TaskID    uint32
}

const CtlHeadSize = 18

func PutCtlHead(b []byte, h *CtlHead) {
	b[0] = h.Version
	b[1] = CtlHdrOpcode
	binary.LittleEndian.PutUint16(b[2:4], uint16(h.ErrorCode))
	b[4] = h.Flags.pack()
	binary.LittleEndian.PutUint32(b[5:9], h.Channel)
	binary.LittleEndian.PutUint32(b[9:13], h.DataSize)
	b[13] = uint8(h.CtlOpcode)
	binary.LittleEndian.PutUint32(b[14:18], h.TaskID)
}

func GetCtlHead(b []byte) *CtlHead {
	return &CtlHead{
		Version:   b[0],
		ErrorCode: int16(binary.LittleEndian.Uint16(b[2:4])),
		Flags:     unpackCtlFlags(b[4]),
		Channel:   binary.LittleEndian.Uint32(b[5:9]),
		DataSize:  binary.LittleEndian.Uint32(b[9:13]),
		CtlOpcode: CtlOpcode(b[13]),
		TaskID:    binary.LittleEndian.Uint32(b[14:18]),
	}
}
