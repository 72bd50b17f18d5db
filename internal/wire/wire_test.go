package wire

import (
	"testing"

	"github.com/ehrlich-b/urpc/internal/cursor"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestReqHeadRoundTrip(t *testing.T) {
	h := &ReqHead{
		Type:            uint8(MsgReq),
		Version:         ProtoVersion,
		ArgDMACount:     2,
		Ack:             true,
		Function:        KeepaliveFunctionID,
		ReqTotalSize:    128,
		ReqID:           99,
		ClientChannel:   0xabcdef,
		FunctionDefined: 7,
		Args: []ArgDMA{
			{Size: 4096, Address: 0xdeadbeef, Token: 1},
			{Size: 8192, Address: 0xcafebabe, Token: 2},
		},
	}

	encoded := MarshalReq(h)
	got, err := UnmarshalReq(encoded)
	require.NoError(t, err)
	require.Equal(t, h, got)

	// client_channel:24 precedes function_defined:8 on the wire (bytes
	// 16-19), matching AckHead/RspHead's layout.
	require.Equal(t, byte(0xef), encoded[16])
	require.Equal(t, byte(0xcd), encoded[17])
	require.Equal(t, byte(0xab), encoded[18])
	require.Equal(t, byte(7), encoded[19])
}

func TestUnmarshalReqRejectsShortBuffer(t *testing.T) {
	_, err := UnmarshalReq(make([]byte, 4))
	require.Error(t, err)
}

func TestRspHeadRoundTrip(t *testing.T) {
	h := &RspHead{
		Type:              uint8(MsgRsp),
		Version:           ProtoVersion,
		Status:            StatusSuccess,
		ReqIDRange:        1,
		ReqID:             55,
		FunctionDefined:   3,
		ClientChannel:     0x112233,
		ResponseTotalSize: 64,
		ReturnDataOffset:  []uint32{0, 32},
	}
	encoded := MarshalRsp(h)
	got, err := UnmarshalRsp(encoded, len(h.ReturnDataOffset))
	require.NoError(t, err)
	require.Equal(t, h, got)

	// client_channel:24 precedes function_defined:8 on the wire (bytes
	// 8-11).
	require.Equal(t, byte(0x33), encoded[8])
	require.Equal(t, byte(0x22), encoded[9])
	require.Equal(t, byte(0x11), encoded[10])
	require.Equal(t, byte(3), encoded[11])
}

func TestCtlHeadRoundTrip(t *testing.T) {
	h := &CtlHead{
		Version:   ProtoVersion,
		ErrorCode: -3,
		Flags: CtlFlags{
			DPEncrypt:        true,
			Keepalive:        true,
			MultiplexEnabled: true,
		},
		Channel:   42,
		DataSize:  256,
		CtlOpcode: CtlQueueInfoAttach,
		TaskID:    0xdeadbeef,
	}
	b := make([]byte, CtlHeadSize)
	PutCtlHead(b, h)
	got := GetCtlHead(b)
	require.Equal(t, h.Version, got.Version)
	require.Equal(t, h.ErrorCode, got.ErrorCode)
	require.Equal(t, h.Flags, got.Flags)
	require.Equal(t, h.Channel, got.Channel)
	require.Equal(t, h.DataSize, got.DataSize)
	require.Equal(t, h.CtlOpcode, got.CtlOpcode)
	require.Equal(t, h.TaskID, got.TaskID)
}

func TestCDCMessageRoundTrip(t *testing.T) {
	m := &CDCMessage{
		Seqno: 7,
		Token: 123,
		Prod:  cursor.Cursor{Count: 10, Wrap: 1},
		Cons:  cursor.Cursor{Count: 4, Wrap: 1},
		ProdFlags: 0x3,
		ConnStateFlags: 0x1,
		Credits: 9,
	}
	b := make([]byte, CDCMessageSize)
	PutCDCMessage(b, m)
	got := GetCDCMessage(b)
	require.Equal(t, uint8(44), got.Len)
	require.Equal(t, m.Seqno, got.Seqno)
	require.Equal(t, m.Token, got.Token)
	require.Equal(t, m.Prod, got.Prod)
	require.Equal(t, m.Cons, got.Cons)
	require.Equal(t, m.Credits, got.Credits)
}

func TestImmRoundTrip(t *testing.T) {
	i := Imm{Credits: 12, WriteBlocked: true, SkipFlag: false, Token: 0x3fffff}
	got := UnpackImm(PackImm(i))
	require.Equal(t, i, got)
}

func TestSeqnoNewerHandlesWraparound(t *testing.T) {
	require.True(t, SeqnoNewer(5, 6))
	require.False(t, SeqnoNewer(6, 5))
	require.True(t, SeqnoNewer(0xfffe, 0x0001))
	require.False(t, SeqnoNewer(0x0001, 0xfffe))
}

func TestTLVSearchFindsMatch(t *testing.T) {
	var buf []byte
	buf = EncodeTLV(buf, 1, []byte("first"))
	buf = EncodeTLV(buf, 2, []byte("second"))

	el, err := Search(buf, 2)
	require.NoError(t, err)
	require.NotNil(t, el)
	require.Equal(t, "second", string(el.Value))
}

func TestTLVSearchNoMatchReturnsNil(t *testing.T) {
	var buf []byte
	buf = EncodeTLV(buf, 1, []byte("first"))
	el, err := Search(buf, 99)
	require.NoError(t, err)
	require.Nil(t, el)
}

func TestTLVSearchRejectsOverrunLength(t *testing.T) {
	buf := make([]byte, TLVHeadSize)
	putTLVHead(buf, TLVHead{Type: 1, Len: 1000})
	_, err := Search(buf, 1)
	require.ErrorIs(t, err, ErrTLVOutOfBounds)
}

func TestTLVSearchNextWalksElements(t *testing.T) {
	var buf []byte
	buf = EncodeTLV(buf, 1, []byte("a"))
	buf = EncodeTLV(buf, 1, []byte("b"))
	buf = EncodeTLV(buf, 1, []byte("c"))

	el, err := Search(buf, 1)
	require.NoError(t, err)
	var values []string
	for el != nil {
		values = append(values, string(el.Value))
		el, err = SearchNext(buf, el)
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c"}, values)
}

func TestArrayTLVRoundTrip(t *testing.T) {
	encoded := EncodeArrayTLV(5, [][]byte{[]byte("x"), []byte("yy"), []byte("zzz")})
	values, err := DecodeArrayTLV(encoded)
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.Equal(t, "x", string(values[0]))
	require.Equal(t, "yy", string(values[1]))
	require.Equal(t, "zzz", string(values[2]))
}

// TestPropertyTLVNeverReadsPastBuffer fuzzes arbitrary byte buffers
// through Search and asserts it either returns a result fully contained
// in the buffer or a bounds error — it must never panic or silently read
// outside the slice.
func TestPropertyTLVNeverReadsPastBuffer(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(t, "n")
		buf := rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "buf")
		want := rapid.Uint32().Draw(t, "want")

		el, err := Search(buf, want)
		if err != nil {
			require.ErrorIs(t, err, ErrTLVOutOfBounds)
			return
		}
		if el != nil {
			require.LessOrEqual(t, el.offset+TLVHeadSize+len(el.Value), len(buf))
		}
	})
}
