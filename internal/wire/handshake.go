package wire

import "encoding/binary"

// TLV types used during the attach handshake's negotiation and
// queue-info exchange.
const (
	tlvTypeEncryptKey uint32 = iota + 1
	tlvTypeQueueInfo
)

// Negotiation is the payload of the first handshake message: an
// optional symmetric key, carried when the channel negotiates
// dp_encrypt. The key is only carried: no session key is derived from
// it and payloads are not encrypted with it.
type Negotiation struct {
	EncryptKey []byte
}

// EncodeNegotiation TLV-frames a Negotiation.
func EncodeNegotiation(n Negotiation) []byte {
	var buf []byte
	if len(n.EncryptKey) > 0 {
		buf = EncodeTLV(buf, tlvTypeEncryptKey, n.EncryptKey)
	}
	return buf
}

// DecodeNegotiation parses a Negotiation from its TLV-framed bytes. An
// empty buffer decodes to a Negotiation with no key, matching a peer
// that declined encryption.
func DecodeNegotiation(buf []byte) (Negotiation, error) {
	if len(buf) == 0 {
		return Negotiation{}, nil
	}
	el, err := Search(buf, tlvTypeEncryptKey)
	if err != nil {
		return Negotiation{}, err
	}
	if el == nil {
		return Negotiation{}, nil
	}
	return Negotiation{EncryptKey: append([]byte(nil), el.Value...)}, nil
}

// QueueInfo describes one queue offered or imported during attach.
type QueueInfo struct {
	QueueID  uint32
	Token    uint32
	Depth    uint32
	EntrySize uint32
}

const queueInfoSize = 16

func encodeQueueInfo(q QueueInfo) []byte {
	b := make([]byte, queueInfoSize)
	binary.LittleEndian.PutUint32(b[0:4], q.QueueID)
	binary.LittleEndian.PutUint32(b[4:8], q.Token)
	binary.LittleEndian.PutUint32(b[8:12], q.Depth)
	binary.LittleEndian.PutUint32(b[12:16], q.EntrySize)
	return b
}

func decodeQueueInfo(b []byte) (QueueInfo, error) {
	if len(b) < queueInfoSize {
		return QueueInfo{}, errShort("QueueInfo", queueInfoSize, len(b))
	}
	return QueueInfo{
		QueueID:   binary.LittleEndian.Uint32(b[0:4]),
		Token:     binary.LittleEndian.Uint32(b[4:8]),
		Depth:     binary.LittleEndian.Uint32(b[8:12]),
		EntrySize: binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// EncodeQueueInfoArray TLV-frames a count-prefixed array of QueueInfo,
// the attach message's queue-descriptor payload.
func EncodeQueueInfoArray(queues []QueueInfo) []byte {
	values := make([][]byte, len(queues))
	for i, q := range queues {
		values[i] = encodeQueueInfo(q)
	}
	return EncodeArrayTLV(tlvTypeQueueInfo, values)
}

// DecodeQueueInfoArray decodes an attach message's queue-descriptor
// payload.
func DecodeQueueInfoArray(buf []byte) ([]QueueInfo, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	raw, err := DecodeArrayTLV(buf)
	if err != nil {
		return nil, err
	}
	out := make([]QueueInfo, len(raw))
	for i, v := range raw {
		q, err := decodeQueueInfo(v)
		if err != nil {
			return nil, err
		}
		out[i] = q
	}
	return out, nil
}
