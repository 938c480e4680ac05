package codec

import (
	"encoding/binary"

	"poscheck/internal/schema"
)

// PayloadHeaderSize is the fixed prefix of an encoded payload.
const PayloadHeaderSize = 20

// PayloadSize returns the encoded size of a payload.
func PayloadSize(p schema.Payload) int {
	return PayloadHeaderSize + len(p.PayloadType) + len(p.Payload) + len(p.UID)
}

// EncodePayload serializes a payload, reusing dst when it has enough capacity.
func EncodePayload(dst []byte, p schema.Payload) []byte {
	size := PayloadSize(p)
	if cap(dst) < size {
		dst = make([]byte, size)
	} else {
		dst = dst[:size]
	}

	binary.LittleEndian.PutUint64(dst[0:8], uint64(p.CreatedTime))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(len(p.PayloadType)))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(len(p.Payload)))
	binary.LittleEndian.PutUint32(dst[16:20], uint32(len(p.UID)))

	off := PayloadHeaderSize
	off += copy(dst[off:], p.PayloadType)
	off += copy(dst[off:], p.Payload)
	copy(dst[off:], p.UID)

	return dst
}

// DecodePayload parses an encoded payload. The returned strings do not alias src.
func DecodePayload(src []byte) (schema.Payload, bool) {
	if len(src) < PayloadHeaderSize {
		return schema.Payload{}, false
	}
	typeLen := int(binary.LittleEndian.Uint32(src[8:12]))
	bodyLen := int(binary.LittleEndian.Uint32(src[12:16]))
	uidLen := int(binary.LittleEndian.Uint32(src[16:20]))
	if typeLen < 0 || bodyLen < 0 || uidLen < 0 {
		return schema.Payload{}, false
	}
	if len(src)-PayloadHeaderSize < typeLen+bodyLen+uidLen {
		return schema.Payload{}, false
	}

	off := PayloadHeaderSize
	payloadType := string(src[off : off+typeLen])
	off += typeLen
	body := string(src[off : off+bodyLen])
	off += bodyLen
	uid := string(src[off : off+uidLen])

	return schema.Payload{
		PayloadType: payloadType,
		Payload:     body,
		UID:         uid,
		CreatedTime: int64(binary.LittleEndian.Uint64(src[0:8])),
	}, true
}
