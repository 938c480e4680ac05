package codec

import (
	"testing"

	"poscheck/internal/schema"
)

func TestEncodePayloadReusesBuffer(t *testing.T) {
	p := schema.Payload{PayloadType: "CHECK", Payload: "ACC1/IBM:100", UID: "u-1", CreatedTime: 42}
	buf := make([]byte, 0, 128)

	encoded := EncodePayload(buf, p)
	if len(encoded) != PayloadSize(p) {
		t.Fatalf("encoded size mismatch: got %d want %d", len(encoded), PayloadSize(p))
	}
	if &encoded[0] != &buf[:1][0] {
		t.Fatalf("expected encode to reuse the provided buffer")
	}

	decoded, ok := DecodePayload(encoded)
	if !ok {
		t.Fatalf("decode failed")
	}
	if decoded != p {
		t.Fatalf("decoded mismatch: got %+v want %+v", decoded, p)
	}
}

func TestDecodePayloadRejectsTruncatedInput(t *testing.T) {
	p := schema.Payload{PayloadType: "UPDATE", Payload: "ACC1/IBM:-5", UID: "u-2", CreatedTime: 7}
	encoded := EncodePayload(nil, p)

	if _, ok := DecodePayload(encoded[:PayloadHeaderSize-1]); ok {
		t.Fatalf("expected short header to fail")
	}
	if _, ok := DecodePayload(encoded[:len(encoded)-1]); ok {
		t.Fatalf("expected truncated body to fail")
	}
}
