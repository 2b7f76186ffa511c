package wire

import (
	"bytes"
	"testing"

	"github.com/gnutella-core/servent/pkg/guid"
)

func TestHeader_RoundTrip(t *testing.T) {
	h := Header{
		MUID:        guid.New(),
		Function:    FuncQuery,
		TTL:         5,
		Hops:        1,
		PayloadSize: 42,
	}

	buf, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(buf) != HeaderSize {
		t.Fatalf("encoded header length = %d, want %d", len(buf), HeaderSize)
	}

	var dec Header
	if err := dec.UnmarshalBinary(buf); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if dec != h {
		t.Fatalf("decoded header = %+v, want %+v", dec, h)
	}
}

func TestPacket_RoundTrip(t *testing.T) {
	p := Packet{
		Header: Header{
			MUID:     guid.New(),
			Function: FuncQueryHit,
			TTL:      1,
			Hops:     2,
		},
		Payload: []byte("hello gnutella"),
	}

	encoded := EncodePacket(p)
	decoded, err := DecodePacket(encoded, 1<<20)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}

	if decoded.Header.MUID != p.Header.MUID ||
		decoded.Header.Function != p.Header.Function ||
		decoded.Header.TTL != p.Header.TTL ||
		decoded.Header.Hops != p.Header.Hops {
		t.Fatalf("decoded header mismatch: %+v", decoded.Header)
	}
	if !bytes.Equal(decoded.Payload, p.Payload) {
		t.Fatalf("decoded payload = %q, want %q", decoded.Payload, p.Payload)
	}
}

func TestDecodePacket_Truncated(t *testing.T) {
	_, err := DecodePacket(make([]byte, 10), 1<<20)
	if err != ErrTruncated {
		t.Fatalf("err = %v, want ErrTruncated", err)
	}
}

func TestDecodePacket_SizeBomb(t *testing.T) {
	p := Packet{Header: Header{Function: FuncQuery}, Payload: make([]byte, 100)}
	encoded := EncodePacket(p)

	_, err := DecodePacket(encoded, 50)
	if err != ErrSizeBomb {
		t.Fatalf("err = %v, want ErrSizeBomb", err)
	}
}

func TestHeader_HopsSeesPacket(t *testing.T) {
	h := Header{Hops: 1}
	if !h.HopsSeesPacket() {
		t.Fatalf("hops==1 should be a direct neighbour observation")
	}
	h.Hops = 2
	if h.HopsSeesPacket() {
		t.Fatalf("hops==2 should not be a direct neighbour observation")
	}
}

func TestHeader_Validate(t *testing.T) {
	h := Header{TTL: 5, Hops: 3}
	if err := h.Validate(7); err != ErrBadTTLHops {
		t.Fatalf("err = %v, want ErrBadTTLHops", err)
	}
	if err := h.Validate(8); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestQueryStatusResponse_RoundTrip(t *testing.T) {
	m := EncodeQueryStatusResponse(12345)
	kept, closed, ok := DecodeQueryStatusResponse(m)
	if !ok || closed || kept != 12345 {
		t.Fatalf("got kept=%d closed=%v ok=%v, want 12345 false true", kept, closed, ok)
	}

	closedMsg := EncodeQueryStatusResponse(QueryStatusClosed)
	_, closed, ok = DecodeQueryStatusResponse(closedMsg)
	if !ok || !closed {
		t.Fatalf("expected closed sentinel to decode as closed")
	}
}
