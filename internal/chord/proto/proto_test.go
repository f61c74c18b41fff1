package proto

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Envelope{
		{
			Kind:          KindJoinReq,
			SourceID:      42,
			RingSignature: "sig-1",
			Payload:       JoinReq{IP: "10.0.0.1", Port: 5000, ID: 42, BitLen: 32},
		},
		{
			Kind:          KindSuccResp,
			SourceID:      7,
			RingSignature: "sig-2",
			Payload:       SuccResp{Success: true, Ref: NodeRef{IP: "10.0.0.2", Port: 5001, ID: 99, BitLen: 32}},
		},
		{
			Kind:          KindPing,
			SourceID:      1,
			RingSignature: "",
			Payload:       Ping{},
		},
		{
			Kind:          KindUpdateFTableReq,
			SourceID:      3,
			RingSignature: "sig-3",
			Payload: UpdateFTableReq{
				From:         1,
				To:           200,
				NewOwner:     NodeRef{IP: "10.0.0.3", Port: 5002, ID: 150, BitLen: 8},
				NewSignature: "sig-4",
			},
		},
	}

	for _, want := range cases {
		encoded, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%v): %v", want.Kind, err)
		}

		got, err := Decode(bytes.NewReader(encoded))
		if err != nil {
			t.Fatalf("Decode(%v): %v", want.Kind, err)
		}

		if got.Kind != want.Kind || got.SourceID != want.SourceID || got.RingSignature != want.RingSignature {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
		}
		if len(encoded) > 4+MaxControlSize {
			t.Fatalf("control message exceeds frame budget: %d bytes", len(encoded))
		}
	}
}

func TestEncodeBytesRoundTripForMulticast(t *testing.T) {
	want := Envelope{
		Kind:          KindMulticast,
		SourceID:      5,
		RingSignature: "",
		Payload:       Multicast{},
	}

	data, err := EncodeBytes(want)
	if err != nil {
		t.Fatalf("EncodeBytes: %v", err)
	}

	got, err := DecodeBytes(data)
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}
	if got.Kind != want.Kind || got.RingSignature != "" {
		t.Fatalf("multicast round trip mismatch: %+v", got)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	lenPrefix := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(lenPrefix)

	if _, err := Decode(&buf); err == nil {
		t.Fatal("expected error decoding an oversized frame length")
	}
}

func TestKindStringIsHumanReadable(t *testing.T) {
	if KindJoinReq.String() != "JOIN_REQUEST" {
		t.Fatalf("unexpected Kind.String(): %s", KindJoinReq.String())
	}
}
