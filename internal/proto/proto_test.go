package proto

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeRequest(t *testing.T) {
	data, err := EncodeRequestMsg(RequestMsg{From: "alice", Target: "bob", SessionID: "s1"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	m, err := DecodeRequestMsg(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.Type != MsgTypeRequest || m.From != "alice" || m.Target != "bob" || m.SessionID != "s1" {
		t.Fatalf("unexpected decode: %+v", m)
	}
	if _, err := DecodeRequestMsg([]byte(`{"type":"reveal"}`)); err == nil {
		t.Fatalf("expected type mismatch rejection")
	}
}

func TestEncodeDecodeReveal(t *testing.T) {
	data, err := EncodeRevealMsg(RevealMsg{From: "bob", Target: "alice", SessionID: "s1", Solution: "K3P9R2", Nonce: "00ff"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	m, err := DecodeRevealMsg(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.Solution != "K3P9R2" || m.Nonce != "00ff" {
		t.Fatalf("unexpected decode: %+v", m)
	}
}

func TestDecodeRejectDefaultsType(t *testing.T) {
	m, err := DecodeRejectMsg([]byte(`{"from":"bob","target":"alice","reason":"busy"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.Reason != RejectReasonBusy {
		t.Fatalf("unexpected reason %q", m.Reason)
	}
}

func TestMaxSizeForType(t *testing.T) {
	if MaxSizeForType(MsgTypeChallenge) != MaxChallengeSize {
		t.Fatalf("unexpected challenge cap")
	}
	if MaxSizeForType(MsgTypeCommitment) != MaxControlSize {
		t.Fatalf("unexpected commitment cap")
	}
	if MaxSizeForType("gossip") != 0 {
		t.Fatalf("expected unknown type to have no cap")
	}
	if KnownType("gossip") || !KnownType(MsgTypeReveal) {
		t.Fatalf("known type misclassified")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"request_ppe","from":"a","target":"b"}`)
	var buf bytes.Buffer
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("write frame failed: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read frame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("frame payload mismatch")
	}
}

func TestFrameRejectsOversizeForType(t *testing.T) {
	big := `{"type":"commitment","commitment":"` + strings.Repeat("a", MaxControlSize) + `"}`
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte(big)); err != nil {
		t.Fatalf("write frame failed: %v", err)
	}
	if _, err := ReadFrameWithTypeCap(&buf, 1024, MaxSizeForType); err == nil {
		t.Fatalf("expected per-type cap rejection")
	}
}

func TestSealedPayloadRoundTrip(t *testing.T) {
	blob := []byte{0x00, 0x01, 0xfe, 0xff}
	s := EncodeSealedPayload(blob)
	got, err := DecodeSealedPayload(s)
	if err != nil {
		t.Fatalf("decode sealed failed: %v", err)
	}
	if !bytes.Equal(got, blob) {
		t.Fatalf("sealed payload mismatch")
	}
	if _, err := DecodeSealedPayload("!!!"); err == nil {
		t.Fatalf("expected bad base64 rejection")
	}
}
