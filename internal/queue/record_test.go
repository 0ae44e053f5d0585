package queue

import (
	"encoding/json"
	"testing"
)

func TestRecordRoundtrip(t *testing.T) {
	in := QueuedRequest{
		ID:        "1-a",
		TenantID:  "t1",
		Endpoint:  "https://api.example.com/x",
		Method:    "DELETE",
		Payload:   json.RawMessage(`{"a": 1}`),
		Headers:   map[string]string{"X-Tenant-ID": "t1"},
		Timestamp: 1,
	}
	enc, err := encodeRecord(in, 42)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, seq, err := decodeRecord(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if seq != 42 {
		t.Fatalf("seq %d", seq)
	}
	// payload bytes are kept verbatim, whitespace included
	if string(out.Payload) != `{"a": 1}` {
		t.Fatalf("payload %q", out.Payload)
	}
	if out.ID != in.ID || out.TenantID != in.TenantID || out.Method != in.Method || out.Headers["X-Tenant-ID"] != "t1" {
		t.Fatalf("mismatch: %+v", out)
	}
}

func TestRecordEmptyPayload(t *testing.T) {
	enc, err := encodeRecord(QueuedRequest{ID: "1", TenantID: "t", Endpoint: "/x", Method: "DELETE"}, 1)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, _, err := decodeRecord(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Payload) != 0 {
		t.Fatalf("expected empty payload, got %q", out.Payload)
	}
}

func TestRecordCRCFail(t *testing.T) {
	enc, _ := encodeRecord(QueuedRequest{ID: "1", TenantID: "t", Endpoint: "/x", Method: "POST", Payload: json.RawMessage(`{}`)}, 1)
	enc[len(enc)-1] ^= 0xFF
	if _, _, err := decodeRecord(enc); err == nil {
		t.Fatalf("expected crc fail")
	}
	if _, _, err := decodeRecord(enc[:3]); err == nil {
		t.Fatalf("expected short record error")
	}
}
