package queue

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"

	"github.com/rzbill/tether/internal/errs"
)

// Stored record: headerLen(4B BE) | header(JSON) | payload | crc32c(header|payload)
//
// The payload is kept out of the JSON header so request bodies are stored
// byte-for-byte as captured.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// recordHeader is everything but the payload, plus the enqueue sequence that
// orders records sharing a millisecond.
type recordHeader struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Endpoint  string            `json:"endpoint"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Synced    bool              `json:"synced"`
	Timestamp int64             `json:"timestamp"`
	Seq       uint64            `json:"seq"`
}

func encodeRecord(rec QueuedRequest, seq uint64) ([]byte, error) {
	header, err := json.Marshal(recordHeader{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		Endpoint:  rec.Endpoint,
		Method:    rec.Method,
		Headers:   rec.Headers,
		Synced:    rec.Synced,
		Timestamp: rec.Timestamp,
		Seq:       seq,
	})
	if err != nil {
		return nil, err
	}
	payload := []byte(rec.Payload)
	out := make([]byte, 0, 4+len(header)+len(payload)+4)
	out = binary.BigEndian.AppendUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc), nil
}

func decodeRecord(b []byte) (QueuedRequest, uint64, error) {
	if len(b) < 8 {
		return QueuedRequest{}, 0, errs.New("queue: record too short")
	}
	hlen := binary.BigEndian.Uint32(b[:4])
	if uint64(hlen)+8 > uint64(len(b)) {
		return QueuedRequest{}, 0, errs.New("queue: record header overruns value")
	}
	headerEnd := 4 + int(hlen)
	header := b[4:headerEnd]
	payload := b[headerEnd : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return QueuedRequest{}, 0, errs.New("queue: record checksum mismatch")
	}
	var h recordHeader
	if err := json.Unmarshal(header, &h); err != nil {
		return QueuedRequest{}, 0, errs.Wrap(err, "queue: decode record header")
	}
	rec := QueuedRequest{
		ID:        h.ID,
		TenantID:  h.TenantID,
		Endpoint:  h.Endpoint,
		Method:    h.Method,
		Headers:   h.Headers,
		Synced:    h.Synced,
		Timestamp: h.Timestamp,
	}
	if len(payload) > 0 {
		rec.Payload = append(json.RawMessage(nil), payload...)
	}
	return rec, h.Seq, nil
}
