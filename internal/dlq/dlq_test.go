package dlq

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRecordRoundTripPreservesEnvelope(t *testing.T) {
	envelope := json.RawMessage(`{"tenant":"acme","platform":"slack","msg_id":"slack:1700000000.000100","text":"hi"}`)
	rec := Record{
		Tenant:       "acme",
		Stage:        "send",
		Platform:     "slack",
		MsgID:        "slack:1700000000.000100",
		Retries:      2,
		TimestampUTC: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Error:        ErrorDetail{Code: "webex_send_failed", Message: "permanent failure"},
		Envelope:     envelope,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Record
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !bytes.Equal(compact(t, decoded.Envelope), compact(t, envelope)) {
		t.Fatalf("envelope not preserved: got %s want %s", decoded.Envelope, envelope)
	}
	if decoded.Error.Code != "webex_send_failed" {
		t.Fatalf("error code mismatch: %s", decoded.Error.Code)
	}
}

func compact(t *testing.T, raw json.RawMessage) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		t.Fatalf("compact: %v", err)
	}
	return buf.Bytes()
}
