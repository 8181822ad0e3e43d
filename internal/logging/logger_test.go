package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerTagsServiceAndRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "ledgerpay", "production")
	logger.Info("withdrawal confirm", "transfer_code", "TRF_1", "otp", "123456", "Password", "hunter22")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if rec["service"] != "ledgerpay" || rec["env"] != "production" {
		t.Fatalf("expected service attributes, got %v", rec)
	}
	if rec["transfer_code"] != "TRF_1" {
		t.Fatalf("expected transfer_code to be kept, got %v", rec["transfer_code"])
	}
	if rec["otp"] != redacted || rec["Password"] != redacted {
		t.Fatalf("expected secrets redacted, got %v", rec)
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "ledgerpay", "test")
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn, got %q", buf.String())
	}

	buf.Reset()
	logger = NewWithWriter(&buf, "loud", "ledgerpay", "test")
	logger.Info("kept")
	if buf.Len() == 0 {
		t.Fatalf("an invalid level should default to info")
	}
}
