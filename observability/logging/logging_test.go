package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestMaskField(t *testing.T) {
	if attr := MaskField("hmac_secret", "hunter2"); attr.Value.String() != RedactedValue {
		t.Fatalf("expected secret to be redacted, got %q", attr.Value.String())
	}
	if attr := MaskField("hmac_secret", " "); attr.Value.String() != " " {
		t.Fatalf("expected empty value untouched, got %q", attr.Value.String())
	}
}

func TestIsSensitive(t *testing.T) {
	cases := map[string]bool{
		"hmac_secret":             true,
		"Custody_Passphrase":      true,
		"authorization":           true,
		"db_password":             true,
		"token_symbol":            false,
		"asset":                   false,
		"listen":                  false,
		"journal_dsn":             false,
		"oracle_rpc_url":          false,
		"access_token":            true,
		"  private_key_material ": true,
	}
	for key, want := range cases {
		if got := IsSensitive(key); got != want {
			t.Fatalf("IsSensitive(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestRedactDSN(t *testing.T) {
	cases := map[string]string{
		"postgres://vault:s3cret@db:5432/vault?sslmode=disable": "postgres://vault:[REDACTED]@db:5432/vault?sslmode=disable",
		"postgres://vault@db/vault":                             "postgres://vault@db/vault",
		"host=db user=vault password=s3cret dbname=vault":       "host=db user=vault password=[REDACTED] dbname=vault",
		"host=db password='with space' dbname=vault":            "host=db password=[REDACTED] dbname=vault",
		"file:journal.db?_pragma=busy_timeout(5000)":            "file:journal.db?_pragma=busy_timeout(5000)",
	}
	for raw, want := range cases {
		if got := RedactDSN(raw); got != want {
			t.Fatalf("RedactDSN(%q) = %q, want %q", raw, got, want)
		}
	}
	if got := RedactDSN("  "); got != "" {
		t.Fatalf("expected blank DSN to stay blank, got %q", got)
	}
}

func TestHandlerRenamesKeysAndMasksSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, slog.LevelInfo))
	logger.Info("config loaded",
		slog.String("hmac_secret", "hunter2"),
		slog.String("listen", ":8090"),
		slog.Int("token_count", 3))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "config loaded" || line["severity"] != "INFO" {
		t.Fatalf("unexpected envelope %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp in %v", line)
	}
	if line["hmac_secret"] != RedactedValue {
		t.Fatalf("secret leaked: %v", line["hmac_secret"])
	}
	if line["listen"] != ":8090" {
		t.Fatalf("listen rewritten: %v", line["listen"])
	}
	if line["token_count"] != float64(3) {
		t.Fatalf("non-string attribute rewritten: %v", line["token_count"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}
