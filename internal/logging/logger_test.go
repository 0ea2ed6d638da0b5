package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"boqmatch/internal/config"
	"boqmatch/internal/logging"
)

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, logging.Options{})
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello file")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "boqmatch.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello file") {
		t.Fatalf("expected message in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	if strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", buf.String())
	}
}

func TestConsoleLoggerIncludesCallerForDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message with caller")

	if !strings.Contains(buf.String(), ".go:") {
		t.Fatalf("expected caller information in debug logs, got %q", buf.String())
	}
}

func TestConsoleLoggerPrefixesComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.NewComponentLogger(logger, "resolver").Info("resolved", logging.String("source", "kb"))

	out := buf.String()
	if !strings.Contains(out, "INFO resolver: resolved") {
		t.Fatalf("expected component prefix, got %q", out)
	}
	if !strings.Contains(out, "source=kb") {
		t.Fatalf("expected attribute, got %q", out)
	}
}

func TestConsoleLoggerShowsMatchSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithMatchID(context.Background(), "3f2a9c1e-77aa-4d2b-9c1e-0a1b2c3d4e5f")
	logging.WithContext(ctx, logging.NewComponentLogger(logger, "resolver")).Info("tier escalated", slog.Group("tier", slog.Int("from", 1)))

	out := buf.String()
	if !strings.Contains(out, "INFO resolver [3f2a9c1e]: tier escalated") {
		t.Fatalf("expected match subject, got %q", out)
	}
	if strings.Contains(out, "match_id=") {
		t.Fatalf("match id should not repeat as an attribute: %q", out)
	}
	if !strings.Contains(out, "tier.from=1") {
		t.Fatalf("expected flattened group attribute, got %q", out)
	}
}

func TestNewFromConfigOverridesLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "info"
	var buf bytes.Buffer
	logger, err := logging.NewFromConfig(&cfg, logging.Options{Level: "warn", Writer: &buf})
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level override not applied: %q", buf.String())
	}
}

func TestJSONLoggerIncludesContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithMatchID(context.Background(), "m-1")
	ctx = logging.WithVersionID(ctx, "v-9")
	ctx = logging.WithRequestID(ctx, "req-3")
	logging.WithContext(ctx, logger).Info("tagged")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if entry[logging.FieldMatchID] != "m-1" || entry[logging.FieldVersionID] != "v-9" || entry[logging.FieldCorrelationID] != "req-3" {
		t.Fatalf("missing context fields: %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("unexpected level %v", entry["level"])
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Writer: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logging.WarnWithContext(logger, "verifier degraded", "verifier_timeout",
		logging.String(logging.FieldImpact, "returned best local match"),
		logging.Error(errors.New("deadline")),
		logging.MatchID("m-7"),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if entry[logging.FieldEventType] != "verifier_timeout" {
		t.Fatalf("expected event type, got %v", entry)
	}
	if entry[logging.FieldErrorHint] == nil {
		t.Fatalf("expected default error hint, got %v", entry)
	}
	if entry[logging.FieldImpact] != "returned best local match" {
		t.Fatalf("expected caller impact preserved, got %v", entry[logging.FieldImpact])
	}
	if entry[logging.FieldMatchID] != "m-7" {
		t.Fatalf("expected match id field, got %v", entry)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
