package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newJSONLogger(t *testing.T, buf *bytes.Buffer) Logger {
	t.Helper()
	cfg := &Config{Level: DebugLevel, Format: JSONFormat, Output: StdoutOutput, DisableTimestamp: true}
	l, err := NewWithWriter(cfg, buf)
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}
	return l
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestWithFieldKeepsFields(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	l.WithComponent("uploader").WithField("file", "Y01A").WithError(errors.New("boom")).Info("hello")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	got := lines[0]
	for key, want := range map[string]string{
		"component": "uploader",
		"file":      "Y01A",
		"error":     "boom",
		"msg":       "hello",
		"level":     "info",
	} {
		if got[key] != want {
			t.Errorf("field %s: expected %q, got %v", key, want, got[key])
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"bad level", Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
		{"file with path", Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput, File: "x.log"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigForEnvironment(t *testing.T) {
	if cfg := ConfigForEnvironment("local"); cfg.Format != TextFormat {
		t.Errorf("local should log text, got %s", cfg.Format)
	}
	if cfg := ConfigForEnvironment(""); cfg.Format != TextFormat {
		t.Errorf("unset env should log text, got %s", cfg.Format)
	}
	if cfg := ConfigForEnvironment("prod"); cfg.Format != JSONFormat || cfg.Output != StdoutOutput {
		t.Errorf("prod should log json to stdout, got %s/%s", cfg.Format, cfg.Output)
	}
}

func TestOperationLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newJSONLogger(t, &buf)

	op := NewOperationLogger("upload_file", l).WithField("file", "a")
	op.Pages(1, 2)
	op.Error(errors.New("rejected"), "Upload failed")

	lines := decodeLines(t, &buf)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	last := lines[2]
	if last["status"] != "error" || last["file"] != "a" || last["operation"] != "upload_file" {
		t.Errorf("unexpected final line: %v", last)
	}
	if lines[1]["percentage"] != "50.0%" {
		t.Errorf("expected 50.0%%, got %v", lines[1]["percentage"])
	}
}
