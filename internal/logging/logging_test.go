package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewJSONHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn"}, &buf)
	log.Info().Msg("hidden")
	log.Warn().Err(errors.New("boom")).Str("routine", "r1").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["message"] != "shown" || entry["level"] != "warn" || entry["err"] != "boom" || entry["routine"] != "r1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("missing timestamp: %v", entry)
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Console: true}, &buf)
	log.Debug().Msg("execution started")
	out := buf.String()
	if strings.HasPrefix(strings.TrimSpace(out), "{") || !strings.Contains(out, "execution started") {
		t.Fatalf("expected console output, got %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" INFO ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"bogus":   zerolog.ErrorLevel,
		"":        zerolog.ErrorLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in, zerolog.ErrorLevel); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
