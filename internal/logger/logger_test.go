package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"example.com/h3probe/internal/config"
)

func TestNewEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: config.LogLevelInfo, Format: config.LogFormatJSON, Out: &buf})
	log.Info().Str("scenario", "baseline/root-fetch").Msg("scenario finished")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["scenario"] != "baseline/root-fetch" {
		t.Errorf("scenario field: got %v", entry["scenario"])
	}
	if entry["message"] != "scenario finished" {
		t.Errorf("message field: got %v", entry["message"])
	}
	if _, ok := entry["time"]; !ok {
		t.Error("no timestamp field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: config.LogLevelWarn, Format: config.LogFormatJSON, Out: &buf})
	log.Debug().Msg("dropped")
	log.Info().Msg("dropped too")
	log.Warn().Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], "kept") {
		t.Errorf("expected exactly the warn line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   config.LogLevel
		want zerolog.Level
	}{
		{config.LogLevelDebug, zerolog.DebugLevel},
		{config.LogLevelInfo, zerolog.InfoLevel},
		{config.LogLevelWarn, zerolog.WarnLevel},
		{config.LogLevelError, zerolog.ErrorLevel},
		{config.LogLevel("bogus"), zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q): got %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: config.LogLevelInfo, Format: config.LogFormatConsole, Out: &buf})
	log.Info().Msg("console line")
	if !strings.Contains(buf.String(), "console line") {
		t.Errorf("console output missing message: %q", buf.String())
	}
	if json.Valid(buf.Bytes()) {
		t.Error("console output is raw JSON")
	}
}

func TestFromConfig(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	log := FromConfig(cfg, &buf)
	log.Debug().Msg("below default level")
	if buf.Len() != 0 {
		t.Errorf("debug line emitted at default info level: %q", buf.String())
	}
	log.Info().Msg("at level")
	if buf.Len() == 0 {
		t.Error("info line not emitted")
	}
}
