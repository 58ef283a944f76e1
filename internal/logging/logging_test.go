package logging_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/memlogd/memlog/internal/logging"
)

func TestEventAppendedWritesRotatingFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "memlog.log")
	log := logging.New(logging.Options{LogFile: logFile, JSON: true})

	logging.EventAppended(log, "episode_recorded", "ep_1", 42, true)

	raw, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(raw), "event_appended") {
		t.Fatalf("expected a logged event_appended line, got %q", raw)
	}

	var line map[string]interface{}
	firstLine := strings.SplitN(string(raw), "\n", 2)[0]
	if err := json.Unmarshal([]byte(firstLine), &line); err != nil {
		t.Fatalf("expected a JSON log line, got %q: %v", firstLine, err)
	}
	if line["episode_id"] != "ep_1" {
		t.Fatalf("expected episode_id ep_1, got %v", line["episode_id"])
	}
	if line["event_type"] != "episode_recorded" {
		t.Fatalf("expected event_type episode_recorded, got %v", line["event_type"])
	}
}

func TestNewDefaultsToStderrWithoutLogFile(t *testing.T) {
	// New with no LogFile must not panic and must return a usable logger;
	// this exercises the stderr fallback path without redirecting os.Stderr.
	log := logging.New(logging.Options{JSON: true})
	if log == nil {
		t.Fatal("expected a non-nil logger")
	}
}

func TestNewWithJSONFalseUsesTextHandler(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "memlog.log")
	log := logging.New(logging.Options{LogFile: logFile, JSON: false})
	logging.EventAppended(log, "episode_recorded", "ep_2", 1, false)

	raw, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(raw), "{") {
		t.Fatalf("expected text-handler output to have no JSON braces, got %q", raw)
	}
	if !strings.Contains(string(raw), "episode_id=ep_2") {
		t.Fatalf("expected key=value text output, got %q", raw)
	}
}
