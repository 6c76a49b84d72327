package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(&buf, Options{Level: "warn"})
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "section", "Movies")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record passed a warn logger: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "Movies") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&buf, Options{Level: "chatty"})
	logger.Debug("debug line")
	logger.Info("info line")
	if strings.Contains(buf.String(), "debug line") || !strings.Contains(buf.String(), "info line") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sync.log")
	var buf bytes.Buffer
	logger, closer := New(&buf, Options{Level: "debug", File: path, MaxSizeMB: 1})

	logger.With("run_id", "abc").Debug("walking", "items", 3)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	for _, want := range []string{"walking", "run_id=abc", "items=3"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log file missing %q: %q", want, data)
		}
	}
	if !strings.Contains(buf.String(), "walking") {
		t.Errorf("console output missing record: %q", buf.String())
	}
}

func TestMeasure_LogsElapsed(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(&buf, Options{})
	stop := Measure(logger, "Completed full sync", "run", 1)
	stop()

	out := buf.String()
	if !strings.Contains(out, "Completed full sync") || !strings.Contains(out, "elapsed") {
		t.Errorf("Measure output = %q", out)
	}
}
