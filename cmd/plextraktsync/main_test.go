package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/njoerd114/plextraktsync/internal/state"
)

func TestSelection(t *testing.T) {
	tests := []struct {
		in            string
		movies, shows bool
		wantErr       bool
	}{
		{"all", true, true, false},
		{"movies", true, false, false},
		{"tv", false, true, false},
		{"TV", false, true, false},
		{"music", false, false, true},
	}
	for _, tt := range tests {
		movies, shows, err := selection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("selection(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if movies != tt.movies || shows != tt.shows {
			t.Errorf("selection(%q) = (%v, %v), want (%v, %v)", tt.in, movies, shows, tt.movies, tt.shows)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	if err := app.Run(context.Background(), []string{"plextraktsync", "version"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "plextraktsync "+version) {
		t.Errorf("output = %q", out.String())
	}
}

func TestStatusWithoutConfig(t *testing.T) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(context.Background(), []string{"plextraktsync", "status", "--config", t.TempDir() + "/missing.yaml"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "not found") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunDuration(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := runDuration(&state.Run{StartedAt: start}); got != "-" {
		t.Errorf("unfinished = %q", got)
	}
	if got := runDuration(&state.Run{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}); got != "1m30s" {
		t.Errorf("finished = %q", got)
	}
}
