package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"trace", LevelTrace, false},
		{"DEBUG", LevelDebug, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"Error", LevelError, false},
		{"FATAL", LevelFatal, false},
		{"loud", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{Level: "DEBUG", SampleRate: 1, Output: &buf}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	defer SetLevel(LevelInfo)

	New("engine").Debug("compiled", "rules", 3)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Output is not JSON: %v (%q)", err, buf.String())
	}
	if record["component"] != "engine" || record["msg"] != "compiled" || record["rules"] != 3.0 {
		t.Errorf("Unexpected record: %v", record)
	}
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
	if err := Setup(context.Background(), Options{Level: "verbose", Output: &bytes.Buffer{}}); err == nil {
		t.Error("Setup() should reject an unknown level")
	}
}

func TestRunFinishedCounters(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(context.Background(), Options{SampleRate: 1, Output: &buf}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}

	runs, ruleErrs := TotalRuns.Load(), TotalRuleErrors.Load()

	RunFinished("tenant-a", time.Millisecond, nil)
	RunFinished("tenant-a", time.Millisecond, errors.New("boom"))

	if got := TotalRuns.Load() - runs; got != 2 {
		t.Errorf("TotalRuns increased by %d, want 2", got)
	}
	if got := TotalRuleErrors.Load() - ruleErrs; got != 1 {
		t.Errorf("TotalRuleErrors increased by %d, want 1", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte("rule run failed")) {
		t.Errorf("Failure was not logged: %q", buf.String())
	}
}

func TestHTTPStatusCounters(t *testing.T) {
	c4, c5 := Total4xxErrors.Load(), Total5xxErrors.Load()

	HTTPStatus(200)
	HTTPStatus(404)
	HTTPStatus(503)

	if Total4xxErrors.Load()-c4 != 1 || Total5xxErrors.Load()-c5 != 1 {
		t.Errorf("4xx/5xx counters = +%d/+%d, want +1/+1", Total4xxErrors.Load()-c4, Total5xxErrors.Load()-c5)
	}
}
