package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, expected %v", tt.level, got, tt.expected)
			}
		})
	}
}

func TestNewFormat(t *testing.T) {
	var jsonBuf, textBuf bytes.Buffer

	NewFormat("json", "info", &jsonBuf).Info("calibrated", "scale", 0.75)
	var entry map[string]any
	if err := json.Unmarshal(jsonBuf.Bytes(), &entry); err != nil {
		t.Fatalf("json format did not produce JSON: %v (%s)", err, jsonBuf.String())
	}
	if entry["msg"] != "calibrated" {
		t.Errorf("msg = %v, expected calibrated", entry["msg"])
	}

	NewFormat("text", "info", &textBuf).Info("calibrated", "scale", 0.75)
	if !strings.Contains(textBuf.String(), "scale=0.75") {
		t.Errorf("text output missing attribute: %s", textBuf.String())
	}
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		logFunc  func(string, ...any)
		logMsg   string
		expected bool
	}{
		{"Debug when debug level", "debug", Debug, "debug message", true},
		{"Debug when info level", "info", Debug, "debug message", false},
		{"Info when info level", "info", Info, "info message", true},
		{"Warn when error level", "error", Warn, "warn message", false},
		{"Error when info level", "info", Error, "error message", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			SetDefault(New(tt.logLevel, &buf))

			tt.logFunc(tt.logMsg)
			output := buf.String()

			if tt.expected && !strings.Contains(output, tt.logMsg) {
				t.Errorf("Expected log output to contain '%s', got: %s", tt.logMsg, output)
			}
			if !tt.expected && strings.Contains(output, tt.logMsg) {
				t.Errorf("Expected log output NOT to contain '%s', but it did: %s", tt.logMsg, output)
			}
		})
	}
}

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(New("info", &buf))

	Component("pusher").Info("batch pushed")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse log output: %v", err)
	}
	if entry["component"] != "pusher" {
		t.Errorf("component = %v, expected pusher", entry["component"])
	}
}
