package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		env, level string
		debug      bool
	}{
		{env: "development", debug: true},
		{env: "production", debug: false},
		{env: "production", level: "debug", debug: true},
		{env: "development", level: "warn", debug: false},
	}
	for _, tt := range tests {
		logger, err := New(tt.env, tt.level)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tt.env, tt.level, err)
		}
		if got := logger.Core().Enabled(zap.DebugLevel); got != tt.debug {
			t.Fatalf("New(%q, %q) debug enabled = %v", tt.env, tt.level, got)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("production", "loud"); err == nil {
		t.Fatal("expected error")
	}
}
