package logging

import (
	"testing"

	"github.com/riftline/messagedirector/internal/config"
)

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "not-a-level"})
	if err == nil {
		t.Fatal("expected an error for an invalid log level")
	}
}

func TestNewAcceptsValidLevel(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
}
