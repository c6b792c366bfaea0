package logger

import "testing"

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "verbose", Format: "json"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNamedAndWith(t *testing.T) {
	log, err := New(Config{Level: "debug", Format: "console"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	child := log.Named("child").With(String("k", "v"), Int("n", 1))
	if child == nil {
		t.Fatal("expected child logger")
	}
	child.Debug("debug message", Bool("ok", true))
	NewNop().Error("discarded", Any("x", 1))
}
