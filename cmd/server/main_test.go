package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFileMissingIsFine(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env: %v", err)
	}
}

func TestLoadEnvFileSetsVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CLARA_TEST_KEY=abc123\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLARA_TEST_KEY", "")
	os.Unsetenv("CLARA_TEST_KEY")

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile: %v", err)
	}
	if got := os.Getenv("CLARA_TEST_KEY"); got != "abc123" {
		t.Fatalf("CLARA_TEST_KEY = %q", got)
	}
}

func TestLoadEnvFileReportsUnreadableFile(t *testing.T) {
	// a directory opens but cannot be read as a file
	if err := loadEnvFile(t.TempDir()); err == nil {
		t.Fatal("expected an error for an unreadable .env")
	}
}
