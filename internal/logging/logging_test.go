package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	lf := filepath.Join(dir, "nested", "scheduler_test.log")
	if _, err := New("info", lf); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := os.Stat(lf); err != nil {
		t.Fatalf("expected log file to be created, stat failed: %v", err)
	}
}

func TestNewDefaultsUnknownLevelToInfo(t *testing.T) {
	dir := t.TempDir()
	logger, err := New("not-a-level", filepath.Join(dir, "scheduler.log"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info level fallback, got %v", logger.GetLevel())
	}
}

func TestNewRespectsExplicitLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := New("debug", filepath.Join(dir, "scheduler.log"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %v", logger.GetLevel())
	}
}

func TestNewUsesDefaultFileWhenEmpty(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	defer os.RemoveAll(filepath.Join(wd, "logs"))

	if _, err := New("info", ""); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wd, defaultLogFile)); err != nil {
		t.Fatalf("expected default log file to be created, stat failed: %v", err)
	}
}
