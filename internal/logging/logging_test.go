package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew_ConsoleDefaults(t *testing.T) {
	logger, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	logger.Info("hello")
}

func TestNew_BadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Level = "loud"
	if _, err := New(cfg); err == nil {
		t.Fatal("New() accepted invalid level")
	}
}

func TestNew_FileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File = filepath.Join(t.TempDir(), "logs", "rewardd.log")

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	logger.Info("file entry")
	logger.Sync()

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file empty after write")
	}
}
