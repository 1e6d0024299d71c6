package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "weatherd.log")
	logger, closer, err := New("debug", path)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.WithField("component", "test").Debug("hello file")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if !strings.Contains(string(b), "hello file") || !strings.Contains(string(b), "component=test") {
		t.Fatalf("unexpected log contents: %s", b)
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger, _, err := New("nonsense", "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %v", logger.GetLevel())
	}
	SetLevel(logger, "warn")
	if logger.GetLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %v", logger.GetLevel())
	}
}
