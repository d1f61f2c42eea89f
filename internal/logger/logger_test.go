package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestInitWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pbfkit.log")

	l := Init(Options{LogFile: path})
	if Get() != l {
		t.Fatal("Get did not return the installed logger")
	}
	l.Info("decoded block")
	l.Debug("hidden at info level")
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"decoded block"`) {
		t.Errorf("log file missing entry: %s", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Errorf("debug entry written at info level: %s", data)
	}
}

func TestInitReplaces(t *testing.T) {
	first := Init(Options{})
	second := Init(Options{Debug: true})
	if first == second {
		t.Fatal("expected a new logger")
	}
	if Get() != second {
		t.Error("expected the latest logger to be installed")
	}
	if !second.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug logger should enable debug level")
	}
}
