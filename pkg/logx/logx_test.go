package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestServiceFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.log")
	svc, log := New(Config{Level: "INFO", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	log.Info("group saved", String("key", "abc123"), Int("items", 3))
	log.Debug("below threshold")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "group saved") || !strings.Contains(out, `"key":"abc123"`) {
		t.Fatalf("log output = %q", out)
	}
	if strings.Contains(out, "below threshold") {
		t.Fatal("debug line must be filtered at info level")
	}
}

func TestWithFieldsCarryAcrossApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.log")
	svc, log := New(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	defer svc.Close()

	child := log.With(Int64("chat_id", -100), String("comp", "fanout"))
	child.Warn("destination send failed")

	// Re-applying config must not invalidate loggers already handed out.
	svc.Apply(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	child.Warn("still attached")

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, `"chat_id":-100`) || !strings.Contains(out, `"comp":"fanout"`) {
		t.Fatalf("bound fields missing: %q", out)
	}
	if !strings.Contains(out, "still attached") {
		t.Fatalf("logger lost after Apply: %q", out)
	}
}

func TestNopIsSilent(t *testing.T) {
	t.Parallel()
	log := Nop()
	log.Error("goes nowhere", String("k", "v"), Err(os.ErrNotExist))
	log.With(Int("n", 1)).Info("also nowhere")
	if log.IsZero() {
		t.Fatal("Nop logger must not read as zero")
	}
}
