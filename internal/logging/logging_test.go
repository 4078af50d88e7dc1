package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moodmash/authcore/internal/config"
	log "github.com/sirupsen/logrus"
)

func TestSetup_RejectsUnknownLevel(t *testing.T) {
	if _, err := Setup(config.LoggingConfig{Level: "chatty"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestSetup_WritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	closer, err := Setup(config.LoggingConfig{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() {
		_ = closer.Close()
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	})
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestSecurityEvent_Fields(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	SecurityEvent("webauthn.login", "counter_regression").Warn("authentication rejected")

	out := buf.String()
	for _, want := range []string{"event=webauthn.login", "reason=counter_regression", "security=true"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}
