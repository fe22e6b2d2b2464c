package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear relevant envs
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("ASK_URL")
	os.Unsetenv("TURN_SILENCE_MS")
	os.Unsetenv("TURN_VOICE_OUTPUT")
	os.Unsetenv("CAPTURE_LOCALE")

	c := Load()

	if c.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", c.Server.Port)
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if c.Ask.URL != "http://localhost:5000/ask" {
		t.Fatalf("unexpected default ask url %q", c.Ask.URL)
	}
	if c.SilenceThreshold() != 1500*time.Millisecond {
		t.Fatalf("expected 1500ms silence threshold, got %s", c.SilenceThreshold())
	}
	if !c.Turn.VoiceOutput || !c.Turn.BargeIn {
		t.Fatalf("voice output and barge-in should default on")
	}
	if c.Capture.Locale != "tr-TR" {
		t.Fatalf("expected default locale tr-TR, got %q", c.Capture.Locale)
	}
	if c.Retry.MaxAttempts != 8 {
		t.Fatalf("expected 8 retry attempts, got %d", c.Retry.MaxAttempts)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TURN_SILENCE_MS", "900")
	t.Setenv("TURN_VOICE_OUTPUT", "false")
	t.Setenv("ASK_TIMEOUT_SEC", "5")

	c := Load()

	if c.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %q", c.Server.Port)
	}
	if c.SilenceThreshold() != 900*time.Millisecond {
		t.Fatalf("expected 900ms, got %s", c.SilenceThreshold())
	}
	if c.Turn.VoiceOutput {
		t.Fatalf("expected voice output disabled")
	}
	if c.AskTimeout() != 5*time.Second {
		t.Fatalf("expected 5s ask timeout, got %s", c.AskTimeout())
	}
}
