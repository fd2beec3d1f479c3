package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to validate, got error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.StreamInterval != time.Second {
		t.Fatalf("unexpected stream interval: %s", cfg.StreamInterval)
	}
	if cfg.RecognitionURL != "" {
		t.Fatalf("expected recognition URL to be empty by default, got %s", cfg.RecognitionURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_URL", "http://recognizer:9000")
	t.Setenv("STREAM_INTERVAL", "2s")
	t.Setenv("MAX_UPLOAD_SIZE", "2048")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.RecognitionURL != "http://recognizer:9000" {
		t.Fatalf("unexpected recognition URL: %s", cfg.RecognitionURL)
	}
	if cfg.StreamInterval != 2*time.Second {
		t.Fatalf("unexpected stream interval: %s", cfg.StreamInterval)
	}
	if cfg.MaxUploadSize != 2048 {
		t.Fatalf("unexpected max upload size: %d", cfg.MaxUploadSize)
	}
}

func TestValidateRejectsTightInterval(t *testing.T) {
	t.Setenv("STREAM_INTERVAL", "10ms")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for too small interval")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("MAX_UPLOAD_SIZE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if cfg.MaxUploadSize != 8<<20 {
		t.Fatalf("expected default upload size, got %d", cfg.MaxUploadSize)
	}
}
