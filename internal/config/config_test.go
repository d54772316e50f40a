package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.DispatchInterval != 5*time.Minute {
		t.Errorf("DispatchInterval = %v, want 5m", cfg.DispatchInterval)
	}
	if cfg.DetectorInterval != time.Hour {
		t.Errorf("DetectorInterval = %v, want 1h", cfg.DetectorInterval)
	}
	if cfg.DispatchBatch != 20 {
		t.Errorf("DispatchBatch = %d, want 20", cfg.DispatchBatch)
	}
	if cfg.DetectorBatch != 50 {
		t.Errorf("DetectorBatch = %d, want 50", cfg.DetectorBatch)
	}
	if cfg.AIEnabled {
		t.Error("AIEnabled should be false without OPENAI_API_KEY")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("CRON_SECRET", "s3cret")
	t.Setenv("WEBHOOK_SECRET", "hook")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DISPATCH_INTERVAL", "90s")
	t.Setenv("DISPATCH_BATCH", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.DBHost != "db.internal" {
		t.Errorf("DBHost = %q", cfg.DBHost)
	}
	if cfg.CronSecret != "s3cret" || cfg.WebhookSecret != "hook" {
		t.Error("secrets not loaded")
	}
	if !cfg.AIEnabled {
		t.Error("AIEnabled should be true with OPENAI_API_KEY set")
	}
	if cfg.DispatchInterval != 90*time.Second {
		t.Errorf("DispatchInterval = %v, want 90s", cfg.DispatchInterval)
	}
	if cfg.DispatchBatch != 5 {
		t.Errorf("DispatchBatch = %d, want 5", cfg.DispatchBatch)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad port", "PORT", "not-a-port"},
		{"bad db port", "DB_PORT", "x"},
		{"bad interval", "DISPATCH_INTERVAL", "soon"},
		{"bad batch", "DETECTOR_BATCH", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("Load() should reject %s=%s", tt.key, tt.value)
			}
		})
	}
}
