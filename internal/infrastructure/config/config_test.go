package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
driver:
  id: "power_sum_test"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
host:
  base_url: "http://192.168.1.10:8008"
  inventory_timeout: 20
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Driver.ID != "power_sum_test" {
		t.Errorf("Driver.ID = %q, want %q", cfg.Driver.ID, "power_sum_test")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.Host.BaseURL != "http://192.168.1.10:8008" {
		t.Errorf("Host.BaseURL = %q, want %q", cfg.Host.BaseURL, "http://192.168.1.10:8008")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "driver: [unclosed"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	// A minimal file should leave the built-in defaults intact.
	cfg, err := Load(writeConfig(t, `driver: {id: "power_sum"}`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Reconcile.RestartDelaySourceMissing != 600 {
		t.Errorf("RestartDelaySourceMissing = %d, want 600", cfg.Reconcile.RestartDelaySourceMissing)
	}
	if cfg.Reconcile.RestartDelayStalled != 1 {
		t.Errorf("RestartDelayStalled = %d, want 1", cfg.Reconcile.RestartDelayStalled)
	}
	if cfg.Tariff.GraceDelay != 5 {
		t.Errorf("Tariff.GraceDelay = %d, want 5", cfg.Tariff.GraceDelay)
	}
	if cfg.Host.InventoryTimeout != 20 {
		t.Errorf("Host.InventoryTimeout = %d, want 20", cfg.Host.InventoryTimeout)
	}
	if len(cfg.Discovery.DailyResetApps) != 2 {
		t.Errorf("DailyResetApps = %v, want two entries", cfg.Discovery.DailyResetApps)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SUMLINE_DATABASE_PATH", "/env/override.db")
	t.Setenv("SUMLINE_HOST_TOKEN", "env-token")

	cfg, err := Load(writeConfig(t, `driver: {id: "power_sum"}`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/env/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Host.Token != "env-token" {
		t.Errorf("Host.Token = %q, want env override", cfg.Host.Token)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(_ *Config) {}, false},
		{"empty driver id", func(c *Config) { c.Driver.ID = "" }, true},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid qos", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid api port", func(c *Config) { c.API.Port = 0 }, true},
		{"empty host url", func(c *Config) { c.Host.BaseURL = "" }, true},
		{"zero inventory timeout", func(c *Config) { c.Host.InventoryTimeout = 0 }, true},
		{"negative stalled delay", func(c *Config) { c.Reconcile.RestartDelayStalled = -1 }, true},
		{"zero stalled delay allowed", func(c *Config) { c.Reconcile.RestartDelayStalled = 0 }, false},
		{"no origin capabilities", func(c *Config) { c.Discovery.OriginCapabilities = nil }, true},
		{"empty own driver uri", func(c *Config) { c.Discovery.OwnDriverURI = "" }, true},
		{"negative grace delay", func(c *Config) { c.Tariff.GraceDelay = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
