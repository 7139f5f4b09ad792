package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is api",
			check:  func(c *Config) bool { return c.Mode == "api" },
			expect: "api",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default env is development",
			check:  func(c *Config) bool { return c.Env == "development" },
			expect: "development",
		},
		{
			name:   "default system domain",
			check:  func(c *Config) bool { return c.SystemDomain == "localhost:8080" },
			expect: "localhost:8080",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "require elasticsearch defaults false",
			check:  func(c *Config) bool { return !c.RequireElasticsearch },
			expect: "false",
		},
		{
			name:   "auto fetch metadata defaults true",
			check:  func(c *Config) bool { return c.AutoFetchMetadata },
			expect: "true",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == ":8080" },
			expect: ":8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoad_AppEnvAliasesNodeEnv(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Cleanup(func() { os.Unsetenv("NODE_ENV") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.IsProduction() {
		t.Errorf("expected APP_ENV=production to set Env to production, got %q", cfg.Env)
	}
}
