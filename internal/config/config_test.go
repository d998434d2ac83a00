package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mapLookup(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := fromLookup(mapLookup(map[string]string{"JWT_SECRET": "s3cret"}))
	if err != nil {
		t.Fatalf("fromLookup() error = %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Errorf("SessionTTL = %v, want 168h", cfg.SessionTTL)
	}
	if cfg.CookieSecure {
		t.Errorf("CookieSecure should default to false outside production")
	}
	if cfg.MaxUploadBytes != 32<<20 {
		t.Errorf("MaxUploadBytes = %d", cfg.MaxUploadBytes)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
}

func TestFromLookup_RequiresSecret(t *testing.T) {
	if _, err := fromLookup(mapLookup(nil)); err == nil {
		t.Fatal("expected error when JWT_SECRET is missing")
	}
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := fromLookup(mapLookup(map[string]string{
		"JWT_SECRET":            "s",
		"PORT":                  "9090",
		"SESSION_TTL":           "36h",
		"APP_ENV":               "production",
		"ALLOWED_ORIGINS":       "http://a.test, ,http://b.test",
		"AUTH_RATE_LIMIT_RPS":   "2.5",
		"AUTH_RATE_LIMIT_BURST": "10",
		"LOG_LEVEL":             "DEBUG",
	}))
	if err != nil {
		t.Fatalf("fromLookup() error = %v", err)
	}
	if cfg.Port != 9090 || cfg.SessionTTL != 36*time.Hour {
		t.Errorf("unexpected port/ttl: %d %v", cfg.Port, cfg.SessionTTL)
	}
	if !cfg.CookieSecure {
		t.Errorf("CookieSecure should follow APP_ENV=production")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "http://b.test" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.AuthRateLimitRPS != 2.5 || cfg.AuthRateLimitBurst != 10 {
		t.Errorf("rate limit = %v/%d", cfg.AuthRateLimitRPS, cfg.AuthRateLimitBurst)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestFromLookup_Invalid(t *testing.T) {
	cases := map[string]string{
		"PORT":             "abc",
		"SESSION_TTL":      "0d",
		"COOKIE_SECURE":    "maybe",
		"MAX_UPLOAD_BYTES": "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			_, err := fromLookup(mapLookup(map[string]string{"JWT_SECRET": "s", key: value}))
			if err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
		})
	}
}

func TestParseTTL(t *testing.T) {
	cases := map[string]time.Duration{
		"7d":  7 * 24 * time.Hour,
		"1d":  24 * time.Hour,
		"90m": 90 * time.Minute,
	}
	for raw, want := range cases {
		got, err := parseTTL(raw)
		if err != nil {
			t.Fatalf("parseTTL(%q) error = %v", raw, err)
		}
		if got != want {
			t.Errorf("parseTTL(%q) = %v, want %v", raw, got, want)
		}
	}
	for _, raw := range []string{"", "xd", "-5m", "soon"} {
		if _, err := parseTTL(raw); err == nil {
			t.Errorf("parseTTL(%q) expected error", raw)
		}
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocktrend.yaml")
	body := "port: 7070\njwt_secret: from-file\ncookie_secure: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	values, err := loadYAMLFile(path)
	if err != nil {
		t.Fatalf("loadYAMLFile() error = %v", err)
	}
	cfg, err := fromLookup(mapLookup(values))
	if err != nil {
		t.Fatalf("fromLookup() error = %v", err)
	}
	if cfg.Port != 7070 || cfg.JWTSecret != "from-file" || !cfg.CookieSecure {
		t.Errorf("unexpected config from yaml: %+v", cfg)
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	values, err := loadDotEnv(filepath.Join(t.TempDir(), ".env"))
	if err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if len(values) != 0 {
		t.Errorf("expected no values, got %v", values)
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("JWT_SECRET=dot\nPORT=6060\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	values, err := loadDotEnv(path)
	if err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if values["JWT_SECRET"] != "dot" || values["PORT"] != "6060" {
		t.Errorf("unexpected values: %v", values)
	}
}
