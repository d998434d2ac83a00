package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Port               int
	DatabaseURL        string
	JWTSecret          string
	SessionTTL         time.Duration
	CookieSecure       bool
	AllowedOrigins     []string
	MaxUploadBytes     int64
	AuthRateLimitRPS   float64
	AuthRateLimitBurst int
	LogLevel           string
	LogFormat          string
}

// Load resolves settings from the process environment, then ./.env, then the
// YAML file named by CONFIG_FILE, then built-in defaults.
func Load() (Config, error) {
	lookup, err := resolver()
	if err != nil {
		return Config{}, err
	}
	return fromLookup(lookup)
}

// DatabaseURL resolves only DATABASE_URL, for tools that never serve HTTP.
func DatabaseURL() (string, error) {
	lookup, err := resolver()
	if err != nil {
		return "", err
	}
	return lookup("DATABASE_URL"), nil
}

func resolver() (func(string) string, error) {
	dotEnv, err := loadDotEnv(filepath.Join(".", ".env"))
	if err != nil {
		return nil, err
	}
	fileValues, err := loadYAMLFile(firstNonEmpty(os.Getenv("CONFIG_FILE"), dotEnv["CONFIG_FILE"]))
	if err != nil {
		return nil, err
	}
	return func(key string) string {
		return firstNonEmpty(os.Getenv(key), dotEnv[key], fileValues[key])
	}, nil
}

func fromLookup(lookup func(string) string) (Config, error) {
	cfg := Config{
		Port:               8080,
		SessionTTL:         7 * 24 * time.Hour,
		MaxUploadBytes:     32 << 20,
		AuthRateLimitRPS:   1,
		AuthRateLimitBurst: 5,
		LogLevel:           "info",
		LogFormat:          "json",
	}

	if portRaw := lookup("PORT"); portRaw != "" {
		port, err := strconv.Atoi(portRaw)
		if err != nil || port <= 0 {
			return Config{}, fmt.Errorf("invalid PORT: %q", portRaw)
		}
		cfg.Port = port
	}

	cfg.DatabaseURL = lookup("DATABASE_URL")

	cfg.JWTSecret = lookup("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required (environment variable, .env or CONFIG_FILE)")
	}

	if ttlRaw := firstNonEmpty(lookup("SESSION_TTL"), lookup("JWT_EXPIRES_IN")); ttlRaw != "" {
		ttl, err := parseTTL(ttlRaw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SESSION_TTL: %w", err)
		}
		cfg.SessionTTL = ttl
	}

	cfg.CookieSecure = strings.EqualFold(lookup("APP_ENV"), "production")
	if secureRaw := lookup("COOKIE_SECURE"); secureRaw != "" {
		secure, err := strconv.ParseBool(secureRaw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid COOKIE_SECURE: %q", secureRaw)
		}
		cfg.CookieSecure = secure
	}

	cfg.AllowedOrigins = splitList(lookup("ALLOWED_ORIGINS"))

	if maxRaw := lookup("MAX_UPLOAD_BYTES"); maxRaw != "" {
		maxBytes, err := strconv.ParseInt(maxRaw, 10, 64)
		if err != nil || maxBytes <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_UPLOAD_BYTES: %q", maxRaw)
		}
		cfg.MaxUploadBytes = maxBytes
	}

	if rpsRaw := lookup("AUTH_RATE_LIMIT_RPS"); rpsRaw != "" {
		rps, err := strconv.ParseFloat(rpsRaw, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("invalid AUTH_RATE_LIMIT_RPS: %q", rpsRaw)
		}
		cfg.AuthRateLimitRPS = rps
	}
	if burstRaw := lookup("AUTH_RATE_LIMIT_BURST"); burstRaw != "" {
		burst, err := strconv.Atoi(burstRaw)
		if err != nil || burst <= 0 {
			return Config{}, fmt.Errorf("invalid AUTH_RATE_LIMIT_BURST: %q", burstRaw)
		}
		cfg.AuthRateLimitBurst = burst
	}

	if level := lookup("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := lookup("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	return cfg, nil
}

// parseTTL accepts Go durations plus a whole-day suffix, e.g. "7d".
func parseTTL(raw string) (time.Duration, error) {
	value := strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("%q is not a positive day count", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	ttl, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		return 0, fmt.Errorf("%q must be positive", raw)
	}
	return ttl, nil
}

func firstNonEmpty(candidates ...string) string {
	for _, candidate := range candidates {
		if value := strings.TrimSpace(candidate); value != "" {
			return value
		}
	}
	return ""
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	return out
}

func loadDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return values, nil
}

// loadYAMLFile reads a flat mapping of the same keys the environment uses.
func loadYAMLFile(path string) (map[string]string, error) {
	if path == "" {
		return map[string]string{}, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		values[strings.ToUpper(strings.TrimSpace(key))] = fmt.Sprint(value)
	}
	return values, nil
}
