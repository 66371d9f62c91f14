package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values.
type Config struct {
	Environment        string
	HTTPPort           string
	ServiceName        string
	ClientID           string
	RedirectURI        string
	IssuerTemplate     string
	BaseDomain         string
	DefaultTenant      string
	TenantOverrides    map[string]string
	AllowedOrigins     []string
	SessionTTL         time.Duration
	CallbackWindow     time.Duration
	JWKSCacheTTL       time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitRPM       int
	TelemetryEndpoint  string
	TelemetryInsecure  bool
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	clientID := strings.TrimSpace(os.Getenv("OAUTH_CLIENT_ID"))
	if clientID == "" {
		return Config{}, fmt.Errorf("OAUTH_CLIENT_ID is required")
	}
	redirectURI := strings.TrimSpace(os.Getenv("OAUTH_REDIRECT_URI"))
	if redirectURI == "" {
		return Config{}, fmt.Errorf("OAUTH_REDIRECT_URI is required")
	}
	issuerTemplate := strings.TrimSpace(os.Getenv("ISSUER_TEMPLATE"))
	if issuerTemplate == "" {
		return Config{}, fmt.Errorf("ISSUER_TEMPLATE is required")
	}

	cfg := Config{
		Environment:        getEnv("APP_ENV", "development"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		ServiceName:        getEnv("SERVICE_NAME", "nortide-console-auth"),
		ClientID:           clientID,
		RedirectURI:        redirectURI,
		IssuerTemplate:     issuerTemplate,
		BaseDomain:         strings.TrimSpace(os.Getenv("CONSOLE_BASE_DOMAIN")),
		DefaultTenant:      strings.TrimSpace(os.Getenv("DEFAULT_TENANT")),
		TenantOverrides:    getMap("TENANT_HOST_OVERRIDES"),
		AllowedOrigins:     getList("RELAY_ALLOWED_ORIGINS", nil),
		SessionTTL:         getDuration("AUTHZ_SESSION_TTL", 10*time.Minute),
		CallbackWindow:     getDuration("AUTHZ_CALLBACK_WINDOW", 2*time.Minute),
		JWKSCacheTTL:       getDuration("JWKS_CACHE_TTL", 5*time.Minute),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0),
		RateLimitRPM:       getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedMethods: getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders: getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
	}

	if len(cfg.AllowedOrigins) == 0 {
		return Config{}, fmt.Errorf("RELAY_ALLOWED_ORIGINS is required")
	}
	if cfg.CallbackWindow <= 0 {
		cfg.CallbackWindow = 2 * time.Minute
	}
	if cfg.SessionTTL < cfg.CallbackWindow {
		cfg.SessionTTL = cfg.CallbackWindow
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}

// getMap parses "host=slug,host2=slug2" pairs.
func getMap(key string) map[string]string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		host, slug, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || host == "" || slug == "" {
			continue
		}
		out[strings.TrimSpace(host)] = strings.TrimSpace(slug)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
