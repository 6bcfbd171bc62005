package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration populated from environment variables.
type Config struct {
	// Core
	ServerPort        int
	ServerEnv         string // "development" or "production"
	LogHealthRequests bool
	CORSAllowOrigins  string

	// Upstream (Microsoft Graph) app credentials — consumed only by
	// internal/graphclient.Credential, never by the core scope/token engine.
	TenantID     string
	ClientID     string
	ClientSecret string
	UpstreamBase string // default https://graph.microsoft.com

	// Upstream call deadlines
	UpstreamTimeout    time.Duration
	EnumerationTimeout time.Duration

	// JWT
	JWTSigningKey        string
	JWTIssuer            string
	JWTAudience          string
	JWTExpirationSeconds int

	// Admin
	AdminKey string

	// Scope materialization policy
	AllowedPlaceTypes     []string
	AllowGenericResources bool
	MaxScopeSize          int
	UsePlacesApi          bool
	ScopeCacheTTL         time.Duration

	// Scope cache backend
	CacheBackend      string // "memory" or "distributed"
	ValkeyURL         string
	ValkeyDialTimeout time.Duration
	// ValkeyPoolSize sizes the connection pool backing the revocation set, which spec.md §5 calls out as read on
	// every protected request regardless of CacheBackend — a materially higher-traffic path than the teacher's
	// occasional cache/pub-sub use of the same client.
	ValkeyPoolSize int

	// API keys: apiKey -> bound group IDs
	APIKeys map[string][]string

	// Rate limiting
	RateLimitAPIRequests       int
	RateLimitAPIWindowSeconds  int
	RateLimitAuthCount         int
	RateLimitAuthWindowSeconds int
}

// Load reads configuration from environment variables. It returns an error if any variable is set but cannot be
// parsed, or if required security values are missing.
func Load() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		ServerPort:        p.int("SERVER_PORT", 8080),
		ServerEnv:         envStr("SERVER_ENV", "production"),
		LogHealthRequests: p.bool("LOG_HEALTH_REQUESTS", true),
		CORSAllowOrigins:  envStr("CORS_ALLOW_ORIGINS", "*"),

		TenantID:     envStr("TENANT_ID", ""),
		ClientID:     envStr("CLIENT_ID", ""),
		ClientSecret: envStr("CLIENT_SECRET", ""),
		UpstreamBase: envStr("UPSTREAM_BASE", "https://graph.microsoft.com"),

		UpstreamTimeout:    p.duration("UPSTREAM_TIMEOUT", 30*time.Second),
		EnumerationTimeout: p.duration("ENUMERATION_TIMEOUT", 60*time.Second),

		JWTSigningKey:        envStr("JWT_SIGNING_KEY", ""),
		JWTIssuer:            envStr("JWT_ISSUER", "graphscopeproxy"),
		JWTAudience:          envStr("JWT_AUDIENCE", "graphscopeproxy-clients"),
		JWTExpirationSeconds: p.int("JWT_EXPIRATION_SECONDS", 900),

		AdminKey: envStr("ADMIN_KEY", ""),

		AllowedPlaceTypes:     splitCSV(envStr("ALLOWED_PLACE_TYPES", "room,workspace")),
		AllowGenericResources: p.bool("ALLOW_GENERIC_RESOURCES", false),
		MaxScopeSize:          p.int("MAX_SCOPE_SIZE", 500),
		UsePlacesApi:          p.bool("USE_PLACES_API", true),
		ScopeCacheTTL:         p.duration("SCOPE_CACHE_TTL", 900*time.Second),

		CacheBackend:      envStr("CACHE_BACKEND", "memory"),
		ValkeyURL:         envStr("VALKEY_URL", "valkey://valkey:6379/0"),
		ValkeyDialTimeout: p.duration("VALKEY_DIAL_TIMEOUT", 5*time.Second),
		ValkeyPoolSize:    p.int("VALKEY_POOL_SIZE", 100),

		RateLimitAPIRequests:       p.int("RATE_LIMIT_API_REQUESTS", 60),
		RateLimitAPIWindowSeconds:  p.int("RATE_LIMIT_API_WINDOW_SECONDS", 60),
		RateLimitAuthCount:         p.int("RATE_LIMIT_AUTH_COUNT", 5),
		RateLimitAuthWindowSeconds: p.int("RATE_LIMIT_AUTH_WINDOW_SECONDS", 300),
	}

	apiKeys, err := parseAPIKeys(envStr("API_KEYS_JSON", ""))
	if err != nil {
		p.errs = append(p.errs, err)
	}
	cfg.APIKeys = apiKeys

	if parseErr := errors.Join(p.errs...); parseErr != nil {
		return nil, parseErr
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.ServerEnv == "development"
}

// GroupsForAPIKey returns the groups an API key is bound to, or false if the key is unknown.
func (c *Config) GroupsForAPIKey(apiKey string) ([]string, bool) {
	groups, ok := c.APIKeys[apiKey]
	return groups, ok
}

func (c *Config) validate() error {
	var errs []error

	if c.JWTSigningKey == "" {
		errs = append(errs, fmt.Errorf("JWT_SIGNING_KEY is required"))
	} else if len(c.JWTSigningKey) < 32 {
		errs = append(errs, fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes"))
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT must be between 1 and 65535"))
	}

	if c.JWTExpirationSeconds < 1 {
		errs = append(errs, fmt.Errorf("JWT_EXPIRATION_SECONDS must be at least 1"))
	}

	if c.MaxScopeSize < 1 {
		errs = append(errs, fmt.Errorf("MAX_SCOPE_SIZE must be at least 1"))
	}

	if c.ScopeCacheTTL < time.Second {
		errs = append(errs, fmt.Errorf("SCOPE_CACHE_TTL must be at least 1s"))
	}

	if c.ValkeyPoolSize < 1 {
		errs = append(errs, fmt.Errorf("VALKEY_POOL_SIZE must be at least 1"))
	}

	switch c.CacheBackend {
	case "memory", "distributed":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", "memory", "distributed", c.CacheBackend))
	}

	for _, t := range c.AllowedPlaceTypes {
		switch t {
		case "room", "workspace", "equipment", "generic":
		default:
			errs = append(errs, fmt.Errorf("ALLOWED_PLACE_TYPES contains unknown place type %q", t))
		}
	}

	if c.RateLimitAPIRequests < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_API_REQUESTS must be at least 1"))
	}
	if c.RateLimitAPIWindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_API_WINDOW_SECONDS must be at least 1"))
	}
	if c.RateLimitAuthCount < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_AUTH_COUNT must be at least 1"))
	}
	if c.RateLimitAuthWindowSeconds < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_AUTH_WINDOW_SECONDS must be at least 1"))
	}

	return errors.Join(errs...)
}

// parser collects parse errors so Load can report all invalid values at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected integer)", key, v))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected boolean)", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid value for %s: %q (expected duration like \"24h\" or \"30m\")", key, v))
		return fallback
	}
	return d
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAPIKeys parses API_KEYS_JSON, a JSON object mapping apiKey -> [groupId, ...].
func parseAPIKeys(raw string) (map[string][]string, error) {
	if raw == "" {
		return map[string][]string{}, nil
	}
	var m map[string][]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("invalid value for API_KEYS_JSON: %w", err)
	}
	return m, nil
}
