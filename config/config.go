package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	AuthNone  = "none"
	AuthHS256 = "hs256"
	AuthAuth0 = "auth0"
)

type Config struct {
	Addr  string
	Debug bool

	// Empty disables Redis: no snapshot cache, no cross-request dedupe.
	RedisURL       string
	SnapshotTTL    time.Duration
	DeduperTTL     time.Duration
	UpdatesChannel string

	CatalogFile   string
	BoardIdleTTL  time.Duration
	EvictInterval time.Duration

	EventWorkers   int
	EventBuffer    int
	HandoffTimeout time.Duration
	SSEHeartbeat   time.Duration

	AuthMode      string
	AuthSecret    string
	Auth0Domain   string
	Auth0Audience string
	JWKSCacheTTL  time.Duration
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	e := env{get: getenv}
	cfg := Config{
		Addr:           ":" + e.str("PORT", "8080"),
		Debug:          e.boolean("DEBUG", false),
		RedisURL:       e.str("REDIS_URL", ""),
		SnapshotTTL:    e.duration("SNAPSHOT_TTL", time.Hour),
		DeduperTTL:     e.duration("DEDUPER_TTL", 24*time.Hour),
		UpdatesChannel: e.str("UPDATES_CHANNEL", "tierlist-updates"),
		CatalogFile:    e.str("CATALOG_FILE", ""),
		BoardIdleTTL:   e.duration("BOARD_IDLE_TTL", 2*time.Hour),
		EvictInterval:  e.duration("BOARD_EVICT_INTERVAL", time.Minute),
		EventWorkers:   e.integer("EVENT_WORKERS", 8),
		EventBuffer:    e.integer("EVENT_BUFFER", 256),
		HandoffTimeout: e.duration("EVENT_HANDOFF_TIMEOUT", 50*time.Millisecond),
		SSEHeartbeat:   e.duration("SSE_HEARTBEAT", 30*time.Second),
		AuthMode:       strings.ToLower(e.str("AUTH_MODE", AuthNone)),
		AuthSecret:     e.str("LOCAL_AUTH_SHARED_SECRET", ""),
		Auth0Domain:    e.str("AUTH0_DOMAIN", ""),
		Auth0Audience:  e.str("AUTH0_AUDIENCE", ""),
		JWKSCacheTTL:   e.duration("JWKS_CACHE_TTL", 15*time.Minute),
	}
	if v := e.get("API_ADDR"); v != "" {
		cfg.Addr = v
	}
	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, cfg.Validate()
}

// Validate checks values that cannot be caught while parsing.
func (c Config) Validate() error {
	if c.EventWorkers <= 0 {
		return fmt.Errorf("invalid EVENT_WORKERS: must be greater than zero")
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("invalid EVENT_BUFFER: must not be negative")
	}
	switch c.AuthMode {
	case AuthNone:
	case AuthHS256:
		if c.AuthSecret == "" {
			return fmt.Errorf("LOCAL_AUTH_SHARED_SECRET must be set when AUTH_MODE=hs256")
		}
	case AuthAuth0:
		if c.Auth0Domain == "" || c.Auth0Audience == "" {
			return fmt.Errorf("missing Auth0 config")
		}
	default:
		return fmt.Errorf("unsupported AUTH_MODE %q", c.AuthMode)
	}
	return nil
}

// env collects the first parse error so Load can report it once.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, fallback string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return fallback
}

func (e *env) integer(key string, fallback int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func (e *env) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	if d < 0 {
		e.fail(fmt.Errorf("invalid %s: must not be negative", key))
		return fallback
	}
	return d
}

func (e *env) boolean(key string, fallback bool) bool {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return b
}

func (e *env) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
