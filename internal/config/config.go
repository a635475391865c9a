// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, and observability.
//
// The consensus and integration sections are declared with struct tags and
// parsed by caarlos0/env; per-group overrides come from an optional YAML file
// (see groups.go).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// SecurityConfig defines response hardening settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          // ENABLE_HSTS
	HSTSMaxAge time.Duration // HSTS_MAX_AGE
	NoStore    bool          // SECURITY_NO_STORE
}

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "groupwrite")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// ConsensusConfig holds the defaults applied to every group's machine.
type ConsensusConfig struct {
	BufferThreshold   int             `env:"BUFFER_THRESHOLD"       envDefault:"5"`
	ApprovalMargin    int             `env:"APPROVAL_MARGIN"        envDefault:"1"`
	RejectionMargin   int             `env:"REJECTION_MARGIN"` // 0 = same as approval margin
	VoteQuorum        int             `env:"VOTE_QUORUM"            envDefault:"1"`
	VotingTTL         time.Duration   `env:"VOTING_TTL"             envDefault:"0s"` // 0 = no deadline
	RewardTotal       decimal.Decimal `env:"REWARD_TOTAL_PER_DRAFT" envDefault:"0.03"`
	RewardPrecision   int32           `env:"REWARD_PRECISION"       envDefault:"2"`
	RewardSplitPolicy string          `env:"REWARD_SPLIT_POLICY"    envDefault:"equal"`
	RetriggerPolicy   string          `env:"RETRIGGER_POLICY"       envDefault:"immediate"`
	GenerationTimeout time.Duration   `env:"GENERATION_TIMEOUT"     envDefault:"60s"`
	LedgerMaxAttempts uint            `env:"LEDGER_MAX_ATTEMPTS"    envDefault:"3"`
	LedgerBackoffMin  time.Duration   `env:"LEDGER_BACKOFF_MIN"     envDefault:"1s"`
	LedgerBackoffMax  time.Duration   `env:"LEDGER_BACKOFF_MAX"     envDefault:"10s"`
	SweepInterval     time.Duration   `env:"SWEEP_INTERVAL"         envDefault:"30s"`
	GroupsFile        string          `env:"GROUPS_FILE"`
}

// IntegrationConfig points at the external generator, ledger and chat bridge.
// Empty values disable the integration where a fallback exists.
type IntegrationConfig struct {
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	LedgerURL     string `env:"LEDGER_URL"`
	LedgerAPIKey  string `env:"LEDGER_API_KEY"`
	RedisURL      string `env:"REDIS_URL"`
	StreamPrefix  string `env:"STREAM_PREFIX" envDefault:"groupwrite"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogPseudonyms  bool   // log operator ids as hashes
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	Security SecurityConfig
	CORS     CORSConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	// Domain
	Consensus   ConsensusConfig
	Integration IntegrationConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogPseudonyms:  getbool("LOG_PSEUDONYMIZE_OPERATORS", true),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "groupwrite.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
			NoStore:    getbool("SECURITY_NO_STORE", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "groupwrite"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	if err := env.Parse(&cfg.Consensus); err != nil {
		return cfg, fmt.Errorf("parse consensus env: %w", err)
	}
	if err := env.Parse(&cfg.Integration); err != nil {
		return cfg, fmt.Errorf("parse integration env: %w", err)
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.Consensus.RewardSplitPolicy = strings.ToLower(strings.TrimSpace(cfg.Consensus.RewardSplitPolicy))
	cfg.Consensus.RetriggerPolicy = strings.ToLower(strings.TrimSpace(cfg.Consensus.RetriggerPolicy))
	if cfg.Consensus.RejectionMargin == 0 {
		cfg.Consensus.RejectionMargin = cfg.Consensus.ApprovalMargin
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if err := cfg.Consensus.validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func (c ConsensusConfig) validate() error {
	switch {
	case c.BufferThreshold < 1:
		return errors.New("BUFFER_THRESHOLD must be >= 1")
	case c.ApprovalMargin < 1:
		return errors.New("APPROVAL_MARGIN must be >= 1")
	case c.RejectionMargin < 1:
		return errors.New("REJECTION_MARGIN must be >= 1")
	case c.VoteQuorum < 1:
		return errors.New("VOTE_QUORUM must be >= 1")
	case c.VotingTTL < 0:
		return errors.New("VOTING_TTL must be >= 0")
	case c.RewardTotal.IsNegative():
		return errors.New("REWARD_TOTAL_PER_DRAFT must be >= 0")
	case c.RewardPrecision < 0 || c.RewardPrecision > 8:
		return errors.New("REWARD_PRECISION must be between 0 and 8")
	case !c.RewardTotal.Equal(c.RewardTotal.Truncate(c.RewardPrecision)):
		return fmt.Errorf("REWARD_TOTAL_PER_DRAFT %s has more than REWARD_PRECISION=%d decimal places", c.RewardTotal, c.RewardPrecision)
	case c.RewardSplitPolicy != "equal":
		return errors.New("REWARD_SPLIT_POLICY must be: equal")
	case c.RetriggerPolicy != "immediate" && c.RetriggerPolicy != "reaccumulate":
		return errors.New("RETRIGGER_POLICY must be one of: immediate, reaccumulate")
	case c.GenerationTimeout <= 0:
		return errors.New("GENERATION_TIMEOUT must be > 0")
	case c.LedgerMaxAttempts < 1:
		return errors.New("LEDGER_MAX_ATTEMPTS must be >= 1")
	case c.LedgerBackoffMin <= 0 || c.LedgerBackoffMax < c.LedgerBackoffMin:
		return errors.New("LEDGER_BACKOFF_MIN must be > 0 and <= LEDGER_BACKOFF_MAX")
	case c.SweepInterval <= 0:
		return errors.New("SWEEP_INTERVAL must be > 0")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
