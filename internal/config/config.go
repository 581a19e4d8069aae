// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the HTTP
// server, logging, the submission backup directory, outbound mail delivery,
// rate limiting, idempotency, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/tbourn/go-venue-backend/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
	CSP        string // Content-Security-Policy for the static site
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-venue-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Delivery strategy names accepted in MAIL_STRATEGIES.
const (
	StrategySMTPS    = "smtps"
	StrategyService  = "service"
	StrategySTARTTLS = "starttls"
	StrategyHTTP     = "http"
)

// MailConfig holds the outbound notification settings shared by every
// delivery strategy. Credentials never have defaults.
type MailConfig struct {
	Strategies []string // MAIL_STRATEGIES, tried in order

	Host           string // SMTP_HOST
	SSLPort        int    // SMTP_SSL_PORT (implicit TLS)
	SubmissionPort int    // SMTP_SUBMISSION_PORT (STARTTLS)
	Service        string // SMTP_SERVICE preset name, e.g. "gmail"
	Username       string // SMTP_USERNAME
	Password       string // SMTP_PASSWORD or keyring lookup
	SkipVerify     bool   // SMTP_INSECURE_SKIP_VERIFY

	From     string // MAIL_FROM
	FromName string // MAIL_FROM_NAME
	To       string // MAIL_TO (operator mailbox)

	APIURL string // MAIL_API_URL (http strategy)
	APIKey string // MAIL_API_KEY

	AttemptTimeout time.Duration // MAIL_ATTEMPT_TIMEOUT
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s, must cover the whole mail fail-over chain
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	LogRedact      bool   // scrub PII from access logs (RedactingLogger)
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath         string // SQLite path (idempotency records)
	SubmissionsDir string // backup directory for contact submissions
	StaticDir      string // optional marketing site root served at "/"

	// Mail
	Mail MailConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// defaultCSP allows same-origin assets plus inline styles and https images,
// which is what the marketing pages use.
const defaultCSP = "default-src 'self'; img-src 'self' data: https:; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'"

// keyringGet is swapped in tests.
var keyringGet = keyring.Get

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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 2*time.Minute),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 10<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		LogRedact:      getbool("LOG_REDACT", true),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// App
		DBPath:         getenv("DB_PATH", "venue.db"),
		SubmissionsDir: getenv("SUBMISSIONS_DIR", "contact-submissions"),
		StaticDir:      getenv("STATIC_DIR", ""),

		Mail: MailConfig{
			Strategies:     splitCSV(strings.ToLower(getenv("MAIL_STRATEGIES", "smtps,service,starttls"))),
			Host:           getenv("SMTP_HOST", "smtp.gmail.com"),
			SSLPort:        getint("SMTP_SSL_PORT", 465),
			SubmissionPort: getint("SMTP_SUBMISSION_PORT", 587),
			Service:        strings.ToLower(getenv("SMTP_SERVICE", "gmail")),
			Username:       getenv("SMTP_USERNAME", ""),
			Password:       getenv("SMTP_PASSWORD", ""),
			SkipVerify:     getbool("SMTP_INSECURE_SKIP_VERIFY", false),
			From:           getenv("MAIL_FROM", ""),
			FromName:       getenv("MAIL_FROM_NAME", "Venue Website"),
			To:             getenv("MAIL_TO", ""),
			APIURL:         getenv("MAIL_API_URL", "https://api.sendgrid.com/v3/mail/send"),
			APIKey:         getenv("MAIL_API_KEY", ""),
			AttemptTimeout: getdur("MAIL_ATTEMPT_TIMEOUT", 30*time.Second),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 1.0),
		RateBurst: getint("RATE_BURST", 5),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
			CSP:        getenv("CONTENT_SECURITY_POLICY", defaultCSP),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-venue-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
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
	cfg.Mail.From = sysutil.FirstNonEmpty(cfg.Mail.From, cfg.Mail.Username)
	cfg.Mail.To = sysutil.FirstNonEmpty(cfg.Mail.To, cfg.Mail.Username)

	// --- secrets ---
	if cfg.Mail.Password == "" {
		if svc := getenv("SMTP_PASSWORD_KEYRING_SERVICE", ""); svc != "" {
			pw, err := keyringGet(svc, cfg.Mail.Username)
			if err != nil {
				return cfg, fmt.Errorf("read SMTP password from keyring %q: %w", svc, err)
			}
			cfg.Mail.Password = pw
		}
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
	if cfg.MaxBodyBytes < 10<<20 {
		return cfg, errors.New("MAX_BODY_BYTES must be at least 10 MiB")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.SubmissionsDir) == "" {
		return cfg, errors.New("SUBMISSIONS_DIR must not be empty")
	}
	if err := cfg.Mail.validate(); err != nil {
		return cfg, err
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

	return cfg, nil
}

// usesSMTP reports whether any configured strategy talks SMTP.
func (m MailConfig) usesSMTP() bool {
	for _, s := range m.Strategies {
		if s != StrategyHTTP {
			return true
		}
	}
	return false
}

func (m MailConfig) validate() error {
	if len(m.Strategies) == 0 {
		return errors.New("MAIL_STRATEGIES must name at least one strategy")
	}
	seen := make(map[string]struct{}, len(m.Strategies))
	for _, s := range m.Strategies {
		switch s {
		case StrategySMTPS, StrategyService, StrategySTARTTLS, StrategyHTTP:
		default:
			return fmt.Errorf("MAIL_STRATEGIES: unknown strategy %q", s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("MAIL_STRATEGIES: strategy %q listed twice", s)
		}
		seen[s] = struct{}{}
	}
	if strings.TrimSpace(m.To) == "" {
		return errors.New("MAIL_TO (or SMTP_USERNAME) must be set")
	}
	if strings.TrimSpace(m.From) == "" {
		return errors.New("MAIL_FROM (or SMTP_USERNAME) must be set")
	}
	if m.usesSMTP() {
		if strings.TrimSpace(m.Host) == "" {
			return errors.New("SMTP_HOST must not be empty")
		}
		if m.SSLPort <= 0 || m.SubmissionPort <= 0 {
			return errors.New("SMTP ports must be > 0")
		}
	}
	if _, ok := seen[StrategyHTTP]; ok {
		if strings.TrimSpace(m.APIURL) == "" || strings.TrimSpace(m.APIKey) == "" {
			return errors.New("MAIL_API_URL and MAIL_API_KEY are required for the http strategy")
		}
	}
	if m.AttemptTimeout <= 0 {
		return errors.New("MAIL_ATTEMPT_TIMEOUT must be > 0")
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
	if b, ok := sysutil.ParseBool(os.Getenv(k)); ok {
		return b
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
