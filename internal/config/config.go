// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, the image backend address, job lifecycle
// tuning (timeouts, polling backoff, retention), rate limiting, and
// observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-imagebot-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// GatewayConfig defines how terminal notifications reach the chat platform.
// When WebhookURL is empty, notifications are logged instead of delivered
// (useful for development and tests).
type GatewayConfig struct {
	WebhookURL string        // GATEWAY_WEBHOOK_URL, e.g. "https://gateway:9000/notify"
	Token      string        // GATEWAY_TOKEN, shared secret sent as X-Gateway-Token
	Timeout    time.Duration // per-delivery HTTP timeout
}

// BackendConfig defines how the image-generation service is reached.
type BackendConfig struct {
	BaseURL        string        // IMAGE_API_BASE_URL, e.g. "http://localhost:8000"
	RequestTimeout time.Duration // per-call HTTP timeout
}

// JobsConfig tunes the job lifecycle orchestrator.
type JobsConfig struct {
	GenerateTimeout time.Duration // wall-clock deadline for generation jobs
	EditTimeout     time.Duration // wall-clock deadline for edit jobs
	PollInterval    time.Duration // initial poll interval
	PollMaxInterval time.Duration // backoff cap
	PollFailBudget  int           // consecutive unreachable polls before Failed
	Retention       time.Duration // how long terminal jobs stay queryable
	MaxActive       int           // cap on concurrently tracked jobs (0 = unlimited)
}

// IntakeConfig holds request-normalization settings: per-variant step
// defaults for the free-text path and the chat allow-lists.
type IntakeConfig struct {
	NLGenerateSteps int      // steps default for free-text "draw ..." requests
	NLEditSteps     int      // steps default for free-text edit requests
	AllowedGuilds   []string // empty = unrestricted
	AllowedChannels []string // empty = unrestricted
	DefaultLanguage string   // fallback reply language (en|zh)
}

// ImagesConfig bounds inbound images before submission.
type ImagesConfig struct {
	MaxDimension int   // longer side above this forces a proportional resize
	MaxUploadMB  int64 // multipart body cap for image uploads
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

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path for archive + preferences

	Backend BackendConfig
	Gateway GatewayConfig
	Jobs    JobsConfig
	Intake  IntakeConfig
	Images  ImagesConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Event dedup
	DedupTTL time.Duration // how long a chat event id blocks resubmission

	// Observability
	OTEL OTELConfig
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

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		Backend: BackendConfig{
			BaseURL:        strings.TrimRight(getenv("IMAGE_API_BASE_URL", "http://localhost:8000"), "/"),
			RequestTimeout: getdur("IMAGE_API_TIMEOUT", 30*time.Second),
		},

		Gateway: GatewayConfig{
			WebhookURL: strings.TrimSpace(getenv("GATEWAY_WEBHOOK_URL", "")),
			Token:      getenv("GATEWAY_TOKEN", ""),
			Timeout:    getdur("GATEWAY_TIMEOUT", 15*time.Second),
		},

		Jobs: JobsConfig{
			GenerateTimeout: getdur("JOB_TIMEOUT_GENERATE", 300*time.Second),
			EditTimeout:     getdur("JOB_TIMEOUT_EDIT", 600*time.Second),
			PollInterval:    getdur("JOB_POLL_INTERVAL", 2*time.Second),
			PollMaxInterval: getdur("JOB_POLL_MAX_INTERVAL", 15*time.Second),
			PollFailBudget:  getint("JOB_POLL_FAIL_BUDGET", 5),
			Retention:       getdur("JOB_RETENTION", 15*time.Minute),
			MaxActive:       getint("JOB_MAX_ACTIVE", 0),
		},

		Intake: IntakeConfig{
			NLGenerateSteps: getint("NL_GENERATE_STEPS", 10),
			NLEditSteps:     getint("NL_EDIT_STEPS", 10),
			AllowedGuilds:   splitCSV(getenv("ALLOWED_GUILDS", "")),
			AllowedChannels: splitCSV(getenv("ALLOWED_CHANNELS", "")),
			DefaultLanguage: strings.ToLower(getenv("DEFAULT_LANGUAGE", "en")),
		},

		Images: ImagesConfig{
			MaxDimension: getint("MAX_IMAGE_DIMENSION", 1024),
			MaxUploadMB:  int64(getint("MAX_UPLOAD_MB", 10)),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Event dedup
		DedupTTL: getdur("DEDUP_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-imagebot-backend"),
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
	if cfg.Intake.DefaultLanguage != "en" && cfg.Intake.DefaultLanguage != "zh" {
		cfg.Intake.DefaultLanguage = "en"
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
	if !strings.HasPrefix(cfg.Backend.BaseURL, "http://") && !strings.HasPrefix(cfg.Backend.BaseURL, "https://") {
		return cfg, errors.New("IMAGE_API_BASE_URL must be an http(s) URL")
	}
	if cfg.Backend.RequestTimeout <= 0 {
		return cfg, errors.New("IMAGE_API_TIMEOUT must be > 0")
	}
	if cfg.Gateway.WebhookURL != "" &&
		!strings.HasPrefix(cfg.Gateway.WebhookURL, "http://") && !strings.HasPrefix(cfg.Gateway.WebhookURL, "https://") {
		return cfg, errors.New("GATEWAY_WEBHOOK_URL must be an http(s) URL")
	}
	if cfg.Gateway.Timeout <= 0 {
		return cfg, errors.New("GATEWAY_TIMEOUT must be > 0")
	}
	if cfg.Jobs.GenerateTimeout <= 0 || cfg.Jobs.EditTimeout <= 0 {
		return cfg, errors.New("job timeouts must be > 0")
	}
	if cfg.Jobs.PollInterval <= 0 || cfg.Jobs.PollMaxInterval < cfg.Jobs.PollInterval {
		return cfg, errors.New("JOB_POLL_MAX_INTERVAL must be >= JOB_POLL_INTERVAL > 0")
	}
	if cfg.Jobs.PollFailBudget < 1 {
		return cfg, errors.New("JOB_POLL_FAIL_BUDGET must be >= 1")
	}
	if cfg.Jobs.Retention <= 0 {
		return cfg, errors.New("JOB_RETENTION must be > 0")
	}
	if cfg.Images.MaxDimension < 64 {
		return cfg, errors.New("MAX_IMAGE_DIMENSION must be >= 64")
	}
	if cfg.Images.MaxUploadMB < 1 {
		return cfg, errors.New("MAX_UPLOAD_MB must be >= 1")
	}
	if cfg.Intake.NLGenerateSteps < 1 || cfg.Intake.NLEditSteps < 1 {
		return cfg, errors.New("natural-language step defaults must be >= 1")
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
	if cfg.DedupTTL <= 0 {
		return cfg, errors.New("DEDUP_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

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
