// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Reader     ReaderConfig
	Validation ValidationConfig
	Rate       RateLimitConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for streaming downloads)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ReaderConfig holds streaming workbook reader settings.
type ReaderConfig struct {
	// BatchSize is the sink-side batch size for ingest (default: 5000)
	BatchSize int `env:"READER_BATCH_SIZE" default:"5000"`

	// MemoryThresholdMB is the heap-usage warn/GC-hint threshold for the memory monitor (default: 500)
	MemoryThresholdMB int `env:"READER_MEMORY_THRESHOLD_MB" default:"500"`

	// ParallelProcessing selects the parallel-dispatch read strategy.
	ParallelProcessing bool `env:"READER_PARALLEL" default:"false"`

	// Reactive selects the reactive-backpressured read strategy (requires ParallelProcessing).
	Reactive bool `env:"READER_REACTIVE" default:"false"`

	// EnableProgressTracking turns on periodic progress logging.
	EnableProgressTracking bool `env:"READER_PROGRESS_TRACKING" default:"true"`

	// EnableMemoryMonitoring turns on the background heap-sampling daemon.
	EnableMemoryMonitoring bool `env:"READER_MEMORY_MONITORING" default:"true"`

	// MaxRows is a hard row-count gate; 0 means unbounded.
	MaxRows int64 `env:"READER_MAX_ROWS" default:"0"`

	// StartRow is the number of header rows to skip.
	StartRow int `env:"READER_START_ROW" default:"1"`

	// ReadAllSheets processes every sheet in the workbook.
	ReadAllSheets bool `env:"READER_READ_ALL_SHEETS" default:"false"`

	// SheetNames, when ReadAllSheets is false, names the sheet subset to read.
	SheetNames []string `env:"READER_SHEET_NAMES"`

	// StrictValidation is loaded from the environment but read by no
	// component: no row-level validators run inside the reader sink,
	// whatever its value.
	StrictValidation bool `env:"READER_STRICT_VALIDATION" default:"false"`

	// ProgressIntervalRows is how many rows elapse between progress log lines (default: 10000).
	ProgressIntervalRows int64 `env:"READER_PROGRESS_INTERVAL_ROWS" default:"10000"`

	// MemoryMonitorInterval is how often the memory monitor daemon samples heap usage (default: 5s).
	MemoryMonitorInterval time.Duration `env:"READER_MEMORY_MONITOR_INTERVAL" default:"5s"`

	// BatchDispatchTimeout bounds waitForAll on a parallel-dispatch run (default: 10m).
	BatchDispatchTimeout time.Duration `env:"READER_BATCH_DISPATCH_TIMEOUT" default:"10m"`

	// SxssfRowAccessWindowSize is carried through for write-strategy callers only; the
	// read-side core never consults it.
	SxssfRowAccessWindowSize int `env:"READER_SXSSF_ROW_ACCESS_WINDOW_SIZE" default:"100"`

	// PerJobRowCap bounds total rows accepted at ingest time across the whole job (0 = unbounded).
	PerJobRowCap int64 `env:"READER_PER_JOB_ROW_CAP" default:"0"`

	// PerSheetRowCap bounds rows accepted per sheet during dimension prevalidation (default: 10000).
	PerSheetRowCap int64 `env:"READER_PER_SHEET_ROW_CAP" default:"10000"`
}

// ValidationConfig holds the per-step and per-job timeout policy for the
// Step Tracker and Migration Orchestrator.
type ValidationConfig struct {
	// StepTimeout is the per-validation-step timeout setting (default: 5m).
	// It is validated at load time only; the step tracker applies its own
	// fixed steptracker.DefaultTimeout.
	StepTimeout time.Duration `env:"VALIDATION_STEP_TIMEOUT" default:"5m"`

	// PromoteStepTimeout is the move-valid-records timeout setting (default: 15m).
	// It is validated at load time only; the step tracker applies its own
	// fixed steptracker.PromoteTimeout.
	PromoteStepTimeout time.Duration `env:"VALIDATION_PROMOTE_STEP_TIMEOUT" default:"15m"`

	// OptimisticRetryLimit is the JobSheet version-conflict retry setting (default: 3).
	// It is validated at load time only; the orchestrator passes a fixed
	// limit of 3 to store.CompareAndSwapJobSheet.
	OptimisticRetryLimit int `env:"VALIDATION_OPTIMISTIC_RETRY_LIMIT" default:"3"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is a requests-per-minute setting for upload endpoints (default: 10).
	// The server does not read it: upload endpoints share the RequestsPerMinute limiter.
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP is a Content-Security-Policy switch (default: true). The server
	// does not read it and sets no Content-Security-Policy header.
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
