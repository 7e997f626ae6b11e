package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/casestrainer/internal/interfaces"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Queue       QueueConfig       `toml:"queue"`
	Storage     StorageConfig     `toml:"storage"`
	Logging     LoggingConfig     `toml:"logging"`
	Database    DatabaseConfig    `toml:"database"` // citation database (CourtListener)
	Verify      VerifyConfig      `toml:"verify"`
	Jobs        JobsConfig        `toml:"jobs"`
	Loader      LoaderConfig      `toml:"loader"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for messages
	Concurrency       int    `toml:"concurrency"`        // Number of concurrent workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "10m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before the job fails
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// DatabaseConfig configures the external citation database client.
type DatabaseConfig struct {
	BaseURL          string `toml:"base_url"`            // Citation lookup API root
	APIKey           string `toml:"api_key"`             // Token auth; DATABASE_API_KEY env overrides
	RateLimitPerHour int    `toml:"rate_limit_per_hour"` // Advertised per-hour lookup budget
	RequestTimeout   string `toml:"request_timeout"`     // Per-HTTP-call timeout, e.g., "30s"
}

// VerifyConfig tunes the verification stage.
type VerifyConfig struct {
	Concurrency    int    `toml:"concurrency"`     // Verification fan-out within a job
	VerifiedTTL    string `toml:"verified_ttl"`    // Cache TTL for positive results
	UnverifiedTTL  string `toml:"unverified_ttl"`  // Cache TTL for negative results
	MaxAttempts    int    `toml:"max_attempts"`    // Retry attempts per lookup (incl. first)
	InitialBackoff string `toml:"initial_backoff"` // First retry delay
	MaxBackoff     string `toml:"max_backoff"`     // Retry delay cap
}

// JobsConfig bounds job execution and the synchronous fast path.
type JobsConfig struct {
	Timeout          string `toml:"timeout"`            // Per-job wall clock, e.g., "20m"
	StageWatchdog    string `toml:"stage_watchdog"`     // Fail the job after this long with no progress
	Retention        string `toml:"retention"`          // Keep terminal jobs at least this long
	SyncMaxBytes     int    `toml:"sync_max_bytes"`     // Text inputs up to this size may run inline
	SyncMaxCitations int    `toml:"sync_max_citations"` // Inline path bails out above this count
}

// LoaderConfig configures document fetching and decoding.
type LoaderConfig struct {
	RequestTimeout time.Duration `toml:"request_timeout"` // URL fetch timeout
	MaxBodySize    int           `toml:"max_body_size"`   // Maximum fetched/uploaded body size in bytes
	UserAgent      string        `toml:"user_agent"`      // User agent for URL fetches
}

// MaintenanceConfig schedules background upkeep.
type MaintenanceConfig struct {
	Enabled            bool   `toml:"enabled"`
	CompactionSchedule string `toml:"compaction_schedule"` // Expired unverified/extraction sweep
	JobSweepSchedule   string `toml:"job_sweep_schedule"`  // Terminal job retention sweep
	GCSchedule         string `toml:"gc_schedule"`         // Badger value-log GC
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	// Whitelist of event types to broadcast via WebSocket. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	// Example: {"job_progress": "500ms"}
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in casestrainer.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Concurrency:       4,
			VisibilityTimeout: "10m", // claim expires if a worker dies mid-job
			MaxReceive:        3,     // initial delivery + two retries
			QueueName:         "casestrainer_jobs",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		Database: DatabaseConfig{
			BaseURL:          "https://www.courtlistener.com/api/rest/v4",
			APIKey:           "", // User must provide via DATABASE_API_KEY or config
			RateLimitPerHour: 100,
			RequestTimeout:   "30s",
		},
		Verify: VerifyConfig{
			Concurrency:    8,
			VerifiedTTL:    "720h", // 30 days
			UnverifiedTTL:  "24h",
			MaxAttempts:    4,
			InitialBackoff: "500ms",
			MaxBackoff:     "8s",
		},
		Jobs: JobsConfig{
			Timeout:          "20m",
			StageWatchdog:    "120s",
			Retention:        "24h",
			SyncMaxBytes:     2000,
			SyncMaxCitations: 5,
		},
		Loader: LoaderConfig{
			RequestTimeout: 30 * time.Second,
			MaxBodySize:    10 * 1024 * 1024, // 10MB
			UserAgent:      "Mozilla/5.0 (compatible; CaseStrainer/1.0)",
		},
		Maintenance: MaintenanceConfig{
			Enabled:            true,
			CompactionSchedule: "@hourly",
			JobSweepSchedule:   "@every 6h",
			GCSchedule:         "@daily",
		},
		WebSocket: WebSocketConfig{
			// Empty AllowedEvents allows all events
			AllowedEvents: []string{},
			// Throttle high-frequency events to prevent WebSocket flooding on large documents
			ThrottleIntervals: map[string]string{
				"job_progress": "500ms",
			},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
// Priority system: CLI flags > Environment variables > Config file > Defaults
// kvStorage can be nil for backward compatibility (replacement will be skipped)
func LoadFromFile(kvStorage interfaces.KeyValueStorage, path string) (*Config, error) {
	if path == "" {
		return LoadFromFiles(kvStorage)
	}
	return LoadFromFiles(kvStorage, path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
// kvStorage can be nil (replacement will be skipped)
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Perform {key-name} replacement if KV storage is available
	if kvStorage != nil {
		ctx := context.Background()
		kvMap, err := kvStorage.GetAll(ctx)
		if err != nil {
			logger := arbor.NewLogger()
			logger.Warn().Err(err).Msg("Failed to fetch KV map for config replacement, skipping replacement")
		} else {
			logger := arbor.NewLogger()
			if err := ReplaceInStruct(config, kvMap, logger); err != nil {
				logger.Warn().Err(err).Msg("Failed to replace key references in config")
			}
		}
	}

	// Apply environment variables (overrides all file configs and replacements)
	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// Bare deployment variables (PORT, DATABASE_API_KEY, REDIS_URL,
// WORKER_CONCURRENCY, RATE_LIMIT_PER_HOUR, JOB_TIMEOUT_SECONDS) are
// honored first; CASESTRAINER_-prefixed variables take precedence.
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: CASESTRAINER_ENV, fallback: GO_ENV)
	if env := os.Getenv("CASESTRAINER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CASESTRAINER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	} else if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CASESTRAINER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("CASESTRAINER_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if concurrency := os.Getenv("CASESTRAINER_QUEUE_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	} else if concurrency := os.Getenv("WORKER_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Queue.Concurrency = c
		}
	}
	if visibilityTimeout := os.Getenv("CASESTRAINER_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("CASESTRAINER_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if queueName := os.Getenv("CASESTRAINER_QUEUE_NAME"); queueName != "" {
		config.Queue.QueueName = queueName
	}

	// Storage configuration. REDIS_URL is the conventional KV location
	// variable; with the embedded store we accept badger://<path>,
	// file://<path>, or a bare directory path.
	if kvURL := os.Getenv("REDIS_URL"); kvURL != "" {
		if path, ok := parseKVURL(kvURL); ok {
			config.Storage.Badger.Path = path
		}
	}
	if badgerPath := os.Getenv("CASESTRAINER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("CASESTRAINER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CASESTRAINER_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CASESTRAINER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Citation database configuration
	if baseURL := os.Getenv("CASESTRAINER_DATABASE_BASE_URL"); baseURL != "" {
		config.Database.BaseURL = baseURL
	}
	if apiKey := os.Getenv("CASESTRAINER_DATABASE_API_KEY"); apiKey != "" {
		config.Database.APIKey = apiKey
	} else if apiKey := os.Getenv("DATABASE_API_KEY"); apiKey != "" {
		config.Database.APIKey = apiKey
	}
	if perHour := os.Getenv("CASESTRAINER_DATABASE_RATE_LIMIT_PER_HOUR"); perHour != "" {
		if n, err := strconv.Atoi(perHour); err == nil && n > 0 {
			config.Database.RateLimitPerHour = n
		}
	} else if perHour := os.Getenv("RATE_LIMIT_PER_HOUR"); perHour != "" {
		if n, err := strconv.Atoi(perHour); err == nil && n > 0 {
			config.Database.RateLimitPerHour = n
		}
	}
	if timeout := os.Getenv("CASESTRAINER_DATABASE_REQUEST_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Database.RequestTimeout = timeout
		}
	}

	// Verification configuration
	if concurrency := os.Getenv("CASESTRAINER_VERIFY_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil && c > 0 {
			config.Verify.Concurrency = c
		}
	}
	if ttl := os.Getenv("CASESTRAINER_VERIFY_VERIFIED_TTL"); ttl != "" {
		if _, err := time.ParseDuration(ttl); err == nil {
			config.Verify.VerifiedTTL = ttl
		}
	}
	if ttl := os.Getenv("CASESTRAINER_VERIFY_UNVERIFIED_TTL"); ttl != "" {
		if _, err := time.ParseDuration(ttl); err == nil {
			config.Verify.UnverifiedTTL = ttl
		}
	}

	// Job runtime configuration
	if timeout := os.Getenv("CASESTRAINER_JOBS_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Jobs.Timeout = timeout
		}
	} else if seconds := os.Getenv("JOB_TIMEOUT_SECONDS"); seconds != "" {
		if s, err := strconv.Atoi(seconds); err == nil && s > 0 {
			config.Jobs.Timeout = fmt.Sprintf("%ds", s)
		}
	}
	if watchdog := os.Getenv("CASESTRAINER_JOBS_STAGE_WATCHDOG"); watchdog != "" {
		if _, err := time.ParseDuration(watchdog); err == nil {
			config.Jobs.StageWatchdog = watchdog
		}
	}
	if retention := os.Getenv("CASESTRAINER_JOBS_RETENTION"); retention != "" {
		if _, err := time.ParseDuration(retention); err == nil {
			config.Jobs.Retention = retention
		}
	}

	// Loader configuration
	if requestTimeout := os.Getenv("CASESTRAINER_LOADER_REQUEST_TIMEOUT"); requestTimeout != "" {
		if rt, err := time.ParseDuration(requestTimeout); err == nil {
			config.Loader.RequestTimeout = rt
		}
	}
	if maxBodySize := os.Getenv("CASESTRAINER_LOADER_MAX_BODY_SIZE"); maxBodySize != "" {
		if mbs, err := strconv.Atoi(maxBodySize); err == nil {
			config.Loader.MaxBodySize = mbs
		}
	}
	if userAgent := os.Getenv("CASESTRAINER_LOADER_USER_AGENT"); userAgent != "" {
		config.Loader.UserAgent = userAgent
	}

	// Maintenance configuration
	if enabled := os.Getenv("CASESTRAINER_MAINTENANCE_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Maintenance.Enabled = e
		}
	}

	// WebSocket configuration
	if allowedEvents := os.Getenv("CASESTRAINER_WEBSOCKET_ALLOWED_EVENTS"); allowedEvents != "" {
		events := []string{}
		for _, e := range strings.Split(allowedEvents, ",") {
			trimmed := strings.TrimSpace(e)
			if trimmed != "" {
				events = append(events, trimmed)
			}
		}
		if len(events) > 0 {
			config.WebSocket.AllowedEvents = events
		}
	}
	if progressThrottle := os.Getenv("CASESTRAINER_WEBSOCKET_THROTTLE_JOB_PROGRESS"); progressThrottle != "" {
		if _, err := time.ParseDuration(progressThrottle); err == nil {
			if config.WebSocket.ThrottleIntervals == nil {
				config.WebSocket.ThrottleIntervals = make(map[string]string)
			}
			config.WebSocket.ThrottleIntervals["job_progress"] = progressThrottle
		}
	}
}

// parseKVURL extracts a Badger directory path from a KV location URL.
// Unsupported schemes (a genuine redis:// URL, for instance) are skipped so
// the configured default survives.
func parseKVURL(raw string) (string, bool) {
	if path, ok := strings.CutPrefix(raw, "badger://"); ok {
		return path, path != ""
	}
	if path, ok := strings.CutPrefix(raw, "file://"); ok {
		return path, path != ""
	}
	if strings.Contains(raw, "://") {
		return "", false
	}
	return raw, raw != ""
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ResolveAPIKey resolves an API key by name with environment variable priority
// Resolution order: environment variables → KV store → config fallback → error
func ResolveAPIKey(ctx context.Context, kvStorage interfaces.KeyValueStorage, name string, configFallback string) (string, error) {
	keyToEnvMapping := map[string][]string{
		"database_api_key":      {"CASESTRAINER_DATABASE_API_KEY", "DATABASE_API_KEY"},
		"courtlistener_api_key": {"CASESTRAINER_DATABASE_API_KEY", "DATABASE_API_KEY"},
	}

	// Check environment variables (highest priority)
	if envVarNames, hasMappedEnv := keyToEnvMapping[name]; hasMappedEnv {
		for _, envVarName := range envVarNames {
			if envValue := os.Getenv(envVarName); envValue != "" {
				return envValue, nil
			}
		}
	}

	// Try to resolve from KV store (medium priority - file-based variables)
	if kvStorage != nil {
		apiKey, err := kvStorage.Get(ctx, name)
		if err == nil && apiKey != "" {
			return apiKey, nil
		}
	}

	// Fallback to config value (lowest priority)
	if configFallback != "" {
		return configFallback, nil
	}

	return "", fmt.Errorf("API key '%s' not found in environment, KV store, or config", name)
}

// ValidateSchedule validates a cron schedule expression accepted by the
// maintenance scheduler (standard 5-field cron or @-descriptors).
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// AllowTestURLs returns true if test URLs (localhost, 127.0.0.1, etc.) are allowed
// Test URLs are only allowed in development mode
func (c *Config) AllowTestURLs() bool {
	return !c.IsProduction()
}
