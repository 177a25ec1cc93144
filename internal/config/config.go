package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"herd-monitor/dashboard/internal/motion"
)

const StreamPath = "/ws"

var ErrUnsupportedScheme = errors.New("unsupported backend scheme")

type Config struct {
	// Backend
	BackendBaseURL string
	AuthToken      string
	AuthTokenFile  string
	RequestTimeout time.Duration

	// Snapshot polling and history
	PollInterval  time.Duration
	HistoryWindow int

	// Stream reconnect policy
	StreamMaxRetries int
	StreamBaseDelay  time.Duration
	StreamMaxDelay   time.Duration

	Motion motion.Config

	// Map fallback center
	DefaultLat float64
	DefaultLon float64

	// Local view API
	HTTPPort       string
	ViewAPIKeys    []string
	APIKeyCacheTTL time.Duration

	// Redis, empty address disables the state mirror
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DeviceStateTTL time.Duration
	AlertDedupTTL  time.Duration

	// Alert archive, empty host disables it
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Pipeline channels
	StateChannelSize int
	AlertChannelSize int

	// Archive batch tuning
	DBBatchSize       int
	DBFlushIntervalMS int

	LogLevel   string
	TuningFile string
}

// Load reads .env when present, then the environment, then the optional
// tuning file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BackendBaseURL:    getEnv("BACKEND_BASE_URL", "http://localhost:8080"),
		AuthToken:         getEnv("AUTH_TOKEN", ""),
		AuthTokenFile:     getEnv("AUTH_TOKEN_FILE", ""),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 30*time.Second),
		HistoryWindow:     getEnvInt("HISTORY_WINDOW", 120),
		StreamMaxRetries:  getEnvInt("STREAM_MAX_RETRIES", 10),
		StreamBaseDelay:   getEnvDuration("STREAM_BASE_DELAY", time.Second),
		StreamMaxDelay:    getEnvDuration("STREAM_MAX_DELAY", 30*time.Second),
		DefaultLat:        getEnvFloat("DEFAULT_LAT", -27.4698),
		DefaultLon:        getEnvFloat("DEFAULT_LON", 153.0251),
		HTTPPort:          getEnv("HTTP_PORT", "8090"),
		ViewAPIKeys:       splitList(getEnv("VIEW_API_KEYS", "")),
		APIKeyCacheTTL:    getEnvDuration("API_KEY_CACHE_TTL", 5*time.Minute),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		DeviceStateTTL:    getEnvDuration("DEVICE_STATE_TTL", 30*time.Second),
		AlertDedupTTL:     getEnvDuration("ALERT_DEDUP_TTL", 10*time.Minute),
		DBHost:            getEnv("DB_HOST", ""),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "herd_user"),
		DBPassword:        getEnv("DB_PASSWORD", "herd_password"),
		DBName:            getEnv("DB_NAME", "herd_monitor"),
		DBMaxConns:        int32(getEnvInt("DB_MAX_CONNS", 5)),
		StateChannelSize:  getEnvInt("STATE_CHANNEL_SIZE", 1024),
		AlertChannelSize:  getEnvInt("ALERT_CHANNEL_SIZE", 1024),
		DBBatchSize:       getEnvInt("DB_BATCH_SIZE", 100),
		DBFlushIntervalMS: getEnvInt("DB_FLUSH_INTERVAL_MS", 500),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		TuningFile:        getEnv("TUNING_FILE", ""),
		Motion: motion.Config{
			MinSegmentM: getEnvFloat("MOTION_MIN_SEGMENT_M", motion.DefaultMinSegmentM),
			MinSpeedMPS: getEnvFloat("MOTION_MIN_SPEED_MPS", motion.DefaultMinSpeedMPS),
			MaxGap:      getEnvDuration("MOTION_MAX_GAP", motion.DefaultMaxGap),
			Recency:     getEnvDuration("MOTION_RECENCY", motion.DefaultRecency),
		},
	}

	if cfg.TuningFile != "" {
		if err := cfg.ApplyTuningFile(cfg.TuningFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RESTBaseURL is the backend base without a trailing slash.
func (c *Config) RESTBaseURL() string {
	return strings.TrimRight(c.BackendBaseURL, "/")
}

// StreamURL derives the WebSocket endpoint from the REST base.
func (c *Config) StreamURL() (string, error) {
	u, err := url.Parse(c.RESTBaseURL())
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + StreamPath
	return u.String(), nil
}

func (c *Config) Validate() error {
	var errs []error
	if _, err := c.StreamURL(); err != nil {
		errs = append(errs, err)
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, fmt.Errorf("history window must be positive, got %d", c.HistoryWindow))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.StreamMaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("stream max retries must be positive, got %d", c.StreamMaxRetries))
	}
	if c.StreamBaseDelay <= 0 || c.StreamMaxDelay <= 0 {
		errs = append(errs, errors.New("stream delays must be positive"))
	} else if c.StreamBaseDelay > c.StreamMaxDelay {
		errs = append(errs, fmt.Errorf("stream base delay %s exceeds max delay %s", c.StreamBaseDelay, c.StreamMaxDelay))
	}
	if c.Motion.MaxGap < 0 || c.Motion.Recency < 0 || c.Motion.MinSegmentM < 0 || c.Motion.MinSpeedMPS < 0 {
		errs = append(errs, errors.New("motion thresholds must not be negative"))
	}
	return errors.Join(errs...)
}

// DBEnabled reports whether the alert archive is configured.
func (c *Config) DBEnabled() bool { return c.DBHost != "" }

func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("30s") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
