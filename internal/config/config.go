package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/tomz197/pong/internal/pong"
	"github.com/tomz197/pong/internal/rating"
)

// Rating store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendHTTP   = "http"
)

const (
	defaultHTTPAddr     = ":8080"
	defaultSSHHostKey   = ".ssh/pong_host_key"
	defaultRedisAddr    = "localhost:6379"
	defaultRedisPrefix  = "pong"
	defaultRatingURL    = "http://localhost:3001"
	defaultStoreTimeout = 3 * time.Second
	defaultDrainTimeout = 10 * time.Second
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr   string
	SSHAddr    string // Empty disables the SSH gateway
	SSHHostKey string
	LogLevel   string
	LogFormat  string

	RatingBackend    string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisPrefix      string
	RatingServiceURL string
	StoreTimeout     time.Duration
	DefaultRating    int
	TopLimit         int

	DrainTimeout time.Duration
	Settings     pong.Settings
}

// Load reads .env (if present) and then the environment. Variables already
// set in the environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, eris.Wrap(err, "load .env")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables alone.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:         GetEnv("PONG_HTTP_ADDR", defaultHTTPAddr),
		SSHAddr:          GetEnv("PONG_SSH_ADDR", ""),
		SSHHostKey:       GetEnv("PONG_SSH_HOST_KEY", defaultSSHHostKey),
		LogLevel:         GetEnv("PONG_LOG_LEVEL", "info"),
		LogFormat:        GetEnv("PONG_LOG_FORMAT", "text"),
		RatingBackend:    GetEnv("PONG_RATING_BACKEND", BackendMemory),
		RedisAddr:        GetEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword:    GetEnv("REDIS_PASSWORD", ""),
		RedisPrefix:      GetEnv("REDIS_PREFIX", defaultRedisPrefix),
		RatingServiceURL: GetEnv("RATING_SERVICE_URL", defaultRatingURL),
	}

	var err error
	if cfg.RedisDB, err = GetEnvInt("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.DefaultRating, err = GetEnvInt("PONG_DEFAULT_RATING", rating.DefaultRating); err != nil {
		return Config{}, err
	}
	if cfg.TopLimit, err = GetEnvInt("PONG_TOP_LIMIT", rating.DefaultTopLimit); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = GetEnvDuration("PONG_STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DrainTimeout, err = GetEnvDuration("PONG_DRAIN_TIMEOUT", defaultDrainTimeout); err != nil {
		return Config{}, err
	}

	cfg.Settings, err = LoadSettings(GetEnv("PONG_SETTINGS_FILE", ""))
	if err != nil {
		return Config{}, err
	}
	if cfg.Settings.WinScore, err = GetEnvInt("PONG_WIN_SCORE", cfg.Settings.WinScore); err != nil {
		return Config{}, err
	}
	if cfg.Settings.TickRate, err = GetEnvInt("PONG_TICK_RATE", cfg.Settings.TickRate); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.RatingBackend {
	case BackendMemory, BackendRedis, BackendHTTP:
	default:
		return eris.Errorf("unknown rating backend %q", c.RatingBackend)
	}
	if c.StoreTimeout <= 0 {
		return eris.New("store timeout must be positive")
	}
	if c.DefaultRating <= 0 {
		return eris.New("default rating must be positive")
	}
	if err := c.Settings.Validate(); err != nil {
		return eris.Wrap(err, "invalid game settings")
	}
	return nil
}

// LoadSettings returns the default settings overlaid with the YAML file at
// path. Keys missing from the file keep their defaults. An empty path yields
// the defaults.
func LoadSettings(path string) (pong.Settings, error) {
	settings := pong.DefaultSettings()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pong.Settings{}, eris.Wrapf(err, "read settings file %s", path)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return pong.Settings{}, eris.Wrapf(err, "parse settings file %s", path)
	}
	return settings, nil
}
