package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration read from the environment.
type Config struct {
	Port           string
	RulebookPath   string // empty selects the embedded lexicon
	ModelPath      string // empty selects the embedded coefficient table
	DatabaseDSN    string // empty selects an in-memory repository
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	IPLimitPerMin  int
	UploadPerMin   int
	CacheTTL       time.Duration
	BatchWorkers   int
	MaxUploadBytes int64
	RequestTimeout time.Duration
	LogLevel       string
	CORSOrigins    []string
	EnableHSTS     bool
	AdminSecret    string // empty leaves operator routes open
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom is Load with an explicit dotenv path. A missing file is not an error;
// variables already set in the environment win over the file.
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	var errs []error
	cfg := &Config{
		Port:          getEnvOrDefault("PORT", "8080"),
		RulebookPath:  os.Getenv("RULEBOOK_PATH"),
		ModelPath:     os.Getenv("MODEL_PATH"),
		DatabaseDSN:   os.Getenv("DATABASE_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		CORSOrigins:   splitList(getEnvOrDefault("CORS_ORIGINS", "*")),
		AdminSecret:   os.Getenv("ADMIN_SECRET"),
	}

	cfg.RedisDB = getInt("REDIS_DB", 0, &errs)
	cfg.IPLimitPerMin = getInt("IP_LIMIT_PER_MIN", 60, &errs)
	cfg.UploadPerMin = getInt("UPLOAD_LIMIT_PER_MIN", 10, &errs)
	cfg.BatchWorkers = getInt("BATCH_WORKERS", 4, &errs)
	cfg.MaxUploadBytes = int64(getInt("MAX_UPLOAD_BYTES", 50<<20, &errs))
	cfg.CacheTTL = getDuration("CACHE_TTL", 15*time.Minute, &errs)
	cfg.RequestTimeout = getDuration("REQUEST_TIMEOUT", 30*time.Second, &errs)
	cfg.EnableHSTS = getBool("ENABLE_HSTS", false, &errs)

	if cfg.BatchWorkers <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_WORKERS must be positive, got %d", cfg.BatchWorkers))
	}
	if cfg.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", cfg.MaxUploadBytes))
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must not be negative, got %s", cfg.CacheTTL))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return def
	}
	return v
}

func getDuration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return v
}

func getBool(key string, def bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: invalid boolean %q", key, raw))
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
