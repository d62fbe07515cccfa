package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

const (
	StorageBackendMinio = "minio"
	StorageBackendLocal = "local"
)

type Config struct {
	RunMode   string
	API       APIConfig
	Transform TransformConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr      string
	RateLimit RateLimitConfig
}

type RateLimitConfig struct {
	Enabled    bool
	Capacity   int
	Window     time.Duration
	UserHeader string
}

// TransformConfig holds the server-side defaults for on-demand requests.
type TransformConfig struct {
	PNGCompression int
	DefaultQuality int
	DefaultFormat  domain.ImageFormat
	DefaultOrigin  domain.OriginPolicy
	MaxWatermarks  int
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MetricsAddr    string
	LocalOutputDir string
}

type StorageConfig struct {
	Backend       string
	LocalAssetDir string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	Region        string
	UseSSL        bool
	OutputPrefix  string
}

type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. Values from
// $CONFIG_DIR/default.env and $CONFIG_DIR/$RUN_MODE.env fill in keys the
// environment leaves unset, with the run mode file taking precedence.
func Load() (Config, error) {
	files, err := readEnvFiles(
		env(nil, "CONFIG_DIR", "config"),
		env(nil, "RUN_MODE", "development"),
	)
	if err != nil {
		return Config{}, err
	}
	return build(files)
}

func build(files map[string]string) (Config, error) {
	cfg := Config{
		RunMode: env(files, "RUN_MODE", "development"),
		API: APIConfig{
			Addr: env(files, "PIXELMARK_API_ADDR", ":8080"),
			RateLimit: RateLimitConfig{
				Enabled:    envBool(files, "RATE_LIMIT_ENABLED", false),
				Capacity:   envInt(files, "RATE_LIMIT_CAPACITY", 120),
				Window:     envDuration(files, "RATE_LIMIT_WINDOW", time.Minute),
				UserHeader: env(files, "RATE_LIMIT_USER_HEADER", "X-Client-ID"),
			},
		},
		Transform: TransformConfig{
			PNGCompression: envInt(files, "PNG_COMPRESSION", 3),
			DefaultQuality: envInt(files, "DEFAULT_QUALITY", 100),
			MaxWatermarks:  envInt(files, "MAX_WATERMARKS", 8),
		},
		Queue: QueueConfig{
			RedisAddr:     env(files, "REDIS_ADDR", "localhost:6379"),
			RedisPassword: env(files, "REDIS_PASSWORD", ""),
			RedisDB:       envInt(files, "REDIS_DB", 0),
			Name:          env(files, "ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt(files, "WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MetricsAddr:    env(files, "WORKER_METRICS_ADDR", ":9091"),
			LocalOutputDir: env(files, "WORKER_LOCAL_OUTPUT_DIR", "./.pixelmark-output"),
		},
		Storage: StorageConfig{
			Backend:       strings.ToLower(env(files, "STORAGE_BACKEND", StorageBackendMinio)),
			LocalAssetDir: env(files, "LOCAL_ASSET_DIR", "./assets"),
			Endpoint:      env(files, "MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     env(files, "MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:     env(files, "MINIO_SECRET_KEY", "minioadmin"),
			Bucket:        env(files, "MINIO_BUCKET", "pixelmark-assets"),
			Region:        env(files, "MINIO_REGION", ""),
			UseSSL:        envBool(files, "MINIO_USE_SSL", false),
			OutputPrefix:  env(files, "RENDER_OUTPUT_PREFIX", "renders"),
		},
		Database: DatabaseConfig{
			DSN: env(files, "POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			Secret:      env(files, "WEBHOOK_SECRET", ""),
			Timeout:     envDuration(files, "WEBHOOK_TIMEOUT", 5*time.Second),
			MaxAttempts: envInt(files, "WEBHOOK_MAX_ATTEMPTS", 3),
		},
		Tracing: TracingConfig{
			Exporter:     env(files, "TRACE_EXPORTER", "none"),
			OTLPEndpoint: env(files, "OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool(files, "OTLP_INSECURE", true),
			SampleRatio:  envFloat(files, "TRACE_SAMPLE_RATIO", 1),
		},
		Log: LogConfig{
			Level:  env(files, "LOG_LEVEL", "info"),
			Format: env(files, "LOG_FORMAT", "json"),
		},
	}

	var err error
	if cfg.Transform.DefaultFormat, err = domain.ParseImageFormat(env(files, "DEFAULT_FORMAT", "jpeg")); err != nil {
		return Config{}, fmt.Errorf("DEFAULT_FORMAT: %w", err)
	}
	if cfg.Transform.DefaultOrigin, err = domain.ParseOriginPolicy(env(files, "DEFAULT_ORIGIN", "LeftTop")); err != nil {
		return Config{}, fmt.Errorf("DEFAULT_ORIGIN: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	t := c.Transform
	if t.PNGCompression < 0 || t.PNGCompression > 9 {
		return fmt.Errorf("PNG_COMPRESSION must be between 0 and 9, got %d", t.PNGCompression)
	}
	if t.DefaultQuality < 1 || t.DefaultQuality > 100 {
		return fmt.Errorf("DEFAULT_QUALITY must be between 1 and 100, got %d", t.DefaultQuality)
	}
	if t.MaxWatermarks < 1 {
		return fmt.Errorf("MAX_WATERMARKS must be positive, got %d", t.MaxWatermarks)
	}
	switch c.Storage.Backend {
	case StorageBackendMinio, StorageBackendLocal:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q, got %q", StorageBackendMinio, StorageBackendLocal, c.Storage.Backend)
	}
	return nil
}

// readEnvFiles merges default.env with <runMode>.env. Missing files are
// skipped; malformed files are an error.
func readEnvFiles(dir, runMode string) (map[string]string, error) {
	merged := map[string]string{}
	for _, name := range []string{"default.env", runMode + ".env"} {
		path := filepath.Join(dir, name)
		values, err := godotenv.Read(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for k, v := range values {
			merged[k] = v
		}
	}
	return merged, nil
}

func env(files map[string]string, key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	if value := files[key]; value != "" {
		return value
	}
	return fallback
}

func envInt(files map[string]string, key string, fallback int) int {
	value := env(files, key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(files map[string]string, key string, fallback bool) bool {
	value := env(files, key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(files map[string]string, key string, fallback float64) float64 {
	value := env(files, key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(files map[string]string, key string, fallback time.Duration) time.Duration {
	value := env(files, key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
