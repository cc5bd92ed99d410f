package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Webhook listener
	WebhookSecret string
	BindAddr      string
	Port          string
	AdminAddr     string

	// Exporter
	ExporterPython  string
	ExporterDir     string
	ExporterScript  string
	ExporterTimeout time.Duration
	ExportOutput    string

	// Publish repository
	PublishRepo   string
	PublishPath   string
	GitRemote     string
	DevelopBranch string
	MainBranch    string

	// Coordination and storage
	LockBackend   string
	RedisAddr     string
	EtcdEndpoints []string
	EtcdLockTTL   int
	RunStore      string
	DatabaseURL   string
	LogStore      string
	LogDir        string
	S3Bucket      string
	S3Prefix      string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string

	// Behavior
	RefreshSchedule         string
	BreakerFailureThreshold int
	BreakerTimeout          time.Duration
	RateLimitPerMinute      int

	// Observability
	LogLevel     string
	LogEncoding  string
	OTLPEndpoint string
}

// LoadEnvFile seeds the process environment from a dotenv file. Variables
// already set in the environment win. A missing file is not an error unless
// the path was given explicitly.
func LoadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func LoadConfig() *Config {
	home, _ := os.UserHomeDir()
	docs := filepath.Join(home, "Documents")

	return &Config{
		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
		BindAddr:      getEnv("BIND_ADDR", "localhost"),
		Port:          getEnv("PORT", "8081"),
		AdminAddr:     getEnv("ADMIN_ADDR", "localhost:9091"),

		ExporterPython:  getEnv("EXPORTER_PYTHON", "python3"),
		ExporterDir:     getEnv("EXPORTER_DIR", filepath.Join(docs, "Force Direct Graph")),
		ExporterScript:  getEnv("EXPORTER_SCRIPT", "src/SQL-based/data_export_for_visualizations.py"),
		ExporterTimeout: getEnvAsDuration("EXPORTER_TIMEOUT", 5*time.Minute),
		ExportOutput:    getEnv("EXPORT_OUTPUT", "output/SQL-based/data/comprehensive_data.json"),

		PublishRepo:   getEnv("PUBLISH_REPO", filepath.Join(docs, "arc_unified_graph_map")),
		PublishPath:   getEnv("PUBLISH_PATH", "data/comprehensive_data.json"),
		GitRemote:     getEnv("GIT_REMOTE", "origin"),
		DevelopBranch: getEnv("GIT_DEVELOP_BRANCH", "develop"),
		MainBranch:    getEnv("GIT_MAIN_BRANCH", "main"),

		LockBackend:   getEnv("LOCK_BACKEND", "local"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		EtcdEndpoints: getEnvAsList("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		EtcdLockTTL:   getEnvAsInt("ETCD_LOCK_TTL", 30),
		RunStore:      getEnv("RUN_STORE", "memory"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		LogStore:      getEnv("LOG_STORE", "none"),
		LogDir:        getEnv("LOG_DIR", filepath.Join(os.TempDir(), "refreshd-logs")),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Prefix:      getEnv("S3_PREFIX", "refreshd/runs/"),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKey:   getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretKey:   getEnv("S3_SECRET_ACCESS_KEY", ""),

		RefreshSchedule:         getEnv("REFRESH_SCHEDULE", ""),
		BreakerFailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 0),
		BreakerTimeout:          getEnvAsDuration("BREAKER_TIMEOUT", 15*time.Minute),
		RateLimitPerMinute:      getEnvAsInt("RATE_LIMIT_PER_MINUTE", 30),

		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogEncoding:  getEnv("LOG_ENCODING", "json"),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// ListenAddr is the webhook listener address.
func (c *Config) ListenAddr() string {
	return c.BindAddr + ":" + c.Port
}

// ExporterScriptPath resolves the exporter script against its project directory.
func (c *Config) ExporterScriptPath() string {
	return resolve(c.ExporterDir, c.ExporterScript)
}

// ExportOutputPath resolves the exporter output file against its project directory.
func (c *Config) ExportOutputPath() string {
	return resolve(c.ExporterDir, c.ExportOutput)
}

// PublishFilePath is the absolute destination of the copied export.
func (c *Config) PublishFilePath() string {
	return resolve(c.PublishRepo, c.PublishPath)
}

// Validate reports the first configuration problem that would keep the
// receiver from doing useful work.
func (c *Config) Validate() error {
	var errs []error
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required"))
	}
	if !filepath.IsAbs(c.ExporterDir) {
		errs = append(errs, fmt.Errorf("EXPORTER_DIR must be absolute: %q", c.ExporterDir))
	}
	if !filepath.IsAbs(c.PublishRepo) {
		errs = append(errs, fmt.Errorf("PUBLISH_REPO must be absolute: %q", c.PublishRepo))
	}
	if filepath.IsAbs(c.PublishPath) {
		errs = append(errs, fmt.Errorf("PUBLISH_PATH must be relative to PUBLISH_REPO: %q", c.PublishPath))
	}
	if c.ExporterTimeout <= 0 {
		errs = append(errs, errors.New("EXPORTER_TIMEOUT must be positive"))
	}
	switch c.LockBackend {
	case "local", "redis", "etcd":
	default:
		errs = append(errs, fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend))
	}
	switch c.RunStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when RUN_STORE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown RUN_STORE %q", c.RunStore))
	}
	switch c.LogStore {
	case "none", "local":
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required when LOG_STORE=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_STORE %q", c.LogStore))
	}
	return errors.Join(errs...)
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
