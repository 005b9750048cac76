package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/geocoder89/medcard/internal/observability"
	"github.com/geocoder89/medcard/internal/security"
)

const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Env  string
	Port int

	StoreDriver string
	MongoURI    string
	MongoDB     string
	DBURL       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	JWTIssuer        string

	BcryptCost int

	// per minute, per client key
	SendCodeLimit int
	LoginLimit    int

	CORSOrigins []string

	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3PublicURL    string
	UploadMaxBytes int64

	OTLPEndpoint    string
	OTLPSampleRatio float64

	SeedDoctorEmail    string
	SeedDoctorPassword string

	SweepInterval time.Duration
	WorkerPort    int
}

// Load reads an optional .env file and then the process environment.
func Load() Config {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("APP_ENV", "dev"),
		Port: getEnvInt("PORT", 8080),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreMongo)),
		MongoURI:    getEnv("MONGO_URI", "mongodb://127.0.0.1:27017"),
		MongoDB:     getEnv("MONGO_DB", "medcard"),
		DBURL:       buildDBURL(),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		JWTAccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		JWTAccessTTL:     time.Duration(getEnvInt("JWT_ACCESS_TTL_MINUTES", 15)) * time.Minute,
		JWTRefreshTTL:    time.Duration(getEnvInt("JWT_REFRESH_TTL_DAYS", 7)) * 24 * time.Hour,
		JWTIssuer:        getEnv("JWT_ISSUER", "medcard"),

		BcryptCost: getEnvInt("BCRYPT_COST", 10),

		SendCodeLimit: getEnvInt("RATE_LIMIT_SEND_CODE_PER_MIN", 5),
		LoginLimit:    getEnvInt("RATE_LIMIT_LOGIN_PER_MIN", 10),

		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "")),

		S3Bucket:       getEnv("S3_BUCKET", ""),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
		S3PublicURL:    getEnv("S3_PUBLIC_URL", ""),
		UploadMaxBytes: int64(getEnvInt("UPLOAD_MAX_BYTES", 10<<20)),

		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPSampleRatio: getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),

		SeedDoctorEmail:    getEnv("SEED_DOCTOR_EMAIL", ""),
		SeedDoctorPassword: getEnv("SEED_DOCTOR_PASSWORD", ""),

		SweepInterval: time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		WorkerPort:    getEnvInt("WORKER_PORT", 8081),
	}
}

// Validate rejects configurations the service must not start with.
func (c Config) Validate() error {
	var errs []error

	if c.JWTAccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET is required"))
	}
	if c.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET is required"))
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.BcryptCost < security.MinProductionCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be at least %d", security.MinProductionCost))
	}
	if c.OTLPSampleRatio < 0 || c.OTLPSampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLER_ARG must be within [0, 1]"))
	}

	switch c.StoreDriver {
	case StoreMongo, StorePostgres:
	case StoreMemory:
		if c.Env == "prod" {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in prod"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	return errors.Join(errs...)
}

func (c Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

func buildDBURL() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "medcard")
	pass := getEnv("DB_PASSWORD", "medcard")
	name := getEnv("DB_NAME", "medcard")
	ssl := getEnv("DB_SSLMODE", "disable")

	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

// WithTimeout bounds a store call made on behalf of parent.
func WithTimeout(parent context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer env, using default", "key", key, "default", fallback)
			return fallback
		}
		return num
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("invalid float env, using default", "key", key, "default", fallback)
			return fallback
		}
		return f
	}
	return fallback
}

// Tracing is the tracer setup for the named binary.
func (c Config) Tracing(service string) observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName: service,
		Endpoint:    c.OTLPEndpoint,
		Environment: c.Env,
		SampleRatio: c.OTLPSampleRatio,
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
