package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	minAuthSecretLength = 32
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	StoreDriver           string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	UnitOfWorkTimeoutMS   int
	LockTimeoutMS         int
	SaleCodePrefix        string
	SaleCodeAttempts      int
	ReportTopN            int
	KafkaBrokers          []string
	KafkaTopic            string
	OTLPEndpoint          string
	ServiceName           string
	LogLevel              string
	LogFormat             string
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		StoreDriver:           storeDriver(os.Getenv("STORE_DRIVER"), databaseURL),
		DatabaseURL:           databaseURL,
		SQLitePath:            getEnv("SQLITE_PATH", "pdv.db"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ReportCacheTTLSeconds: positiveInt("REPORT_CACHE_TTL_SECONDS", 30),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		UnitOfWorkTimeoutMS:   positiveInt("UNIT_OF_WORK_TIMEOUT_MS", 5000),
		LockTimeoutMS:         positiveInt("LOCK_TIMEOUT_MS", 2000),
		SaleCodePrefix:        strings.ToUpper(getEnv("SALE_CODE_PREFIX", "EDL")),
		SaleCodeAttempts:      positiveInt("SALE_CODE_ATTEMPTS", 5),
		ReportTopN:            positiveInt("REPORT_TOP_N", 10),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "pdv.events"),
		OTLPEndpoint:          strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:           getEnv("SERVICE_NAME", "pdv-backend"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	if len(c.AuthSecret) < minAuthSecretLength {
		return fmt.Errorf("AUTH_SECRET must be set to at least %d characters", minAuthSecretLength)
	}
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

func (c Config) UnitOfWorkTimeout() time.Duration {
	return time.Duration(c.UnitOfWorkTimeoutMS) * time.Millisecond
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// storeDriver falls back to postgres when a DATABASE_URL is present. Unknown
// names are passed through and rejected by Validate.
func storeDriver(raw string, databaseURL string) string {
	if driver := strings.ToLower(strings.TrimSpace(raw)); driver != "" {
		return driver
	}
	if databaseURL != "" {
		return DriverPostgres
	}
	return DriverMemory
}

func positiveInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || value < 1 {
		return fallback
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
