// Package config provides runtime configuration values for the server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/fieldservice-engine/blob"
	"github.com/warp/fieldservice-engine/engine"
)

// Config holds configuration knobs for the HTTP server, the settlement
// engine and its infrastructure.
type Config struct {
	HTTPAddr         string
	DBPath           string
	LogLevel         string
	ShutdownTimeout  time.Duration
	EditWindowDays   int
	TxMaxAttempts    int
	ReconcileTimeout time.Duration
	SweepInterval    time.Duration // 0 disables the periodic sweep
	RedisAddr        string        // empty uses the in-process locker
	Blob             blob.Config
	ReportPolicyFile string
	CORSOrigins      []string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func boolenv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func durenvms(key string, defMs int) time.Duration {
	return time.Duration(atoienv(key, defMs)) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	return time.Duration(atoienv(key, defSec)) * time.Second
}

func listenv(key string, def []string) []string {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadDotEnv loads a .env file into the environment when one exists.
// Variables already set win.
func LoadDotEnv(paths ...string) {
	_ = godotenv.Load(paths...)
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		DBPath:           getenv("DB_PATH", "fieldservice.db"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		ShutdownTimeout:  durenvs("SHUTDOWN_TIMEOUT", 30),
		EditWindowDays:   atoienv("EDIT_WINDOW_DAYS", engine.DefaultEditWindowDays),
		TxMaxAttempts:    atoienv("TX_MAX_ATTEMPTS", engine.DefaultMaxAttempts),
		ReconcileTimeout: durenvms("RECONCILE_TIMEOUT_MS", 10000),
		SweepInterval:    durenvs("SWEEP_INTERVAL_S", 0),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		Blob: blob.Config{
			Driver: blob.Driver(getenv("BLOB_DRIVER", string(blob.DriverMemory))),
			S3: blob.S3Config{
				Region:    getenv("BLOB_S3_REGION", "us-east-1"),
				Bucket:    getenv("BLOB_S3_BUCKET", ""),
				Endpoint:  getenv("BLOB_S3_ENDPOINT", ""),
				PathStyle: boolenv("BLOB_S3_PATH_STYLE", false),
			},
		},
		ReportPolicyFile: getenv("REPORT_POLICY_FILE", ""),
		CORSOrigins:      listenv("CORS_ORIGINS", []string{"*"}),
	}
}
