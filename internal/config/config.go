// Package config reads facesift settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Inference backends.
const (
	BackendONNX   = "onnx"
	BackendWorker = "worker"
)

const (
	DefaultModelsDir = "./models"
	DefaultWorkerCmd = "python3 -u python/worker.py"
	DefaultAddr      = ":8080"
	DefaultDBURL     = "postgres://localhost:5432/facesift"
	DefaultEpsilon   = 0.42
)

type Config struct {
	DatabaseURL string
	Models      ModelsConfig
	Index       IndexConfig
	Addr        string
	LogLevel    slog.Level
}

type ModelsConfig struct {
	Dir         string
	Backend     string   // onnx or worker
	ONNXLibPath string   // shared library for onnxruntime, empty uses the platform default
	WorkerCmd   []string // command that starts the inference worker
}

type IndexConfig struct {
	Epsilon float32 // clustering epsilon
	Workers int     // photos processed concurrently
}

// LoadDotEnv loads a .env file from the working directory if there is one.
// Variables already set in the environment win.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load builds the configuration from the environment.
func Load() *Config {
	return &Config{
		DatabaseURL: databaseURL(),
		Models: ModelsConfig{
			Dir:         envString("FACESIFT_MODELS_DIR", DefaultModelsDir),
			Backend:     strings.ToLower(envString("FACESIFT_BACKEND", BackendONNX)),
			ONNXLibPath: os.Getenv("ONNXRUNTIME_LIB"),
			WorkerCmd:   strings.Fields(envString("FACESIFT_WORKER_CMD", DefaultWorkerCmd)),
		},
		Index: IndexConfig{
			Epsilon: envFloat("FACESIFT_CLUSTER_EPSILON", DefaultEpsilon),
			Workers: envInt("FACESIFT_WORKERS", 1),
		},
		Addr:     envString("FACESIFT_ADDR", DefaultAddr),
		LogLevel: logLevel(os.Getenv("LOG_LEVEL")),
	}
}

// databaseURL prefers DATABASE_URL, then the POSTGRES_* variables, then a
// local default.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return DefaultDBURL
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := envString("POSTGRES_PORT", "5432")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat is envInt for positive floats.
func envFloat(key string, defaultVal float32) float32 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil && f > 0 {
		return float32(f)
	}
	return defaultVal
}
