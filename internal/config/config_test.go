package config

import (
	"log/slog"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"DATABASE_URL", "POSTGRES_HOST", "FACESIFT_MODELS_DIR", "FACESIFT_BACKEND",
		"ONNXRUNTIME_LIB", "FACESIFT_WORKER_CMD", "FACESIFT_CLUSTER_EPSILON",
		"FACESIFT_WORKERS", "FACESIFT_ADDR", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.DatabaseURL != DefaultDBURL {
		t.Errorf("DatabaseURL = %q, want %q", cfg.DatabaseURL, DefaultDBURL)
	}
	if cfg.Models.Dir != DefaultModelsDir || cfg.Models.Backend != BackendONNX {
		t.Errorf("Unexpected models config %+v", cfg.Models)
	}
	if len(cfg.Models.WorkerCmd) != 3 || cfg.Models.WorkerCmd[0] != "python3" {
		t.Errorf("Unexpected worker command %v", cfg.Models.WorkerCmd)
	}
	if cfg.Index.Epsilon != DefaultEpsilon || cfg.Index.Workers != 1 {
		t.Errorf("Unexpected index config %+v", cfg.Index)
	}
	if cfg.Addr != DefaultAddr || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("Unexpected addr %q or level %v", cfg.Addr, cfg.LogLevel)
	}
}

func TestDatabaseURL(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			"explicit url wins",
			map[string]string{"DATABASE_URL": "postgres://u:p@db:5432/x", "POSTGRES_HOST": "other"},
			"postgres://u:p@db:5432/x",
		},
		{
			"postgres variables",
			map[string]string{"POSTGRES_HOST": "db", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "faces"},
			"postgres://u:p@db:5432/faces",
		},
		{
			"custom port",
			map[string]string{"POSTGRES_HOST": "db", "POSTGRES_USER": "u", "POSTGRES_PASSWORD": "p", "POSTGRES_DB": "faces", "POSTGRES_PORT": "6543"},
			"postgres://u:p@db:6543/faces",
		},
		{"fallback", map[string]string{}, DefaultDBURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"DATABASE_URL", "POSTGRES_HOST", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_PORT"} {
				t.Setenv(k, tt.env[k])
			}
			if got := databaseURL(); got != tt.want {
				t.Errorf("databaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "8")
	t.Setenv("TEST_BAD_INT", "eight")
	t.Setenv("TEST_NEG_INT", "-2")
	t.Setenv("TEST_FLOAT", "0.35")
	t.Setenv("TEST_BAD_FLOAT", "x")

	if got := envInt("TEST_INT", 1); got != 8 {
		t.Errorf("envInt = %d, want 8", got)
	}
	if got := envInt("TEST_BAD_INT", 1); got != 1 {
		t.Errorf("envInt invalid = %d, want 1", got)
	}
	if got := envInt("TEST_NEG_INT", 1); got != 1 {
		t.Errorf("envInt negative = %d, want 1", got)
	}
	if got := envFloat("TEST_FLOAT", 0.42); got != 0.35 {
		t.Errorf("envFloat = %v, want 0.35", got)
	}
	if got := envFloat("TEST_BAD_FLOAT", 0.42); got != 0.42 {
		t.Errorf("envFloat invalid = %v, want 0.42", got)
	}
	if got := envString("TEST_UNSET_STRING", "d"); got != "d" {
		t.Errorf("envString = %q, want d", got)
	}
}

func TestLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
