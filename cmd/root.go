package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facesift/internal/config"
	"github.com/andresmejia3/facesift/internal/engine"
	"github.com/andresmejia3/facesift/internal/inference"
	"github.com/andresmejia3/facesift/internal/store"
	"github.com/andresmejia3/facesift/internal/worker"
	"github.com/spf13/cobra"
)

var (
	// DB is the store shared by subcommands
	DB store.Store
	// Cfg is the environment configuration, loaded before any subcommand runs
	Cfg *config.Config
	// dbURL is the connection string
	dbURL string
	// useMemory keeps everything in process, for trying facesift out
	useMemory bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facesift",
	Short:   "Find and group the people in your photo library",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.LoadDotEnv()
		Cfg = config.Load()
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: Cfg.LogLevel})))

		if useMemory {
			DB = store.NewMemory()
			return nil
		}

		// The flag wins over DATABASE_URL and the POSTGRES_* variables
		if dbURL == "" {
			dbURL = Cfg.DatabaseURL
		}

		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: DATABASE_URL, POSTGRES_* or postgres://localhost:5432/facesift)")
	rootCmd.PersistentFlags().BoolVar(&useMemory, "memory", false, "Keep everything in memory instead of PostgreSQL (nothing is saved)")
}

// modelLoader picks the inference backend named by the configuration.
func modelLoader(cfg *config.Config) (inference.Loader, error) {
	switch cfg.Models.Backend {
	case config.BackendONNX:
		return inference.ONNXLoader{LibraryPath: cfg.Models.ONNXLibPath}, nil
	case config.BackendWorker:
		return worker.Loader{Command: cfg.Models.WorkerCmd}, nil
	default:
		return nil, fmt.Errorf("unknown inference backend %q (want %s or %s)", cfg.Models.Backend, config.BackendONNX, config.BackendWorker)
	}
}

// newFaceEngine builds the face engine. Models load on first use.
func newFaceEngine(cfg *config.Config) (*engine.Engine, error) {
	loader, err := modelLoader(cfg)
	if err != nil {
		return nil, err
	}
	return engine.New(loader, cfg.Models.Dir), nil
}

// closeFaceEngine releases the models and, for the ONNX backend, the runtime.
func closeFaceEngine(e *engine.Engine) {
	if err := e.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to release models: %v\n", err)
	}
	if err := inference.ShutdownRuntime(); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to shut down ONNX Runtime: %v\n", err)
	}
}
