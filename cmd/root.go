package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/amdlink/internal/config"
	"github.com/andresmejia3/amdlink/internal/logging"
	"github.com/andresmejia3/amdlink/internal/store"
	"github.com/spf13/cobra"
)

// Database requirement of a command, set through its annotations.
const (
	dbAnnotation = "database"
	dbRequired   = "required"
	dbOptional   = "optional"
)

// defaultDBURL is used by commands that require a database when nothing else is configured.
const defaultDBURL = "postgres://localhost:5432/amdlink"

var (
	// DB is the global database connection shared by subcommands. It is nil when
	// the command runs without persistence.
	DB *store.Store
	// Cfg is the loaded configuration, with flag overrides applied by each command.
	Cfg *config.Config
	// Logger is the structured logger shared by subcommands.
	Logger *slog.Logger

	dbURL     string
	cfgPath   string
	logLevel  string
	logFormat string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "amdlink",
	Short:   "Stream Kinect body, posture and face state between actor and observer",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		Cfg = cfg

		Logger, err = logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return err
		}
		slog.SetDefault(Logger)

		need := cmd.Annotations[dbAnnotation]
		if need == "" {
			return nil
		}
		url := resolveDBURL(cfg)
		if url == "" {
			if need == dbOptional {
				return nil
			}
			url = defaultDBURL
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
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
			DB = nil
		}
	},
}

// resolveDBURL picks the connection string from the flag, the config file, then the environment.
func resolveDBURL(cfg *config.Config) string {
	if dbURL != "" {
		return dbURL
	}
	if cfg.Store.URL != "" {
		return cfg.Store.URL
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
	}
	return ""
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
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to TOML config file (default: ./"+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: config store.url, POSTGRES_* env, then "+defaultDBURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: auto, text, json")
}
