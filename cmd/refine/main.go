package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fhiretl/internal/config"
	"fhiretl/internal/refine"
	"fhiretl/internal/schema"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	// register all backends with the storage factory.
	_ "fhiretl/internal/storage/all"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps command-line flags onto configuration keys. Flags win over
// the environment and the .env file.
var flagKeys = map[string]string{
	"input-dir":       "INPUT_DIR",
	"output-dir":      "OUTPUT_DIR",
	"storage-kind":    "STORAGE_KIND",
	"storage-dsn":     "STORAGE_DSN",
	"upload-kind":     "UPLOAD_KIND",
	"metrics-backend": "METRICS_BACKEND",
	"pushgateway-url": "PUSHGATEWAY_URL",
	"log-level":       "LOG_LEVEL",
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "refine",
		Short:         "Refine FHIR resources into an encrypted relational store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("env-file", ".env", "optional dotenv file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd())
	root.AddCommand(schemaCmd())
	root.AddCommand(validateCmd())
	return root
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Read, normalize, persist, describe and publish one refinement",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			if err := cfg.Validate(); err != nil {
				logger.Error().Err(err).Msg("invalid configuration")
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdown := setupMetrics(ctx, cfg, logger)
			defer shutdown()

			out, err := (&refine.Runner{Logger: infoLogger{logger}}).Run(ctx, cfg)
			if err != nil {
				logger.Error().Err(err).Msg("refinement failed")
				return err
			}
			logger.Info().
				Str("refinement_url", out.RefinementURL).
				Int("tables", len(out.Schema.Tables)).
				Msg("refinement completed")
			return nil
		},
	}
	f := cmd.Flags()
	f.String("input-dir", "", "directory of FHIR JSON files")
	f.String("output-dir", "", "directory for the store, schema.json and output.json")
	f.String("storage-kind", "", "storage backend (sqlite, postgres, mssql)")
	f.String("storage-dsn", "", "storage connection string or sqlite path")
	f.String("upload-kind", "", "artifact upload target (none, dir, s3)")
	f.String("metrics-backend", "", "metrics backend (none, datadog, pushgateway)")
	f.String("pushgateway-url", "", "Pushgateway base URL")
	return cmd
}

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema manifest of the refined store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			b, err := schema.Describe(schema.Options{
				Name:        cfg.SchemaName,
				Version:     cfg.SchemaVersion,
				Description: cfg.SchemaDescription,
				Dialect:     cfg.SchemaDialect,
			}).MarshalIndent()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "configuration is valid: storage=%s upload=%s metrics=%s\n",
				cfg.StorageKind, cfg.UploadKind, cfg.MetricsBackend)
			return err
		},
	}
}

// loadConfig reads the environment and .env file and overlays flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	v := config.New(envFile)
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.FromViper(v)
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return err
}

// newLogger writes JSON to w, or human-readable lines when ENV=development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("job", cfg.JobName).Logger()
}

// infoLogger adapts zerolog to the Printf logger the core packages take.
// zerolog's own Printf logs at debug level.
type infoLogger struct{ l zerolog.Logger }

func (i infoLogger) Printf(format string, v ...any) { i.l.Info().Msgf(format, v...) }

var _ refine.Logger = infoLogger{}
