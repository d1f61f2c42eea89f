package cmd

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wegman-software/pbfkit/internal/config"
	"github.com/wegman-software/pbfkit/internal/logger"
)

var (
	cfg        = config.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "pbfkit",
	Short: "Read, inspect and rewrite OpenStreetMap PBF files",
	Long: `pbfkit reads and writes the OSM PBF block container format.

Features:
  - Streaming block framer with hard size limits
  - Parallel block decoding with ordered results
  - Dense node and relation delta decoding
  - Export to Parquet, load into PostgreSQL, repack to PBF
  - Memory-mapped node index for way geometry`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if configFile != "" {
			if err := loadConfigFile(cmd.Flags(), configFile); err != nil {
				logger.Init(logger.Options{})
				exitWithError("failed to load config", err)
			}
		}
		logger.Init(logger.Options{Debug: cfg.Verbose, LogFile: cfg.LogFile})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&configFile, "config", "c", "", "YAML config file; explicit flags override it")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	flags.IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel decode workers")
	flags.BoolVar(&cfg.StrictKinds, "strict", false, "Fail on blocks of unknown kind instead of skipping them")
	flags.StringVar(&cfg.BBoxSpec, "bbox", "", "Keep only nodes inside minlon,minlat,maxlon,maxlat")

	// Logging and metrics flags
	flags.StringVar(&cfg.LogFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	flags.DurationVar(&cfg.MetricsInterval, "metrics-interval", cfg.MetricsInterval, "Interval for system metrics logging (0 disables)")
}

// loadConfigFile overlays path onto cfg, then re-applies flags given on
// the command line so they take precedence.
func loadConfigFile(fs *pflag.FlagSet, path string) error {
	explicit := map[string]string{}
	fs.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := cfg.LoadFile(path); err != nil {
		return err
	}

	for name, value := range explicit {
		if err := fs.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}

// addDBFlags registers database flags on commands that talk to PostgreSQL.
func addDBFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	cmd.Flags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	cmd.Flags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	cmd.Flags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	cmd.Flags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	cmd.Flags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}

// elapsedField is logged by every command on completion.
func elapsedField(start time.Time) zap.Field {
	return zap.Duration("duration", time.Since(start).Round(time.Millisecond))
}
