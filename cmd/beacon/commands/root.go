package commands

import (
	"fmt"

	"github.com/dyluth/beacon/internal/config"
	"github.com/dyluth/beacon/internal/logger"
	"github.com/dyluth/beacon/internal/printer"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath string
	logLevel   string

	// appConfig is loaded before any subcommand runs
	appConfig *config.BeaconConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - scanner and tracking-board clients for a shared signal host",
	Long: `Beacon runs the clients of a barcode-driven signal game.

The scanner owns a RED/GREEN/BLUE signal that changes when a code is scanned.
The board tracks item cards as they are placed into groups, scanned and
collected. Both talk to a host over WebSocket; 'beacon host' runs a reference
host for local play and testing.

Settings come from beacon.yml (if present) and BEACON_* environment
variables. Client state is stored in memory or Redis.`,
	// Prevent silent success when unknown flags are passed to root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: loadConfig,
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to beacon.yml (defaults apply if missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return printer.ErrorWithContext(
			"invalid configuration",
			err.Error(),
			map[string]string{"Config": configPath},
			[]string{"Fix the file, or remove it to run with defaults"},
		)
	}
	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Encoding); err != nil {
		return printer.Error(
			"invalid log settings",
			err.Error(),
			[]string{"Valid levels: debug, info, warn, error"},
		)
	}
	appConfig = cfg
	return nil
}
