package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/i2score/cmd/capture"
	"github.com/tphakala/i2score/cmd/initconfig"
	"github.com/tphakala/i2score/cmd/validate"
	"github.com/tphakala/i2score/internal/buildinfo"
	"github.com/tphakala/i2score/internal/conf"
	"github.com/tphakala/i2score/internal/logger"
	"github.com/tphakala/i2score/internal/telemetry"
)

// RootCommand creates the root command. settings is filled from the config
// file, environment and flags before any subcommand runs.
func RootCommand(settings *conf.Settings, info *buildinfo.Context) *cobra.Command {
	var configFile string
	var central *logger.CentralLogger
	var sentryEnabled bool

	rootCmd := &cobra.Command{
		Use:           "i2score",
		Short:         "I2S streaming core with a simulated peripheral",
		Version:       info.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml (default: search ., ~/.config/i2score, /etc/i2score)")
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", false, "Enable debug output")

	initCmd := initconfig.Command()
	rootCmd.AddCommand(
		capture.Command(settings),
		validate.Command(settings),
		initCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// init-config must work without a valid configuration
		if cmd.Name() == initCmd.Name() {
			return nil
		}

		debug := settings.Debug
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded
		settings.Debug = settings.Debug || debug

		if settings.Debug {
			settings.Logging.DefaultLevel = "debug"
		}
		if central, err = logger.NewCentralLogger(&settings.Logging); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logger.SetGlobal(central)

		if info.SystemID == "" {
			if id, err := telemetry.LoadOrCreateSystemID(systemIDDir(configFile)); err == nil {
				info.SystemID = id
			}
		}
		sentryEnabled, err = telemetry.InitSentry(&settings.Sentry, info)
		return err
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if sentryEnabled {
			telemetry.Flush()
		}
		if central != nil {
			_ = central.Close()
		}
	}

	return rootCmd
}

// systemIDDir keeps the system id next to the config file in use.
func systemIDDir(configFile string) string {
	if configFile != "" {
		return filepath.Dir(configFile)
	}
	if path, err := conf.FindConfigFile(); err == nil {
		return filepath.Dir(path)
	}
	return "."
}
