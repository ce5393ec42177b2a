package capture

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/i2score/internal/conf"
	"github.com/tphakala/i2score/internal/session"
)

// Command creates the capture command, which streams the configured device
// through the simulated peripheral and records every enabled channel.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Stream from the simulated peripheral and record WAV files",
		Long: "Open the configured I2S interface, drive it from the simulated peripheral " +
			"and record each enabled channel until interrupted, the duration elapses or a WAV source is drained.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			summary, err := session.Run(ctx, settings)
			if summary != nil {
				printSummary(cmd, summary)
			}
			return err
		},
	}

	if err := setupFlags(cmd); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}
	return cmd
}

// setupFlags binds command flags to their config keys so they take
// precedence over the file and the environment.
func setupFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.Duration("duration", 0, "Stop recording after this long (0 records until interrupted)")
	flags.String("source", conf.SourceSine, "Simulator source: sine, silence or wav")
	flags.String("wav", "", "WAV file played by the wav source")
	flags.String("out", "", "Directory for recorded WAV files")
	flags.Bool("async", false, "Read blocks through asynchronous tasks")
	flags.Bool("telemetry", false, "Serve Prometheus metrics and device status")
	flags.String("listen", "", "Listen address of the telemetry endpoint")

	bindings := map[string]string{
		"duration":  "capture.duration",
		"source":    "simulator.source",
		"wav":       "simulator.wav_path",
		"out":       "capture.path",
		"async":     "capture.async",
		"telemetry": "telemetry.enabled",
		"listen":    "telemetry.listen",
	}
	for flag, key := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}

func printSummary(cmd *cobra.Command, s *session.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "device %s (itf %d): %d events\n", s.Device.ID, s.Device.Itf, s.Events)
	for _, ch := range s.Device.Channels {
		if !ch.Enabled {
			continue
		}
		fmt.Fprintf(out, "  channel %d: %d completions, %d overruns, %d bytes dropped\n",
			ch.Channel, ch.Completions, ch.Overruns, ch.DroppedBytes)
	}
	for _, r := range s.Recordings {
		fmt.Fprintf(out, "  recorded %s: %d bytes, %d bytes lost\n", r.Path, r.BytesWritten, r.DroppedBytes)
	}
	if s.TxBytes > 0 {
		fmt.Fprintf(out, "  transmitted %d bytes\n", s.TxBytes)
	}
}
