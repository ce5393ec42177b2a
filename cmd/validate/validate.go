package validate

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/i2score/internal/conf"
	"github.com/tphakala/i2score/internal/i2s"
)

// Command creates the validate command. Loading already validated the
// settings; this opens the device once to prove the TDM overrides apply.
func Command(settings *conf.Settings) *cobra.Command {
	var printConfig bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.Device.ToDeviceConfig()
			if err != nil {
				return err
			}
			dev, err := i2s.Open(cfg)
			if err != nil {
				return err
			}
			defer dev.Close()
			if err := settings.ApplyChannels(dev); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if printConfig {
				data, err := yaml.Marshal(settings)
				if err != nil {
					return fmt.Errorf("error marshaling settings: %w", err)
				}
				fmt.Fprint(out, string(data))
			}
			fmt.Fprintf(out, "configuration is valid: itf %d, %s %s, %d channel(s), frame size %d bytes\n",
				cfg.Itf, cfg.Direction, cfg.Format, dev.NumChannels(), cfg.FrameSize())
			return nil
		},
	}
	cmd.Flags().BoolVar(&printConfig, "print", false, "Print the effective configuration as YAML")
	return cmd
}
