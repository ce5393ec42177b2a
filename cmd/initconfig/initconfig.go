package initconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tphakala/i2score/internal/conf"
	"github.com/tphakala/i2score/internal/errors"
)

// Command creates the init-config command, which writes the default configuration.
func Command() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := conf.ConfigFileName
			if len(args) == 1 {
				path = args[0]
			}
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, conf.ConfigFileName)
			}
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Newf("%s already exists, use --force to overwrite", path).
					Component("config").
					Category(errors.CategoryUsage).
					Build()
			}
			if err := conf.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
