package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"lfsforensics/internal/config"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default settings file",
		Long: `Create the configuration directory and write the default settings.yaml.

The directory is $LFSFORENSICS_CONFIG_DIR, or ~/.lfsforensics when unset.
An existing settings file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.InitConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Settings: %s\n", path)
			return nil
		},
	}
}
