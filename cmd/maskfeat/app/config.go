package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"maskfeat/pkg/config"
)

// DefaultConfigPath is where config init writes when no path is given
const DefaultConfigPath = "maskfeat.yaml"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration file management",
	Long:  `Configuration file management. Use with the 'init' subcommand.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a configuration file holding the defaults",
	Long: `Write a YAML configuration file holding every setting at its default value.
The file is written to maskfeat.yaml unless a path is given, and an existing
file is only replaced with --force.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := DefaultConfigPath
	if len(args) == 1 {
		path = args[0]
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return fmt.Errorf("failed to get force flag: %w", err)
	}
	if err := initConfigFile(path, force); err != nil {
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote default configuration to %s\n", path)
	return err
}

// initConfigFile writes the default configuration to path, refusing to
// replace an existing file unless force is set
func initConfigFile(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to replace it", path)
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to check %s: %w", path, err)
		}
	}
	return config.CreateDefaultConfigFile(path)
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "Replace an existing file")
	configCmd.AddCommand(configInitCmd)
}
