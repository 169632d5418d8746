// Package app provides the command line interface of maskfeat.
package app

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding settings,
// e.g. MASKFEAT_OUTPUT_PATH for output.path
const EnvPrefix = "MASKFEAT"

// Build information, set with -ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:               "maskfeat",
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Short:             "Masked image feature extraction",
	Long: `maskfeat decodes multi-plane image containers holding images and their
foreground masks, rejects masks with more than one object and computes
per-channel shape, intensity and texture features for every record.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd creates the root command with every subcommand attached
func NewRootCmd() *cobra.Command {
	configureEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	return rootCmd
}

// configureEnv maps every setting to a MASKFEAT_ environment variable
func configureEnv() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// versionInfo is the output of the version command
type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func getVersionInfo() versionInfo {
	return versionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		info := getVersionInfo()
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if format == "json" {
			data, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return fmt.Errorf("error formatting version info as JSON: %w", err)
			}
			_, err = fmt.Fprintln(out, string(data))
			return err
		}
		_, err = fmt.Fprintf(out, "maskfeat %s (commit %s, built %s, %s %s)\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	mustBind(viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")))
	mustBind(viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")))

	versionCmd.Flags().String("format", "", "Output format (json)")
}

func mustBind(err error) {
	if err != nil {
		panic(fmt.Sprintf("failed to bind flag: %v", err))
	}
}
