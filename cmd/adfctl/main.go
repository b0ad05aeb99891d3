package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/meridian-robotics/areatrack/internal/httputil"
)

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	viper.SetDefault("timeout", "10s")

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "adfctl"))
		}
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ADFCTL")

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newRootCmd builds the command tree. httpc is nil in production; tests
// inject a mock client.
func newRootCmd(httpc httputil.HTTPClient) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "adfctl",
		Short:         "Control a running areatrackd daemon",
		Long:          "adfctl drives an areatrackd session from the terminal: inspect live pose state, list and save area descriptions, edit map metadata, and watch save progress.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "Daemon base URL")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/adfctl/config.yaml)")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(
		newStatusCmd(httpc),
		newPoseCmd(httpc),
		newMapsCmd(httpc),
		newMetaCmd(httpc),
		newResetCmd(httpc),
		newSessionsCmd(httpc),
		newWatchCmd(httpc),
		newVersionCmd(),
	)

	return rootCmd
}
