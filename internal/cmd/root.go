package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/berrycraft/mirrorpeer/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "mirrorpeer",
	Short: "Two-peer episode synchronization for mirrored recording sessions",
	Long: `Mirrorpeer runs one half of a two-agent recording session. Each peer
connects to its counterpart over TCP, and the pair walks through a
sequence of scenario episodes in lockstep: both sides select the same
scenario, draw the same random decisions from a shared seed, and
synchronize every phase boundary so the recorded streams line up.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/mirrorpeer/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("MIRRORPEER")
	// Replace dots with underscores for nested keys in env vars
	// e.g., MIRRORPEER_PEER_LISTEN_ADDR for peer.listen_addr
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
