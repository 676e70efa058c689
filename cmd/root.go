// Package cmd provides the scrawl command-line interface. Configuration
// loads from three sources with clear precedence: command-line flags,
// SCRAWL_* environment variables, then a .scrawl.yml file.
package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "scrawl",
	Short: "Real-time synchronization authority for collaborative whiteboards",
	Long: `Scrawl is the single authoritative process behind a collaborative
whiteboard: it holds the ordered log of drawing operations, tracks which
participants are present, and keeps every connected client converged on
the same state.

Quick start:
  scrawl init                     Write a default .scrawl.yml
  scrawl serve                    Run the authority
  scrawl tail ws://host:8320/ws   Watch the live event feed`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .scrawl.yml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SCRAWL_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(".scrawl")
		viper.SetConfigType("yml")
	}

	viper.SetEnvPrefix("SCRAWL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; defaults and env cover everything.
	_ = viper.ReadInConfig()
}
