// Command semsqlctl is a developer CLI for the semantic SQL engine: it
// rewrites SQL text through the directive/dimension/infix/vector-search
// pipeline, inspects the two-tier cache, and reports query-tracker rollups.
// It never hosts a SQL engine itself — that's an external collaborator
// (spec.md Non-goals) — so every subcommand operates against a locally
// loaded registry/cache/tracker, not a remote API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/user/semsql/internal/config"
)

var (
	cfgFile    string
	cascadeDir string
)

var rootCmd = &cobra.Command{
	Use:   "semsqlctl",
	Short: "semsqlctl inspects and drives the semantic SQL engine",
	Long:  `A developer-focused terminal tool for rewriting semantic SQL, inspecting the result cache, and reading query-tracker rollups.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.semsqlctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&cascadeDir, "cascade-dir", "", "directory of cascade function definitions (repeatable via SEMSQL_CASCADE_DIR)")
	viper.BindPFlag("cascade_dir", rootCmd.PersistentFlags().Lookup("cascade-dir"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".semsqlctl")
	}

	viper.SetEnvPrefix("semsql")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the engine config: the YAML file named by --config,
// falling back to config.Default() when no --config was given or it fails
// to load.
func loadConfig() config.Config {
	if cfgFile == "" {
		return config.Default()
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v, using defaults\n", cfgFile, err)
		return config.Default()
	}
	return cfg
}
