package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of semsqlctl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("semsqlctl %s\n", Version)
	},
}
