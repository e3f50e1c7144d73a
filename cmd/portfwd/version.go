package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version of the portfwd binary
const Version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
