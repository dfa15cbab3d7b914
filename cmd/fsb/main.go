package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tgarchive/config"
)

var rootCmd = &cobra.Command{
	Use:   "fsb",
	Short: "Archive/streaming server: object store over a chat-platform archive channel.",
}

func init() {
	config.SetFlagsFromConfig(runCmd)
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
