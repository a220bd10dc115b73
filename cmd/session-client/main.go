package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	FlagEnv      = "env"
	FlagDocument = "document"
)

var rootCmd = &cobra.Command{
	Use:   "session-client",
	Short: "Collaborative document session client",
	Long:  "Connects to collaborative document sessions, edits documents and broadcasts presence over WebSocket and REST.",
}

func init() {
	rootCmd.PersistentFlags().String(FlagEnv, "dev", "environment name")

	rootCmd.AddCommand(
		GetConnectCmd(),
		GetSessionsCmd(),
		GetHistoryCmd(),
		GetSnapshotCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newLogger builds the process logger for the given environment.
func newLogger(env string) (*zap.Logger, error) {
	if env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
