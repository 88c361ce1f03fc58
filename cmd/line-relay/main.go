package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "line-relay",
		Short:        "Relay LINE chat messages to an OpenAI-compatible model",
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server (default)",
		RunE:  runServe,
	}

	signCmd := &cobra.Command{
		Use:   "sign [file]",
		Short: "Print the webhook signature of a body read from file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSign,
	}
	signCmd.Flags().StringP("secret", "s", "", "Channel secret (defaults to LINE_CHANNEL_SECRET)")

	rootCmd.AddCommand(serveCmd, signCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
