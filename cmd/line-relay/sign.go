package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/comigor/line-relay/internal/signature"
)

// runSign prints the signature header value for a request body, for replaying
// webhooks against a local server.
func runSign(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		secret = os.Getenv("LINE_CHANNEL_SECRET")
	}
	if secret == "" {
		return errors.New("no channel secret: pass --secret or set LINE_CHANNEL_SECRET")
	}

	in := cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	body, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), signature.Sign([]byte(secret), body))
	return err
}
