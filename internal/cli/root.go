// Package cli implements arbiterctl, the operator command line for a running
// arbiter daemon.
//
// Every command except token talks to the daemon's HTTP API. token mints a
// JWT locally from the shared secret.
package cli

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// Environment variables read for flag defaults.
const (
	EnvServer = "GRAYLOGIC_ARBITER_URL"
	EnvToken  = "GRAYLOGIC_ARBITER_TOKEN"
)

const defaultServer = "http://127.0.0.1:8090"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Token   string
	Format  string // "json" | "text"
	Timeout time.Duration
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for arbiterctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "arbiterctl",
		Short: "Inspect and control a Gray Logic Arbiter",
		Long: `arbiterctl talks to a running arbiter daemon over its HTTP API.

It lists devices, quarantined devices, priority locks and recent events,
sends actions, clears locks and mints API tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Server, "server", envOr(EnvServer, defaultServer), "arbiter API base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv(EnvToken), "bearer token for the API")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewDevicesCommand(opts))
	cmd.AddCommand(NewQuarantineCommand(opts))
	cmd.AddCommand(NewLocksCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewTokenCommand())

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (o *RootOptions) client() *Client {
	return NewClient(o.Server, o.Token, o.Timeout)
}
