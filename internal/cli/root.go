// Package cli implements the kds command line: running a station and
// inspecting its orders and offline queue.
package cli

import (
	"context"
	"fmt"
	"slices"

	"orderstack-kds/internal/config"
	"orderstack-kds/internal/kds"
	"orderstack-kds/internal/logger"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string

	// NewTerminal builds the station from configuration. Tests replace it.
	NewTerminal func(ctx context.Context, cfg *config.Config) (*kds.Terminal, error)
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{
		NewTerminal: func(ctx context.Context, cfg *config.Config) (*kds.Terminal, error) {
			return kds.New(ctx, cfg)
		},
	}
	return newRootCommand(opts)
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kds",
		Short: "Kitchen display station for restaurant orders",
		Long: `kds runs a kitchen display station: it keeps the restaurant's live orders
in sync over the realtime channel, paces coursed orders, tracks ticket
printing and queues orders taken while offline.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return WrapExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}
			if opts.Verbose {
				logger.Init("development")
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newOrdersCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))

	return cmd
}

// openTerminal loads configuration and builds the station.
func openTerminal(ctx context.Context, opts *RootOptions) (*kds.Terminal, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration", err)
	}
	term, err := opts.NewTerminal(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "start station", err)
	}
	return term, nil
}
