package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"orderstack-kds/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the station until interrupted",
		Long: `Run connects to the restaurant's realtime channel, loads current orders,
replays any orders queued while offline and paces coursed orders until
SIGINT or SIGTERM.

Example:
  API_URL=https://api.example.com SOCKET_URL=wss://rt.example.com/socket kds run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStation(ctx, opts, cmd)
		},
	}
}

func runStation(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	defer logger.Sync()
	term, err := openTerminal(ctx, opts)
	if err != nil {
		return err
	}
	ctx = logger.WithRestaurant(ctx, term.RestaurantID())
	log := logger.FromCtx(ctx).Named("cli")

	if err := term.Start(ctx); err != nil {
		_ = term.Close()
		return WrapExitError(ExitFailure, "start station", err)
	}
	log.Info("station running", zap.String("device_id", term.DeviceID()))

	<-ctx.Done()
	log.Info("shutting down")
	if err := term.Close(); err != nil {
		log.Warn("close storage", zap.Error(err))
	}

	counters := term.Metrics().Snapshot()
	return formatter{format: opts.Format, w: cmd.OutOrStdout()}.emit(counters, func(w io.Writer) error {
		names := make([]string, 0, len(counters))
		for name := range counters {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(w, "%-32s %d\n", name, counters[name])
		}
		return nil
	})
}
