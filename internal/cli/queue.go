package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or replay orders queued while offline",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List queued orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listQueue(cmd.Context(), opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Submit queued orders to the backend now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return syncQueue(cmd.Context(), opts, cmd)
		},
	})
	return cmd
}

type queueRow struct {
	LocalID  string    `json:"localId"`
	Type     string    `json:"orderType"`
	Items    int       `json:"items"`
	QueuedAt time.Time `json:"queuedAt"`
	Retries  int       `json:"retryCount"`
}

func listQueue(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	term, err := openTerminal(ctx, opts)
	if err != nil {
		return err
	}
	defer term.Close()

	if err := term.Queue().Load(ctx); err != nil {
		return WrapExitError(ExitFailure, "load queue", err)
	}
	entries := term.Queue().Entries()
	rows := make([]queueRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, queueRow{
			LocalID:  e.LocalID,
			Type:     e.Payload.OrderType,
			Items:    len(e.Payload.Items),
			QueuedAt: e.QueuedAt,
			Retries:  e.RetryCount,
		})
	}

	return formatter{format: opts.Format, w: cmd.OutOrStdout()}.emit(rows, func(w io.Writer) error {
		if len(rows) == 0 {
			fmt.Fprintln(w, "queue is empty")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "LOCAL ID\tTYPE\tITEMS\tQUEUED AT\tRETRIES")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\n", r.LocalID, r.Type, r.Items, r.QueuedAt.Format(time.RFC3339), r.Retries)
		}
		return tw.Flush()
	})
}

func syncQueue(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	term, err := openTerminal(ctx, opts)
	if err != nil {
		return err
	}
	defer term.Close()

	res, err := term.SyncQueue(ctx)
	out := formatter{format: opts.Format, w: cmd.OutOrStdout()}
	if emitErr := out.emit(res, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "synced %d, remaining %d\n", res.Synced, res.Remaining)
		return err
	}); emitErr != nil {
		return emitErr
	}
	if err != nil {
		return WrapExitError(ExitFailure, "sync halted", err)
	}
	return nil
}
