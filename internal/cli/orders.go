package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"orderstack-kds/internal/orderstore"
	"orderstack-kds/internal/pacing"

	"github.com/spf13/cobra"
)

type ordersOptions struct {
	*RootOptions
	Limit int
}

// orderRow is one line of `kds orders`.
type orderRow struct {
	ID        string `json:"id"`
	Number    string `json:"orderNumber"`
	Status    string `json:"status"`
	Dining    string `json:"diningOption"`
	Elapsed   int    `json:"elapsedMinutes"`
	Estimated int    `json:"estimatedMinutes"`
	Urgency   string `json:"urgency"`
	Next      string `json:"nextAction,omitempty"`
}

func newOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ordersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Print the restaurant's active orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listOrders(cmd.Context(), opts, cmd)
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", orderstore.DefaultLoadLimit, "maximum orders to fetch")
	return cmd
}

func listOrders(ctx context.Context, opts *ordersOptions, cmd *cobra.Command) error {
	term, err := openTerminal(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer term.Close()

	if err := term.Store().LoadOrders(ctx, opts.Limit); err != nil {
		return WrapExitError(ExitFailure, "load orders", err)
	}
	term.Engine().Sync(term.Store().Snapshot().Orders)

	rows := cardRows(term.Engine().Cards())
	return formatter{format: opts.Format, w: cmd.OutOrStdout()}.emit(rows, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NUMBER\tSTATUS\tDINING\tELAPSED\tEST\tURGENCY\tNEXT")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dm\t%dm\t%s\t%s\n", r.Number, r.Status, r.Dining, r.Elapsed, r.Estimated, r.Urgency, r.Next)
		}
		return tw.Flush()
	})
}

func cardRows(cards []pacing.Card) []orderRow {
	rows := make([]orderRow, 0, len(cards))
	for _, c := range cards {
		r := orderRow{
			ID:        c.OrderID,
			Number:    c.OrderNumber,
			Status:    string(c.Status),
			Dining:    string(c.DiningOption),
			Elapsed:   c.ElapsedMinutes,
			Estimated: c.EstimatedMinutes,
			Urgency:   string(c.Urgency),
		}
		if r.Number == "" {
			r.Number = c.OrderID
		}
		if c.NextAction != nil {
			r.Next = c.NextAction.Label
		}
		rows = append(rows, r)
	}
	return rows
}
