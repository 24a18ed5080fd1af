package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sarchlab/fedcomm/comm"
	"github.com/sarchlab/fedcomm/recording"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report [recording.sqlite3]",
	Short: "Summarize the rounds stored in a recording.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := recording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		return printReport(cmd.Context(), cmd.OutOrStdout(), reader)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)
}

func printReport(
	ctx context.Context,
	out io.Writer,
	reader recording.DataReader,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	rounds, err := recording.ReadRounds(ctx, reader)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVER\tROUND\tROSTER\tSELECTORS\tPARTICIPANTS")
	for _, r := range rounds {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%v\n",
			r.Server, r.Number, r.RosterSize, r.NumSelectors, r.DeviceIDs)
	}

	if err := w.Flush(); err != nil {
		return err
	}

	sent, err := recording.CountMessages(ctx, reader, comm.HookPosMsgSend.Name)
	if err != nil {
		return err
	}

	received, err := recording.CountMessages(ctx, reader, comm.HookPosMsgRecv.Name)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(out, "%d rounds, %d messages sent, %d received\n",
		len(rounds), sent, received)

	return err
}
