package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/sarchlab/fedcomm/comm"
	"github.com/spf13/cobra"
)

var taxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Print the message classes and types with their wire codes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printTaxonomy(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(taxonomyCmd)
}

func printTaxonomy(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DIRECTION\tCLASS\tCODE\tTYPE\tCODE")

	for _, d := range []comm.Direction{comm.DeviceToServer, comm.ServerToDevice} {
		for _, c := range comm.Classes(d) {
			for _, t := range c.Types() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\n",
					d, c, c.Code(), t, t.Code())
			}
		}
	}

	return w.Flush()
}
