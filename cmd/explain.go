package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "explain <view>",
		Short: "Print a view's rewritten SQL and per-collection row counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			ex, err := s.Explain(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return printJSON(os.Stdout, ex)
			}
			fmt.Fprintln(os.Stdout, ex.SQL)
			fmt.Fprintln(os.Stdout)
			for coll, n := range ex.CollectionCounts {
				fmt.Fprintf(os.Stdout, "%s: %d rows\n", coll, n)
			}
			return nil
		},
	}
	RootCommand.AddCommand(cmd)
}
