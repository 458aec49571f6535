package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "view <name>",
		Short: "Fetch a static view's buffered rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			rows, err := s.Views().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, rows)
		},
	}
	RootCommand.AddCommand(cmd)
}
