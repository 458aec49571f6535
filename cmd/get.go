package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Fetch one document by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			doc, err := s.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, doc)
		},
	}
	RootCommand.AddCommand(cmd)
}
