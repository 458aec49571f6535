package cmd

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document, applying its referrers' on_delete policy",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			return s.Delete(cmd.Context(), args[0], args[1])
		},
	}
	RootCommand.AddCommand(cmd)
}
