package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	grounddb "github.com/JustMaier/groundDb"
)

func init() {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Re-validate every indexed document against the current schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			violations, err := s.ValidateAll(cmd.Context())
			if err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return printJSON(os.Stdout, violations)
			}
			total := 0
			for coll, msgs := range violations {
				for _, m := range msgs {
					fmt.Fprintf(os.Stdout, "%s: %s\n", coll, m)
					total++
				}
			}
			if total > 0 {
				return grounddb.Errorf(grounddb.ValidationErr, "%d violation(s) found", total)
			}
			fmt.Fprintln(os.Stdout, "ok")
			return nil
		},
	}
	RootCommand.AddCommand(cmd)
}
