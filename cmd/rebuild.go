package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var viewName string
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild every view, or one view with --view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			if viewName != "" {
				if err := s.RebuildView(cmd.Context(), viewName); err != nil {
					return err
				}
			} else if err := s.Rebuild(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&viewName, "view", "", "rebuild only this view")
	RootCommand.AddCommand(cmd)
}
