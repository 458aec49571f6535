package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var paramsJSON string
	cmd := &cobra.Command{
		Use:   "query <name>",
		Short: "Execute a query-type view with bound parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			params, err := parseJSONArg(paramsJSON)
			if err != nil {
				return err
			}
			rows, err := s.QueryDynamic(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, rows)
		},
	}
	cmd.Flags().StringVar(&paramsJSON, "params", "{}", "JSON object of query parameters")
	RootCommand.AddCommand(cmd)
}
