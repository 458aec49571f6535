package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/JustMaier/groundDb/store"
)

func init() {
	var out string
	cmd := &cobra.Command{
		Use:   "export [collection]",
		Short: "Export one collection, or every collection, as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			names := []string{}
			if len(args) == 1 {
				names = append(names, args[0])
			} else {
				names = s.Schema().CollectionNames()
			}
			result := map[string][]*store.Document{}
			for _, name := range names {
				docs, err := s.List(cmd.Context(), name, nil)
				if err != nil {
					return err
				}
				result[name] = docs
			}

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if len(args) == 1 {
				return printJSON(w, result[args[0]])
			}
			return printJSON(w, result)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write to this file instead of stdout")
	RootCommand.AddCommand(cmd)
}
