package cmd

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type collectionStatus struct {
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print document counts per collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()

			var statuses []collectionStatus
			for _, name := range s.Schema().CollectionNames() {
				docs, err := s.List(cmd.Context(), name, nil)
				if err != nil {
					return err
				}
				statuses = append(statuses, collectionStatus{Collection: name, Documents: len(docs)})
			}
			if wantsJSON(cmd) {
				return printJSON(os.Stdout, statuses)
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"collection", "documents"})
			for _, st := range statuses {
				table.Append([]string{st.Collection, strconv.Itoa(st.Documents)})
			}
			table.Render()
			return nil
		},
	}
	RootCommand.AddCommand(cmd)
}
