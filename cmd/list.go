package cmd

import (
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/JustMaier/groundDb/store"
)

func init() {
	var filterJSON string
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List every document in a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			filters, err := parseJSONArg(filterJSON)
			if err != nil {
				return err
			}
			docs, err := s.List(cmd.Context(), args[0], filters)
			if err != nil {
				return err
			}
			if wantsJSON(cmd) {
				return printJSON(os.Stdout, docs)
			}
			renderDocTable(os.Stdout, docs)
			return nil
		},
	}
	cmd.Flags().StringVar(&filterJSON, "filter", "", "JSON object of exact-match field filters")
	RootCommand.AddCommand(cmd)
}

// renderDocTable prints id/path/modified plus every field present on any
// of docs, in a stable column order, via the teacher's classic
// tablewriter.NewWriter/Append/Render sequence.
func renderDocTable(w *os.File, docs []*store.Document) {
	fieldSet := map[string]bool{}
	for _, d := range docs {
		for k := range d.Fields {
			fieldSet[k] = true
		}
	}
	fieldCols := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		fieldCols = append(fieldCols, k)
	}
	sort.Strings(fieldCols)

	table := tablewriter.NewWriter(w)
	header := append([]string{"id", "path", "modified"}, fieldCols...)
	table.SetHeader(header)
	for _, d := range docs {
		row := []string{d.ID, d.Path, d.ModifiedAt.Format("2006-01-02T15:04:05Z07:00")}
		for _, col := range fieldCols {
			row = append(row, fmt.Sprintf("%v", d.Fields[col]))
		}
		table.Append(row)
	}
	table.Render()
}
