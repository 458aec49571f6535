package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	var id, fieldsJSON, content string
	cmd := &cobra.Command{
		Use:   "insert <collection>",
		Short: "Insert a new document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Shutdown()
			fields, err := parseJSONArg(fieldsJSON)
			if err != nil {
				return err
			}
			doc, err := s.Insert(cmd.Context(), args[0], id, fields, content, cmd.Flags().Changed("content"))
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, doc)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "document id (generated if omitted and the collection declares id.auto)")
	cmd.Flags().StringVar(&fieldsJSON, "fields", "{}", "JSON object of front-matter fields")
	cmd.Flags().StringVar(&content, "content", "", "markdown body content")
	RootCommand.AddCommand(cmd)
}
