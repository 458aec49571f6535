package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/JustMaier/groundDb/store"
)

func init() {
	var fieldsJSON, content string
	var partial bool
	cmd := &cobra.Command{
		Use:   "update <collection> <id>",
		Short: "Update an existing document",
		Args:  cobra.ExactArgs(2),
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
			hasContent := cmd.Flags().Changed("content")
			var doc *store.Document
			if partial {
				doc, err = s.UpdatePartial(cmd.Context(), args[0], args[1], fields, content, hasContent)
			} else {
				doc, err = s.Update(cmd.Context(), args[0], args[1], fields, content, hasContent)
			}
			if err != nil {
				return err
			}
			return printJSON(os.Stdout, doc)
		},
	}
	cmd.Flags().StringVar(&fieldsJSON, "fields", "{}", "JSON object of fields to set")
	cmd.Flags().StringVar(&content, "content", "", "markdown body content")
	cmd.Flags().BoolVar(&partial, "partial", false, "merge fields instead of replacing the document")
	RootCommand.AddCommand(cmd)
}
