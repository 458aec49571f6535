package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/internal/index"
	"github.com/JustMaier/groundDb/internal/migration"
	"github.com/JustMaier/groundDb/internal/schema"
)

const systemDBName = "_system.db"

func init() {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Diff schema.yaml against the last recorded schema version and apply safe changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			newSch, err := schema.Load(filepath.Join(cfg.DataDir, "schema.yaml"))
			if err != nil {
				return grounddb.Wrap(grounddb.SchemaErr, err, "load schema.yaml")
			}
			idx, err := index.Open(filepath.Join(cfg.DataDir, systemDBName))
			if err != nil {
				return err
			}
			defer idx.Close()

			prevHash, prevYAML, had, err := idx.LastSchemaRecord(cmd.Context())
			if err != nil {
				return err
			}
			if !had {
				fmt.Fprintln(os.Stdout, "no recorded schema version yet; nothing to migrate")
				return nil
			}
			if prevHash == newSch.Hash {
				fmt.Fprintln(os.Stdout, "schema unchanged")
				return nil
			}

			oldSch, err := schema.Parse([]byte(prevYAML))
			if err != nil {
				return grounddb.Wrap(grounddb.SchemaErr, err, "parse previous schema version")
			}
			changes := migration.Diff(oldSch, newSch)

			if dryRun {
				fmt.Fprintln(os.Stdout, migration.DryRun(oldSch, newSch))
				for _, c := range changes {
					fmt.Fprintf(os.Stdout, "[%s/%s] %s.%s: %s\n", c.Kind, c.Safety, c.Collection, c.Field, c.Detail)
				}
				return nil
			}

			if bad, unsafe := migration.FirstUnsafe(changes); unsafe {
				return grounddb.Errorf(grounddb.MigrationRequiredErr, "unsafe schema change in %s.%s: %s", bad.Collection, bad.Field, bad.Detail)
			}
			if err := migration.Apply(cmd.Context(), cfg.DataDir, idx, newSch, changes); err != nil {
				return err
			}
			if err := idx.RecordSchemaVersion(cmd.Context(), newSch.Hash, newSch.YAML); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "applied %d migration change(s)\n", len(changes))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the schema diff and classified changes without applying them")
	RootCommand.AddCommand(cmd)
}
