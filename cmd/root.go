// Package cmd implements the GroundDB CLI surface (spec §6.2): one
// subcommand per store/view operation, grounded on the teacher's
// cmd/commands.go registration pattern.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/config"
	"github.com/JustMaier/groundDb/logging"
	"github.com/JustMaier/groundDb/store"
)

var (
	flagDataDir    string
	flagConfigFile string
	flagJSON       bool
)

// RootCommand is the base CLI command every subcommand in this package
// registers itself onto via init().
var RootCommand = &cobra.Command{
	Use:   "grounddb",
	Short: "GroundDB: a schema-driven document data layer over plain files",
	Long:  "GroundDB reads and writes Markdown/JSON/JSONL documents under a data directory, keeping an embedded SQL index and view cache in sync.",
}

func init() {
	RootCommand.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: GROUNDDB_DATA_DIR or .)")
	RootCommand.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to grounddb.yaml")
	RootCommand.PersistentFlags().BoolVar(&flagJSON, "json", false, "force JSON output")
}

// Execute runs the root command, exiting the process per spec §7's
// 0/1/2 exit-code convention.
func Execute() {
	if err := RootCommand.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

// loadConfig merges grounddb.yaml/env with whatever --data-dir/--config
// flags the invoked subcommand declared.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return config.Config{}, err
	}
	config.BindFlags(&cfg, flags)
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	return cfg, nil
}

// openStore loads config and opens a Store for the invoked command.
func openStore(cmd *cobra.Command) (*store.Store, config.Config, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, cfg, err
	}
	if cfg.LogLevel != "" {
		if err := logging.SetLevel(cfg.LogLevel); err != nil {
			return nil, cfg, err
		}
	}
	s, err := store.Open(cmd.Context(), cfg.DataDir)
	if err != nil {
		return nil, cfg, err
	}
	return s, cfg, nil
}

// wantsJSON reports whether output should be JSON: either --json was
// passed, or stdout is not a terminal.
func wantsJSON(cmd *cobra.Command) bool {
	if flagJSON {
		return true
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCodeFor maps a returned error to spec §7's exit codes: 2 for a
// *grounddb.Error (a classified failure reported as
// ERROR:<KIND>:<message> on stderr), 1 for anything else.
func exitCodeFor(err error) int {
	if gerr, ok := err.(*grounddb.Error); ok {
		fmt.Fprintf(os.Stderr, "ERROR:%s:%s\n", gerr.Code, gerr.Message)
		return 2
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func parseJSONArg(s string) (map[string]interface{}, error) {
	if s == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("parse JSON argument: %w", err)
	}
	return m, nil
}
