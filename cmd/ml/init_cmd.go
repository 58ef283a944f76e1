package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/memlogd/memlog/internal/engine"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "log",
	Short:   "Initialize a new memlog store in .memlog/",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := ".memlog"
		if flagDB != "" {
			dir = filepath.Dir(flagDB)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Join(dir, "artifacts"), 0o755); err != nil {
			return err
		}

		configPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			dbPath := filepath.Join(dir, "memlog.db")
			if flagDB != "" {
				dbPath = flagDB
			}
			contents := "db: " + dbPath + "\n" +
				"json: true\n" +
				"scope-tier: repo\n" +
				"rule-version: v1\n" +
				"artifact-dir: " + filepath.Join(dir, "artifacts") + "\n"
			if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
				return err
			}
		}

		dbPath := filepath.Join(dir, "memlog.db")
		if flagDB != "" {
			dbPath = flagDB
		}
		e, err := engine.Open(cmd.Context(), dbPath, nil)
		if err != nil {
			return err
		}
		if err := e.Close(); err != nil {
			return err
		}

		return emit(map[string]string{"db": dbPath, "config": configPath})
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
