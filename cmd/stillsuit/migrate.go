package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/stillsuit/internal/cli"
)

var (
	migrateModel   string
	migrateBackend string
	migrateDB      string
	migratePath    string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create backend storage schema",
	Long:  `Create the storage schema in a postgres or sqlite backend. Idempotent.`,
	Example: `  # Create the postgres schema
  stillsuit migrate --backend postgres --db postgres://localhost/app

  # Create the sqlite schema
  stillsuit migrate --backend sqlite --path app.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadModel(migrateModel)
		if err != nil {
			return err
		}

		kind := resolveString(migrateBackend, cfg.Backend.Kind)
		if kind == cli.BackendMemory {
			return cli.ConfigError("the memory backend has no schema to migrate", nil)
		}

		a, err := openAdapter(m, kind, migrateDB, migratePath)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		if err := a.setup(cmd.Context()); err != nil {
			return cli.GeneralError("creating schema", err)
		}
		if !quiet {
			fmt.Printf("Storage schema created (%s).\n", a.kind)
		}
		return nil
	},
}

func init() {
	f := migrateCmd.Flags()
	f.StringVar(&migrateModel, "model", "", "path to the model file")
	f.StringVar(&migrateBackend, "backend", "", "backend kind (postgres, sqlite)")
	f.StringVar(&migrateDB, "db", "", "postgres database URL")
	f.StringVar(&migratePath, "path", "", "sqlite database file")
}
