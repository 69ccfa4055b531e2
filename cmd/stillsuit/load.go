package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pthm/stillsuit/internal/cli"
)

var (
	loadModelPath string
	loadBackend   string
	loadDB        string
	loadPath      string
)

var loadCmd = &cobra.Command{
	Use:   "load [data-file]",
	Short: "Bulk-load a data file into a backend",
	Long: `Load a YAML or JSON data file: a map from entity type name to a list
of documents. The postgres backend streams documents with COPY FROM.`,
	Example: `  # Load fixtures into postgres
  stillsuit load fixtures.yaml --backend postgres --db postgres://localhost/app`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		dataPath := cfg.Load.Data
		if len(args) == 1 {
			dataPath = args[0]
		}
		if dataPath == "" {
			return cli.ConfigError("no data file given and load.data is not configured", nil)
		}

		m, err := loadModel(loadModelPath)
		if err != nil {
			return err
		}

		a, err := openAdapter(m, loadBackend, loadDB, loadPath)
		if err != nil {
			return err
		}
		defer func() { _ = a.close() }()

		data, err := readDataFile(dataPath)
		if err != nil {
			return err
		}

		total := 0
		for entityType, docs := range data {
			if err := a.load(ctx, entityType, docs); err != nil {
				return cli.GeneralError(fmt.Sprintf("loading %s documents", entityType), err)
			}
			total += len(docs)
			if verbose > 0 {
				fmt.Printf("  %s: %d documents\n", entityType, len(docs))
			}
		}
		if !quiet {
			fmt.Printf("Loaded %d documents across %d types (%s).\n", total, len(data), a.kind)
		}
		return nil
	},
}

func init() {
	f := loadCmd.Flags()
	f.StringVar(&loadModelPath, "model", "", "path to the model file")
	f.StringVar(&loadBackend, "backend", "", "backend kind (memory, postgres, sqlite)")
	f.StringVar(&loadDB, "db", "", "postgres database URL")
	f.StringVar(&loadPath, "path", "", "sqlite database file")
}
