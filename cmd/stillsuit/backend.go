package main

import (
	"context"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/pthm/stillsuit/backend"
	"github.com/pthm/stillsuit/backend/memory"
	"github.com/pthm/stillsuit/backend/postgres"
	"github.com/pthm/stillsuit/backend/sqlite"
	"github.com/pthm/stillsuit/internal/cli"
	"github.com/pthm/stillsuit/model"
)

// adapter unifies the backend kinds behind the operations the CLI needs.
// The memory backend has no schema and no connection, so its setup and
// close are no-ops.
type adapter struct {
	be    backend.Backend
	kind  string
	setup func(ctx context.Context) error
	load  func(ctx context.Context, entityType string, docs []map[string]any) error
	ping  func(ctx context.Context) error
	close func() error
}

// loadModel reads and validates the model file resolved from flag and
// config.
func loadModel(flagValue string) (*model.Model, error) {
	path := cfg.ResolvedModel(flagValue)
	m, err := model.LoadFile(path)
	if err != nil {
		return nil, cli.ModelParseError(fmt.Sprintf("loading model %s", path), err)
	}
	if err := m.Validate(); err != nil {
		return nil, cli.ModelParseError(fmt.Sprintf("invalid model %s", path), err)
	}
	return m, nil
}

// openAdapter opens the backend selected by flags and config. Flag values
// take precedence over the config file.
func openAdapter(m *model.Model, kindFlag, dbFlag, pathFlag string) (*adapter, error) {
	kind := resolveString(kindFlag, cfg.Backend.Kind)

	switch kind {
	case cli.BackendMemory:
		be := memory.New(m)
		return &adapter{
			be:   be,
			kind: kind,
			setup: func(context.Context) error { return nil },
			load: func(_ context.Context, entityType string, docs []map[string]any) error {
				return be.Load(entityType, docs)
			},
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil

	case cli.BackendPostgres:
		dsn := dbFlag
		if dsn == "" {
			var err error
			dsn, err = cfg.DSN()
			if err != nil {
				return nil, cli.ConfigError("database configuration", err)
			}
		}
		be, err := postgres.Open(dsn, m)
		if err != nil {
			return nil, cli.DBConnectError("connecting to database", err)
		}
		return &adapter{
			be:    be,
			kind:  kind,
			setup: be.Setup,
			load:  be.Load,
			ping:  be.Ping,
			close: be.Close,
		}, nil

	case cli.BackendSQLite:
		path := resolveString(pathFlag, cfg.Backend.Path)
		be, err := sqlite.Open(path, m)
		if err != nil {
			return nil, cli.DBConnectError(fmt.Sprintf("opening database %s", path), err)
		}
		return &adapter{
			be:    be,
			kind:  kind,
			setup: be.Setup,
			load:  be.Load,
			ping:  be.Ping,
			close: be.Close,
		}, nil
	}

	return nil, cli.ConfigError(fmt.Sprintf("unknown backend kind %q", kind), nil)
}

// readDataFile parses a YAML or JSON data file: a map from entity type
// name to a list of documents.
func readDataFile(path string) (map[string][]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, cli.GeneralError(fmt.Sprintf("reading data file %s", path), err)
	}
	var data map[string][]map[string]any
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, cli.GeneralError(fmt.Sprintf("parsing data file %s", path), err)
	}
	return data, nil
}

// seedAdapter loads a data file into an opened adapter.
func seedAdapter(ctx context.Context, a *adapter, path string) error {
	data, err := readDataFile(path)
	if err != nil {
		return err
	}
	for entityType, docs := range data {
		if err := a.load(ctx, entityType, docs); err != nil {
			return cli.GeneralError(fmt.Sprintf("loading %s documents", entityType), err)
		}
	}
	return nil
}
