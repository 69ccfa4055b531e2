package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/pthm/stillsuit/model"
)

// Load bulk-inserts documents of one type with COPY FROM, then builds all
// their search vectors in a single statement. Keys must not already exist;
// COPY cannot upsert. Use Put for incremental writes.
func (b *Backend) Load(ctx context.Context, entityType string, docs []map[string]any) error {
	t := b.mdl.Type(entityType)
	if t == nil {
		return fmt.Errorf("postgres: unknown entity type %q", entityType)
	}
	if len(docs) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(docs))
	for _, doc := range docs {
		key := doc[t.Key()]
		if key == nil {
			return fmt.Errorf("postgres: %s document without %q", entityType, t.Key())
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("postgres: encode document: %w", err)
		}
		rows = append(rows, []any{entityType, keyString(key), string(encoded)})
	}

	if err := b.copyEntities(ctx, rows); err != nil {
		return err
	}
	return b.indexType(ctx, t)
}

// copyEntities streams rows into the entities table through the raw pgx
// connection underneath database/sql.
func (b *Backend) copyEntities(ctx context.Context, rows [][]any) error {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("postgres: load: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn any) error {
		stdlibConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("postgres: load needs the pgx driver, got %T", driverConn)
		}
		_, err := stdlibConn.Conn().CopyFrom(ctx,
			pgx.Identifier{"stillsuit_entities"},
			[]string{"etype", "key", "doc"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("postgres: load: %w", err)
		}
		return nil
	})
}

// indexType rebuilds the search rows for every stored entity of t.
func (b *Backend) indexType(ctx context.Context, t *model.Type) error {
	names, cfgs := searchColumns(t)
	if len(names) == 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO stillsuit_search (etype, key, field, vec)
		SELECT e.etype, e.key, f.name, to_tsvector(f.cfg::regconfig, e.doc->>f.name)
		FROM stillsuit_entities e,
		     unnest($2::text[], $3::text[]) AS f(name, cfg)
		WHERE e.etype = $1 AND (e.doc->>f.name) IS NOT NULL
		ON CONFLICT (etype, key, field) DO UPDATE SET vec = EXCLUDED.vec`,
		t.Name, pq.Array(names), pq.Array(cfgs))
	if err != nil {
		return fmt.Errorf("postgres: index %s: %w", t.Name, err)
	}
	return nil
}
