// Package sqlite is the SQLite backend adapter. Documents live in a JSON
// text column; searchable field values are mirrored into an FTS5 virtual
// table with the unicode61 tokenizer, and tokenization itself runs through
// an fts3tokenize virtual table so query expressions and indexed text are
// split by exactly the same rules.
//
// The cgo driver (mattn/go-sqlite3) is the default; build with the
// sqlite_purego tag to use the pure-Go driver (modernc.org/sqlite) instead.
//
// unicode61 is language-independent, so the language tag carried by
// tokenization requests does not change the result here. It is echoed
// back unchanged.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pthm/stillsuit/backend"
	"github.com/pthm/stillsuit/internal/eval"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// Backend is a SQLite adapter. Safe for concurrent use within the limits
// of the underlying driver's connection handling.
type Backend struct {
	db  *sql.DB
	mdl *model.Model
}

var (
	_ backend.Backend  = (*Backend)(nil)
	_ backend.Extended = (*Backend)(nil)
	_ eval.Source      = (*Backend)(nil)
	_ eval.Searcher    = (*Backend)(nil)
	_ eval.Matcher     = (*Backend)(nil)
)

// Open opens or creates the database file at path.
func Open(path string, m *model.Model) (*Backend, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// FTS5 virtual tables and the schema live in one file; writes must
	// not interleave on separate connections.
	db.SetMaxOpenConns(1)
	return &Backend{db: db, mdl: m}, nil
}

// Close closes the database.
func (b *Backend) Close() error { return b.db.Close() }

// Ping verifies the database is usable.
func (b *Backend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS stillsuit_entities (
		etype TEXT NOT NULL,
		key   TEXT NOT NULL,
		doc   TEXT NOT NULL,
		PRIMARY KEY (etype, key)
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS stillsuit_search USING fts5(
		etype UNINDEXED, key UNINDEXED, field UNINDEXED, text,
		tokenize='unicode61'
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS stillsuit_tokenizer
		USING fts3tokenize('unicode61')`,
}

// Setup creates the storage schema. Idempotent.
func (b *Backend) Setup(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: setup: %w", err)
		}
	}
	return nil
}

// SchemaPresent reports whether the storage schema exists.
func (b *Backend) SchemaPresent(ctx context.Context) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE name = 'stillsuit_entities'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: schema check: %w", err)
	}
	return n > 0, nil
}

// Execute evaluates the tree against the store.
func (b *Backend) Execute(ctx context.Context, tree querytree.Node) (any, error) {
	e := &eval.Evaluator{Model: b.mdl, Source: b}
	return e.Eval(ctx, tree)
}

// ExecuteExt evaluates like Execute and reports per-type entity counts as
// stats.
func (b *Backend) ExecuteExt(ctx context.Context, tree querytree.Node, opts backend.ExecOptions) (backend.ExecResult, error) {
	var res backend.ExecResult
	if opts.RecordPlan {
		res.Plan = "sqlite evaluation of:\n" + querytree.Dump(tree)
	}

	start := time.Now()
	data, err := b.Execute(ctx, tree)
	if opts.RecordTimings {
		res.Timings = map[string]time.Duration{"evaluate": time.Since(start)}
	}
	res.Data = data
	if err != nil {
		return res, err
	}

	rows, statsErr := b.db.QueryContext(ctx,
		`SELECT etype, count(*) FROM stillsuit_entities GROUP BY etype`)
	if statsErr == nil {
		defer rows.Close()
		stats := map[string]any{}
		for rows.Next() {
			var etype string
			var n int64
			if err := rows.Scan(&etype, &n); err == nil {
				stats["entities."+etype] = n
			}
		}
		res.Stats = stats
	}
	return res, nil
}

func keyString(key any) string { return fmt.Sprintf("%v", key) }

func decodeDoc(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("sqlite: decode document: %w", err)
	}
	return doc, nil
}

// Entities implements eval.Source. Storage order is key order.
func (b *Backend) Entities(ctx context.Context, entityType string) ([]map[string]any, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT doc FROM stillsuit_entities WHERE etype = ? ORDER BY key`, entityType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: entities %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("sqlite: entities %s: %w", entityType, err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Lookup implements eval.Source.
func (b *Backend) Lookup(ctx context.Context, entityType string, key any) (map[string]any, bool, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT doc FROM stillsuit_entities WHERE etype = ? AND key = ?`,
		entityType, keyString(key)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: lookup %s: %w", entityType, err)
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Put implements eval.Source: replace the document and its search rows in
// one transaction.
func (b *Backend) Put(ctx context.Context, entityType string, doc map[string]any) error {
	t := b.mdl.Type(entityType)
	if t == nil {
		return fmt.Errorf("sqlite: unknown entity type %q", entityType)
	}
	key := doc[t.Key()]
	if key == nil {
		return fmt.Errorf("sqlite: %s document without %q", entityType, t.Key())
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlite: encode document: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", entityType, err)
	}
	defer tx.Rollback()

	if err := putTx(ctx, tx, t, keyString(key), string(encoded), doc); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: put %s: %w", entityType, err)
	}
	return nil
}

func putTx(ctx context.Context, tx *sql.Tx, t *model.Type, key, encoded string, doc map[string]any) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO stillsuit_entities (etype, key, doc) VALUES (?, ?, ?)
		ON CONFLICT (etype, key) DO UPDATE SET doc = excluded.doc`,
		t.Name, key, encoded)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", t.Name, err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM stillsuit_search WHERE etype = ? AND key = ?`, t.Name, key)
	if err != nil {
		return fmt.Errorf("sqlite: put %s: %w", t.Name, err)
	}
	for _, f := range t.Fields {
		if !f.Searchable {
			continue
		}
		text, ok := doc[f.Name].(string)
		if !ok {
			continue
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stillsuit_search (etype, key, field, text) VALUES (?, ?, ?, ?)`,
			t.Name, key, f.Name, text)
		if err != nil {
			return fmt.Errorf("sqlite: put %s: %w", t.Name, err)
		}
	}
	return nil
}

// Delete implements eval.Source.
func (b *Backend) Delete(ctx context.Context, entityType string, key any) (map[string]any, bool, error) {
	k := keyString(key)

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: delete %s: %w", entityType, err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT doc FROM stillsuit_entities WHERE etype = ? AND key = ?`,
		entityType, k).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: delete %s: %w", entityType, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stillsuit_entities WHERE etype = ? AND key = ?`, entityType, k); err != nil {
		return nil, false, fmt.Errorf("sqlite: delete %s: %w", entityType, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM stillsuit_search WHERE etype = ? AND key = ?`, entityType, k); err != nil {
		return nil, false, fmt.Errorf("sqlite: delete %s: %w", entityType, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlite: delete %s: %w", entityType, err)
	}

	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Load bulk-inserts documents of one type inside a single transaction.
func (b *Backend) Load(ctx context.Context, entityType string, docs []map[string]any) error {
	t := b.mdl.Type(entityType)
	if t == nil {
		return fmt.Errorf("sqlite: unknown entity type %q", entityType)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: load %s: %w", entityType, err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		key := doc[t.Key()]
		if key == nil {
			return fmt.Errorf("sqlite: %s document without %q", entityType, t.Key())
		}
		encoded, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("sqlite: encode document: %w", err)
		}
		if err := putTx(ctx, tx, t, keyString(key), string(encoded), doc); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: load %s: %w", entityType, err)
	}
	return nil
}
