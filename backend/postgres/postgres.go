// Package postgres is the PostgreSQL backend adapter. Documents live in a
// jsonb entities table; searchable fields are mirrored into a tsvector
// table with a GIN index, so tokenization and search run inside the
// database with its own language configurations.
//
// The adapter works with *sql.DB and expects the pgx stdlib driver; bulk
// loading unwraps the raw pgx connection for COPY FROM.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/pthm/stillsuit/backend"
	"github.com/pthm/stillsuit/internal/eval"
	"github.com/pthm/stillsuit/model"
	"github.com/pthm/stillsuit/querytree"
)

// Backend is a PostgreSQL adapter. It is safe for concurrent use; all
// concurrency control is the connection pool's.
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

// New wraps an existing connection pool. The pool must use the pgx stdlib
// driver for Load to work; everything else runs on plain database/sql.
func New(db *sql.DB, m *model.Model) *Backend {
	return &Backend{db: db, mdl: m}
}

// Open connects to the given DSN with the pgx stdlib driver.
func Open(dsn string, m *model.Model) (*Backend, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return New(db, m), nil
}

// Close closes the underlying pool.
func (b *Backend) Close() error { return b.db.Close() }

// Ping verifies connectivity.
func (b *Backend) Ping(ctx context.Context) error { return b.db.PingContext(ctx) }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS stillsuit_entities (
    etype text NOT NULL,
    key   text NOT NULL,
    doc   jsonb NOT NULL,
    PRIMARY KEY (etype, key)
);

CREATE TABLE IF NOT EXISTS stillsuit_search (
    etype text NOT NULL,
    key   text NOT NULL,
    field text NOT NULL,
    vec   tsvector NOT NULL,
    PRIMARY KEY (etype, key, field),
    FOREIGN KEY (etype, key)
        REFERENCES stillsuit_entities (etype, key)
        ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS stillsuit_search_vec
    ON stillsuit_search USING gin (vec);
`

// Setup creates the storage schema. Idempotent.
func (b *Backend) Setup(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("postgres: setup: %w", err)
	}
	return nil
}

// SchemaPresent reports whether the storage schema exists.
func (b *Backend) SchemaPresent(ctx context.Context) (bool, error) {
	var present bool
	err := b.db.QueryRowContext(ctx,
		`SELECT to_regclass('stillsuit_entities') IS NOT NULL`).Scan(&present)
	if err != nil {
		return false, fmt.Errorf("postgres: schema check: %w", err)
	}
	return present, nil
}

// TokenizeExpressions resolves every request in one round trip. Each
// expression is run through to_tsvector under its language's text search
// configuration; lexemes come back ordered by first occurrence.
func (b *Backend) TokenizeExpressions(ctx context.Context, reqs []querytree.TokenizeRequest) ([]querytree.Tokenization, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	exprs := make([]string, len(reqs))
	cfgs := make([]string, len(reqs))
	for i, r := range reqs {
		exprs[i] = r.Expression
		cfgs[i] = regconfig(r.Language)
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT r.ord, lex.lexeme
		FROM unnest($1::text[], $2::text[]) WITH ORDINALITY AS r(expr, cfg, ord)
		LEFT JOIN LATERAL unnest(to_tsvector(r.cfg::regconfig, r.expr)) AS lex ON true
		ORDER BY r.ord, lex.positions[1]`,
		pq.Array(exprs), pq.Array(cfgs))
	if err != nil {
		return nil, fmt.Errorf("postgres: tokenize: %w", err)
	}
	defer rows.Close()

	out := make([]querytree.Tokenization, len(reqs))
	for i, r := range reqs {
		out[i] = querytree.Tokenization{Expression: r.Expression, Language: r.Language}
	}
	for rows.Next() {
		var ord int
		var lexeme sql.NullString
		if err := rows.Scan(&ord, &lexeme); err != nil {
			return nil, fmt.Errorf("postgres: tokenize: %w", err)
		}
		if ord < 1 || ord > len(out) {
			return nil, fmt.Errorf("postgres: tokenize: ordinal %d out of range", ord)
		}
		if lexeme.Valid {
			out[ord-1].Tokens = append(out[ord-1].Tokens, lexeme.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: tokenize: %w", err)
	}
	return out, nil
}

// Execute evaluates the tree against the store.
func (b *Backend) Execute(ctx context.Context, tree querytree.Node) (any, error) {
	e := &eval.Evaluator{Model: b.mdl, Source: b}
	return e.Eval(ctx, tree)
}

// ExecuteExt evaluates like Execute and reports per-type entity counts as
// stats. The plan is the evaluated tree, which is what decides which
// queries run.
func (b *Backend) ExecuteExt(ctx context.Context, tree querytree.Node, opts backend.ExecOptions) (backend.ExecResult, error) {
	var res backend.ExecResult
	if opts.RecordPlan {
		res.Plan = "postgres evaluation of:\n" + querytree.Dump(tree)
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

	stats, statsErr := b.entityCounts(ctx)
	if statsErr == nil {
		res.Stats = stats
	}
	return res, nil
}

func (b *Backend) entityCounts(ctx context.Context) (map[string]any, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT etype, count(*) FROM stillsuit_entities GROUP BY etype`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]any{}
	for rows.Next() {
		var etype string
		var n int64
		if err := rows.Scan(&etype, &n); err != nil {
			return nil, err
		}
		stats["entities."+etype] = n
	}
	return stats, rows.Err()
}

func keyString(key any) string { return fmt.Sprintf("%v", key) }

func decodeDoc(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("postgres: decode document: %w", err)
	}
	return doc, nil
}

// Entities implements eval.Source. Storage order is key order.
func (b *Backend) Entities(ctx context.Context, entityType string) ([]map[string]any, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT doc FROM stillsuit_entities WHERE etype = $1 ORDER BY key`, entityType)
	if err != nil {
		return nil, fmt.Errorf("postgres: entities %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: entities %s: %w", entityType, err)
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
		`SELECT doc FROM stillsuit_entities WHERE etype = $1 AND key = $2`,
		entityType, keyString(key)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: lookup %s: %w", entityType, err)
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Put implements eval.Source: upsert the document and rebuild its search
// vectors in one transaction.
func (b *Backend) Put(ctx context.Context, entityType string, doc map[string]any) error {
	t := b.mdl.Type(entityType)
	if t == nil {
		return fmt.Errorf("postgres: unknown entity type %q", entityType)
	}
	key := doc[t.Key()]
	if key == nil {
		return fmt.Errorf("postgres: %s document without %q", entityType, t.Key())
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: encode document: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: put %s: %w", entityType, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stillsuit_entities (etype, key, doc)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (etype, key) DO UPDATE SET doc = EXCLUDED.doc`,
		entityType, keyString(key), string(encoded))
	if err != nil {
		return fmt.Errorf("postgres: put %s: %w", entityType, err)
	}

	if err := refreshSearch(ctx, tx, t, keyString(key), string(encoded)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: put %s: %w", entityType, err)
	}
	return nil
}

// refreshSearch replaces the search rows of one entity from its document.
func refreshSearch(ctx context.Context, tx *sql.Tx, t *model.Type, key, encoded string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM stillsuit_search WHERE etype = $1 AND key = $2`, t.Name, key)
	if err != nil {
		return fmt.Errorf("postgres: refresh search %s: %w", t.Name, err)
	}

	names, cfgs := searchColumns(t)
	if len(names) == 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO stillsuit_search (etype, key, field, vec)
		SELECT $1, $2, f.name, to_tsvector(f.cfg::regconfig, $3::jsonb->>f.name)
		FROM unnest($4::text[], $5::text[]) AS f(name, cfg)
		WHERE ($3::jsonb->>f.name) IS NOT NULL`,
		t.Name, key, encoded, pq.Array(names), pq.Array(cfgs))
	if err != nil {
		return fmt.Errorf("postgres: refresh search %s: %w", t.Name, err)
	}
	return nil
}

// searchColumns lists the searchable fields of t with their text search
// configurations.
func searchColumns(t *model.Type) (names, cfgs []string) {
	for _, f := range t.Fields {
		if !f.Searchable {
			continue
		}
		names = append(names, f.Name)
		cfgs = append(cfgs, regconfig(f.Language))
	}
	return names, cfgs
}

// Delete implements eval.Source. Search rows go with the entity via the
// foreign key cascade.
func (b *Backend) Delete(ctx context.Context, entityType string, key any) (map[string]any, bool, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, `
		DELETE FROM stillsuit_entities
		WHERE etype = $1 AND key = $2
		RETURNING doc`,
		entityType, keyString(key)).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: delete %s: %w", entityType, err)
	}
	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}
