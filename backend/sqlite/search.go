package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/pthm/stillsuit/querytree"
)

// TokenizeExpressions resolves every request in one round trip: a VALUES
// list of the expressions joined against the fts3tokenize virtual table,
// so splitting follows exactly the rules the search index uses. Duplicate
// tokens are dropped in first-seen order.
func (b *Backend) TokenizeExpressions(ctx context.Context, reqs []querytree.TokenizeRequest) ([]querytree.Tokenization, error) {
	out := make([]querytree.Tokenization, len(reqs))
	for i, r := range reqs {
		out[i] = querytree.Tokenization{Expression: r.Expression, Language: r.Language}
	}
	if len(reqs) == 0 {
		return out, nil
	}

	var sb strings.Builder
	args := make([]any, 0, 2*len(reqs))
	sb.WriteString("WITH exprs(ord, expr) AS (VALUES ")
	for i, r := range reqs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?)")
		args = append(args, i, r.Expression)
	}
	sb.WriteString(`)
		SELECT e.ord, t.token
		FROM exprs e JOIN stillsuit_tokenizer t ON t.input = e.expr
		ORDER BY e.ord, t.position`)

	rows, err := b.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tokenize: %w", err)
	}
	defer rows.Close()

	seen := make([]map[string]bool, len(reqs))
	for rows.Next() {
		var ord int
		var token string
		if err := rows.Scan(&ord, &token); err != nil {
			return nil, fmt.Errorf("sqlite: tokenize: %w", err)
		}
		if ord < 0 || ord >= len(out) {
			return nil, fmt.Errorf("sqlite: tokenize: ordinal %d out of range", ord)
		}
		if seen[ord] == nil {
			seen[ord] = make(map[string]bool)
		}
		if seen[ord][token] {
			continue
		}
		seen[ord][token] = true
		out[ord].Tokens = append(out[ord].Tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: tokenize: %w", err)
	}
	return out, nil
}

// matchPattern quotes a token as an FTS5 string so MATCH treats it as a
// plain term, never as query syntax.
func matchPattern(token string) string {
	return `"` + strings.ReplaceAll(token, `"`, `""`) + `"`
}

// keysMatching returns the keys of entityType whose indexed fields match
// one token, restricted to the given fields.
func (b *Backend) keysMatching(ctx context.Context, entityType string, fields []string, token string) (map[string]bool, error) {
	var sb strings.Builder
	args := []any{matchPattern(token), entityType}
	sb.WriteString(`SELECT DISTINCT key FROM stillsuit_search
		WHERE stillsuit_search MATCH ? AND etype = ?`)
	if len(fields) > 0 {
		sb.WriteString(" AND field IN (")
		for i, f := range fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("?")
			args = append(args, f)
		}
		sb.WriteString(")")
	}

	rows, err := b.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search %s: %w", entityType, err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite: search %s: %w", entityType, err)
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

// SearchEntities implements eval.Searcher: every token must occur in at
// least one of the named fields. Each token runs as its own MATCH so
// different tokens may hit different fields; the key sets intersect here.
func (b *Backend) SearchEntities(ctx context.Context, entityType string, fields []string, _ string, tokens []string) ([]map[string]any, error) {
	if len(tokens) == 0 {
		return b.Entities(ctx, entityType)
	}

	var matched map[string]bool
	for _, tok := range tokens {
		keys, err := b.keysMatching(ctx, entityType, fields, tok)
		if err != nil {
			return nil, err
		}
		if matched == nil {
			matched = keys
			continue
		}
		for k := range matched {
			if !keys[k] {
				delete(matched, k)
			}
		}
		if len(matched) == 0 {
			return nil, nil
		}
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT key, doc FROM stillsuit_entities WHERE etype = ? ORDER BY key`, entityType)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: search %s: %w", entityType, err)
		}
		if !matched[key] {
			continue
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// tokenizeText splits one text through the tokenizer virtual table.
func (b *Backend) tokenizeText(ctx context.Context, text string) (map[string]bool, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT token FROM stillsuit_tokenizer WHERE input = ?`, text)
	if err != nil {
		return nil, fmt.Errorf("sqlite: tokenize text: %w", err)
	}
	defer rows.Close()

	tokens := make(map[string]bool)
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, fmt.Errorf("sqlite: tokenize text: %w", err)
		}
		tokens[tok] = true
	}
	return tokens, rows.Err()
}

// Match implements eval.Matcher for documents already in hand: the named
// field values are split by the index tokenizer and every query token must
// be among them.
func (b *Backend) Match(ctx context.Context, doc map[string]any, fields []string, _ string, tokens []string) (bool, error) {
	if len(tokens) == 0 {
		return true, nil
	}

	var texts []string
	for _, f := range fields {
		if s, ok := doc[f].(string); ok {
			texts = append(texts, s)
		}
	}
	have, err := b.tokenizeText(ctx, strings.Join(texts, " "))
	if err != nil {
		return false, err
	}
	for _, tok := range tokens {
		if !have[tok] {
			return false, nil
		}
	}
	return true, nil
}
