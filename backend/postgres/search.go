package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"golang.org/x/text/language"
)

// regconfigs maps BCP 47 base languages to the PostgreSQL text search
// configurations shipped by default. Anything else falls back to "simple",
// which folds case and splits on whitespace without stemming.
var regconfigs = map[string]string{
	"ar": "arabic",
	"da": "danish",
	"de": "german",
	"el": "greek",
	"en": "english",
	"es": "spanish",
	"fi": "finnish",
	"fr": "french",
	"hu": "hungarian",
	"id": "indonesian",
	"it": "italian",
	"nl": "dutch",
	"no": "norwegian",
	"pt": "portuguese",
	"ro": "romanian",
	"ru": "russian",
	"sv": "swedish",
	"tr": "turkish",
}

// regconfig resolves a language tag to a text search configuration. The
// tag is normalized first, so "en-US" and "EN" both land on "english".
func regconfig(tag string) string {
	if tag == "" {
		return "simple"
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return "simple"
	}
	base, _ := parsed.Base()
	if cfg, ok := regconfigs[base.String()]; ok {
		return cfg
	}
	return "simple"
}

// lexemeQuery renders one token as a single-lexeme tsquery literal. Tokens
// are lexemes produced by to_tsvector, so quoting is the only processing
// needed; casting the result never re-stems.
func lexemeQuery(token string) string {
	return "'" + strings.ReplaceAll(token, "'", "''") + "'"
}

// andQuery renders tokens as a conjunctive tsquery.
func andQuery(tokens []string) string {
	parts := make([]string, len(tokens))
	for i, tok := range tokens {
		parts[i] = lexemeQuery(tok)
	}
	return strings.Join(parts, " & ")
}

// SearchEntities implements eval.Searcher: every token must occur in at
// least one of the named fields. Tokens may match different fields, so the
// match runs token by token against the per-field vectors rather than as
// one conjunctive query.
func (b *Backend) SearchEntities(ctx context.Context, entityType string, fields []string, _ string, tokens []string) ([]map[string]any, error) {
	if len(tokens) == 0 {
		return b.Entities(ctx, entityType)
	}

	queries := make([]string, len(tokens))
	for i, tok := range tokens {
		queries[i] = lexemeQuery(tok)
	}
	if fields == nil {
		fields = []string{}
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT e.doc
		FROM stillsuit_entities e
		WHERE e.etype = $1
		  AND NOT EXISTS (
		    SELECT 1 FROM unnest($2::text[]) AS q(tq)
		    WHERE NOT EXISTS (
		      SELECT 1 FROM stillsuit_search s
		      WHERE s.etype = e.etype AND s.key = e.key
		        AND (cardinality($3::text[]) = 0 OR s.field = ANY ($3::text[]))
		        AND s.vec @@ q.tq::tsquery))
		ORDER BY e.key`,
		entityType, pq.Array(queries), pq.Array(fields))
	if err != nil {
		return nil, fmt.Errorf("postgres: search %s: %w", entityType, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: search %s: %w", entityType, err)
		}
		doc, err := decodeDoc(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Match implements eval.Matcher for documents that are already in hand,
// for example items of an embedded list. The searched field values are
// vectorized together under the match language, so a token may come from
// any of them.
func (b *Backend) Match(ctx context.Context, doc map[string]any, fields []string, lang string, tokens []string) (bool, error) {
	if len(tokens) == 0 {
		return true, nil
	}

	var texts []string
	for _, f := range fields {
		if s, ok := doc[f].(string); ok {
			texts = append(texts, s)
		}
	}
	if len(texts) == 0 {
		return false, nil
	}

	var matched bool
	err := b.db.QueryRowContext(ctx,
		`SELECT to_tsvector($1::regconfig, $2) @@ $3::tsquery`,
		regconfig(lang), strings.Join(texts, " "), andQuery(tokens)).Scan(&matched)
	if err != nil {
		return false, fmt.Errorf("postgres: match: %w", err)
	}
	return matched, nil
}
