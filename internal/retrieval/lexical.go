package retrieval

import (
	"context"
	"strings"

	"github.com/spherical-ai/nwshop/internal/observability"
	"github.com/spherical-ai/nwshop/internal/storage"
)

// FullTextSearcher runs raw FTS5 MATCH expressions.
type FullTextSearcher interface {
	FullTextSearch(ctx context.Context, match string, limit int) ([]storage.RankedProduct, error)
}

// LexicalHit is a full-text match; lower Rank is better.
type LexicalHit struct {
	storage.Product
	Rank float64
}

// LexicalIndex searches products by token prefix.
type LexicalIndex struct {
	fts    FullTextSearcher
	logger *observability.Logger
}

// NewLexicalIndex creates a lexical index over fts.
func NewLexicalIndex(fts FullTextSearcher, logger *observability.Logger) *LexicalIndex {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LexicalIndex{fts: fts, logger: logger}
}

var ftsSpecialChars = strings.NewReplacer(`'`, "", `"`, "", "*", "", "(", "", ")", "")

// SanitizeQuery strips FTS5 syntax characters and surrounding space.
func SanitizeQuery(q string) string {
	return strings.TrimSpace(ftsSpecialChars.Replace(q))
}

// PrefixQuery turns a sanitized query into `"tok"* "tok"*`.
func PrefixQuery(sanitized string) string {
	fields := strings.Fields(sanitized)
	terms := make([]string, len(fields))
	for i, f := range fields {
		terms[i] = `"` + f + `"*`
	}
	return strings.Join(terms, " ")
}

// Search matches query by prefix terms, retrying as a quoted phrase when the
// expression is rejected. Query failures yield an empty result; only a
// cancelled context is returned as an error.
func (l *LexicalIndex) Search(ctx context.Context, query string, limit int) ([]LexicalHit, error) {
	sanitized := SanitizeQuery(query)
	if sanitized == "" {
		return []LexicalHit{}, nil
	}

	ranked, err := l.fts.FullTextSearch(ctx, PrefixQuery(sanitized), limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Debug().Str("query", sanitized).Err(err).Msg("prefix match rejected, retrying as phrase")

		ranked, err = l.fts.FullTextSearch(ctx, `"`+sanitized+`"`, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn().Str("query", sanitized).Err(err).Msg("full-text search failed")
			return []LexicalHit{}, nil
		}
	}

	hits := make([]LexicalHit, len(ranked))
	for i, r := range ranked {
		hits[i] = LexicalHit{Product: r.Product, Rank: r.Rank}
	}
	return hits, nil
}
