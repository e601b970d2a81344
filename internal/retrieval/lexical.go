package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/directory"
)

// SnapshotSource yields the current spreadsheet snapshot. The directory
// store satisfies this.
type SnapshotSource interface {
	Snapshot() *directory.Snapshot
}

// Lexical scores every Q&A row against the query with a hybrid of
// token-set overlap and character-level sequence similarity. Rows keep
// their sheet order on ties, so scoring is fully deterministic.
type Lexical struct {
	source SnapshotSource
	log    zerolog.Logger
}

func NewLexical(source SnapshotSource, log zerolog.Logger) *Lexical {
	return &Lexical{source: source, log: log}
}

func (l *Lexical) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	snap := l.source.Snapshot()
	if snap == nil || len(snap.QA) == 0 {
		return nil, nil
	}

	passages := make([]Passage, 0, len(snap.QA))
	for _, row := range snap.QA {
		doc := row.DocText()
		passages = append(passages, Passage{
			Text:   doc,
			Score:  hybridScore(query, doc),
			Source: row.Fields,
		})
	}
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	if k > 0 && len(passages) > k {
		passages = passages[:k]
	}
	return passages, nil
}

const (
	overlapWeight  = 0.65
	sequenceWeight = 0.35
)

// hybridScore blends token-set overlap against the smaller set with a
// sequence-similarity ratio over the normalized strings. Either side
// normalizing to nothing scores zero.
func hybridScore(query, doc string) float64 {
	qn := normalizeText(query)
	dn := normalizeText(doc)
	qTokens := tokenSet(qn)
	dTokens := tokenSet(dn)
	if len(qTokens) == 0 || len(dTokens) == 0 {
		return 0
	}

	shared := 0
	for tok := range qTokens {
		if dTokens[tok] {
			shared++
		}
	}
	smaller := len(qTokens)
	if len(dTokens) < smaller {
		smaller = len(dTokens)
	}
	overlap := float64(shared) / float64(smaller)

	return overlapWeight*overlap + sequenceWeight*sequenceRatio(qn, dn)
}

// normalizeText lowercases, replaces every non-alphanumeric rune with a
// space and collapses runs of whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		set[tok] = true
	}
	return set
}
