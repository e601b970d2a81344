// Package retrieval ranks knowledge passages for a guest query. Two
// backends implement the same contract: an in-process lexical scorer
// over the spreadsheet Q&A corpus, and a client for an external
// similarity-search index. The Retriever layers them, preferring the
// live sheet corpus and falling back to the index when the sheet
// yields nothing.
package retrieval

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/sheets"
)

type Passage struct {
	Text   string
	Score  float64
	Source sheets.Row
}

type Backend interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Retriever is the backend the dialogue engine talks to. Backend
// failures are logged and degrade to an empty result; the engine never
// sees a retrieval error.
type Retriever struct {
	primary  Backend
	fallback Backend
	log      zerolog.Logger
}

func NewRetriever(primary, fallback Backend, log zerolog.Logger) *Retriever {
	return &Retriever{primary: primary, fallback: fallback, log: log}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	passages, err := r.primary.Retrieve(ctx, query, k)
	if err != nil {
		r.log.Warn().Err(err).Msg("primary retrieval failed")
		passages = nil
	}
	if len(passages) > 0 {
		return passages, nil
	}
	if r.fallback == nil {
		return nil, nil
	}

	passages, err = r.fallback.Retrieve(ctx, query, k)
	if err != nil {
		r.log.Warn().Err(err).Msg("fallback retrieval failed")
		return nil, nil
	}
	return passages, nil
}
