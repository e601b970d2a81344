package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
)

const indexTimeout = 15 * time.Second

// Index queries an external similarity-search service. It over-fetches
// and then down-selects a diverse top k so near-duplicate passages do
// not crowd the prompt.
type Index struct {
	baseURL string
	fetchK  int
	http    *http.Client
	log     zerolog.Logger
}

func NewIndex(baseURL string, fetchK int, log zerolog.Logger) *Index {
	return &Index{
		baseURL: baseURL,
		fetchK:  fetchK,
		http:    &http.Client{Timeout: indexTimeout},
		log:     log,
	}
}

type indexRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type indexResponse struct {
	Results []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func (ix *Index) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	fetchK := ix.fetchK
	if fetchK < k {
		fetchK = k
	}
	body, err := sonic.Marshal(indexRequest{Query: query, K: fetchK})
	if err != nil {
		return nil, fmt.Errorf("encode index request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ix.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ix.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query index: unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read index response: %w", err)
	}
	var decoded indexResponse
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode index response: %w", err)
	}

	candidates := make([]Passage, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		candidates = append(candidates, Passage{Text: r.Text, Score: r.Score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return diversify(candidates, k), nil
}

const maxOverlapShare = 0.8

// diversify greedily picks candidates in score order, skipping any that
// share at least 80% of their tokens with an already-picked passage.
// If the skips leave fewer than k picks, the remaining slots fill back
// up in score order.
func diversify(candidates []Passage, k int) []Passage {
	if k <= 0 || len(candidates) <= k {
		return candidates
	}

	picked := make([]Passage, 0, k)
	pickedSets := make([]map[string]bool, 0, k)
	used := make([]bool, len(candidates))
	for i, cand := range candidates {
		if len(picked) == k {
			break
		}
		set := tokenSet(normalizeText(cand.Text))
		redundant := false
		for _, prev := range pickedSets {
			if overlapShare(set, prev) >= maxOverlapShare {
				redundant = true
				break
			}
		}
		if redundant {
			continue
		}
		picked = append(picked, cand)
		pickedSets = append(pickedSets, set)
		used[i] = true
	}
	for i, cand := range candidates {
		if len(picked) == k {
			break
		}
		if !used[i] {
			picked = append(picked, cand)
		}
	}
	return picked
}

func overlapShare(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if b[tok] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}
