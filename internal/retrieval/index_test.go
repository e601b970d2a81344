package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestIndexRetrieve(t *testing.T) {
	var gotPath string
	var gotBody indexRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"text": "The pool is open 7 am to 7 pm", "score": 0.92},
				{"text": "Spa slots start at 9 am", "score": 0.61},
			},
		}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer srv.Close()

	ix := NewIndex(srv.URL, 20, zerolog.Nop())
	got, err := ix.Retrieve(context.Background(), "pool hours", 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if gotPath != "/search" {
		t.Errorf("path = %q, want %q", gotPath, "/search")
	}
	if gotBody.Query != "pool hours" {
		t.Errorf("request query = %q, want %q", gotBody.Query, "pool hours")
	}
	if gotBody.K != 20 {
		t.Errorf("request k = %d, want 20", gotBody.K)
	}
	if len(got) != 2 {
		t.Fatalf("Retrieve() returned %d passages, want 2", len(got))
	}
	if got[0].Text != "The pool is open 7 am to 7 pm" || got[0].Score != 0.92 {
		t.Errorf("top passage = %q/%v", got[0].Text, got[0].Score)
	}
}

func TestIndexRetrieveSortsByScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"text": "low", "score": 0.2},
				{"text": "high", "score": 0.9},
			},
		})
	}))
	defer srv.Close()

	ix := NewIndex(srv.URL, 20, zerolog.Nop())
	got, err := ix.Retrieve(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got[0].Text != "high" || got[1].Text != "low" {
		t.Errorf("order = %q, %q; want high, low", got[0].Text, got[1].Text)
	}
}

func TestIndexRetrieveServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	ix := NewIndex(srv.URL, 20, zerolog.Nop())
	if _, err := ix.Retrieve(context.Background(), "q", 5); err == nil {
		t.Fatal("Retrieve() error = nil, want status error")
	}
}

func TestDiversifySkipsNearDuplicates(t *testing.T) {
	candidates := []Passage{
		{Text: "The pool is open seven to seven", Score: 0.9},
		{Text: "pool open seven to seven", Score: 0.85},
		{Text: "Spa opens at nine", Score: 0.5},
	}
	got := diversify(candidates, 2)
	if len(got) != 2 {
		t.Fatalf("diversify() returned %d, want 2", len(got))
	}
	if got[0].Text != candidates[0].Text {
		t.Errorf("first pick = %q, want %q", got[0].Text, candidates[0].Text)
	}
	if got[1].Text != candidates[2].Text {
		t.Errorf("second pick = %q, want %q", got[1].Text, candidates[2].Text)
	}
}

func TestDiversifyBackfillsWhenAllSimilar(t *testing.T) {
	candidates := []Passage{
		{Text: "checkout is at eleven am", Score: 0.9},
		{Text: "checkout is at eleven", Score: 0.8},
		{Text: "the checkout is at eleven am", Score: 0.7},
	}
	got := diversify(candidates, 2)
	if len(got) != 2 {
		t.Fatalf("diversify() returned %d, want 2", len(got))
	}
	if got[0].Text != candidates[0].Text || got[1].Text != candidates[1].Text {
		t.Errorf("picks = %q, %q; want top two by score", got[0].Text, got[1].Text)
	}
}

func TestDiversifyShortInputUntouched(t *testing.T) {
	candidates := []Passage{{Text: "only one", Score: 1}}
	got := diversify(candidates, 5)
	if len(got) != 1 || got[0].Text != "only one" {
		t.Errorf("diversify() = %v, want input unchanged", got)
	}
}
