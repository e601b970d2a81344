package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestForAddons(t *testing.T) {
	var captured linkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/links" {
			t.Errorf("path = %q, want /links", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"url": "https://pay.example/cs_123"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	got, err := c.ForAddons(context.Background(), "webui:abc", []string{"spa", "brownie"})
	if err != nil {
		t.Fatalf("ForAddons() error = %v", err)
	}
	if got != "https://pay.example/cs_123" {
		t.Errorf("ForAddons() = %q", got)
	}
	if captured.Kind != "addons" || captured.SessionID != "webui:abc" || len(captured.Items) != 2 {
		t.Errorf("request = %+v", captured)
	}
}

func TestForPending(t *testing.T) {
	var captured linkRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		json.NewEncoder(w).Encode(map[string]string{"url": "https://pay.example/cs_900"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	got, err := c.ForPending(context.Background(), 4100)
	if err != nil {
		t.Fatalf("ForPending() error = %v", err)
	}
	if got == "" || captured.Kind != "pending" || captured.Amount != 4100 {
		t.Errorf("got %q, request %+v", got, captured)
	}
}

func TestDisabledWithoutURL(t *testing.T) {
	c := NewClient("", zerolog.Nop())
	_, err := c.ForPending(context.Background(), 100)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("error = %v, want ErrDisabled", err)
	}
}

func TestServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	if _, err := c.ForBooking(context.Background(), "BK-1", 12500); err == nil {
		t.Fatal("ForBooking() error = nil, want status error")
	}
}

func TestEmptyURLRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"url": ""})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	if _, err := c.ForAddons(context.Background(), "s", nil); err == nil {
		t.Fatal("ForAddons() error = nil, want missing url error")
	}
}
