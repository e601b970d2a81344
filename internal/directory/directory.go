// Package directory holds the typed, point-in-time view of the
// property spreadsheet: guests, menu, campaigns, communication rules
// and the Q&A corpus. Refreshes build a complete new snapshot and swap
// it atomically, so a turn in flight always reads one consistent view.
package directory

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/sheets"
)

// ErrNotFound is returned when no guest row matches an identifier.
// It is an expected outcome, not a source failure.
var ErrNotFound = errors.New("guest not found")

// Fetcher is the slice of the sheets client the store needs.
type Fetcher interface {
	Fetch(ctx context.Context, sheet string) ([]sheets.Row, error)
}

type Snapshot struct {
	Guests    []GuestRecord
	Menu      []MenuItem
	Campaigns []CampaignItem
	Rules     []Rule
	QA        []QARow
	FetchedAt time.Time
}

// Resolve finds the first guest matching the identifier, scanning rows
// in sheet order and fields in the order email, client id, booking id,
// name. Matching is exact after trim and case folding; ambiguity is
// resolved by first match.
func (s *Snapshot) Resolve(identifier string) (*GuestRecord, error) {
	id := strings.ToLower(strings.TrimSpace(identifier))
	if id == "" {
		return nil, ErrNotFound
	}
	for i := range s.Guests {
		g := &s.Guests[i]
		if strings.ToLower(g.Email) == id ||
			strings.ToLower(g.ClientID) == id ||
			strings.ToLower(g.BookingID) == id ||
			strings.ToLower(g.Name) == id {
			return g, nil
		}
	}
	return nil, ErrNotFound
}

type Store struct {
	fetcher Fetcher
	cfg     config.SheetsConfig
	log     zerolog.Logger
	snap    atomic.Pointer[Snapshot]
}

func NewStore(f Fetcher, cfg config.SheetsConfig, log zerolog.Logger) *Store {
	s := &Store{fetcher: f, cfg: cfg, log: log}
	s.snap.Store(&Snapshot{})
	return s
}

// Snapshot returns the current view. Never nil; before the first
// successful refresh it is empty, which downstream code treats as
// "no hotel data".
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Refresh fetches every tab and swaps in the new snapshot. Any fetch
// failure aborts the whole refresh and keeps the previous snapshot, so
// readers never see a torn mix of old and new rows.
func (s *Store) Refresh(ctx context.Context) error {
	clientRows, err := s.fetcher.Fetch(ctx, s.cfg.ClientSheet)
	if err != nil {
		return err
	}
	qaRows, err := s.fetcher.Fetch(ctx, s.cfg.QnASheet)
	if err != nil {
		return err
	}
	menuRows, err := s.fetcher.Fetch(ctx, s.cfg.MenuSheet)
	if err != nil {
		return err
	}
	campaignRows, err := s.fetcher.Fetch(ctx, s.cfg.CampaignSheet)
	if err != nil {
		return err
	}
	ruleRows, err := s.fetcher.Fetch(ctx, s.cfg.RulesSheet)
	if err != nil {
		return err
	}

	next := &Snapshot{
		Guests:    make([]GuestRecord, 0, len(clientRows)),
		Menu:      make([]MenuItem, 0, len(menuRows)),
		Campaigns: make([]CampaignItem, 0, len(campaignRows)),
		Rules:     make([]Rule, 0, len(ruleRows)),
		QA:        make([]QARow, 0, len(qaRows)),
		FetchedAt: time.Now().UTC(),
	}
	for _, row := range clientRows {
		next.Guests = append(next.Guests, guestFromRow(row))
	}
	for _, row := range menuRows {
		next.Menu = append(next.Menu, menuFromRow(row))
	}
	for _, row := range campaignRows {
		next.Campaigns = append(next.Campaigns, campaignFromRow(row))
	}
	for _, row := range ruleRows {
		if r := ruleFromRow(row); r.Do != "" || r.Dont != "" {
			next.Rules = append(next.Rules, r)
		}
	}
	for _, row := range qaRows {
		next.QA = append(next.QA, qaFromRow(row))
	}

	s.snap.Store(next)
	s.log.Info().
		Int("guests", len(next.Guests)).
		Int("qa", len(next.QA)).
		Int("menu", len(next.Menu)).
		Int("campaigns", len(next.Campaigns)).
		Int("rules", len(next.Rules)).
		Msg("directory refreshed")
	return nil
}
