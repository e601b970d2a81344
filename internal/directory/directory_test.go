package directory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/sheets"
)

type mockFetcher struct {
	mu      sync.Mutex
	bySheet map[string][]sheets.Row
	errFor  map[string]error
	calls   []string
}

func (m *mockFetcher) Fetch(ctx context.Context, sheet string) ([]sheets.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sheet)
	if err := m.errFor[sheet]; err != nil {
		return nil, err
	}
	return m.bySheet[sheet], nil
}

func testSheetsConfig() config.SheetsConfig {
	return config.SheetsConfig{
		QnASheet:      "QnA_Manager",
		RulesSheet:    "Dos and Donts",
		CampaignSheet: "Campaigns_Manager",
		MenuSheet:     "menu_manager",
		ClientSheet:   "Client_workflow",
	}
}

func newTestStore(f Fetcher) *Store {
	return NewStore(f, testSheetsConfig(), zerolog.Nop())
}

func TestGuestFromRow_HeaderVariants(t *testing.T) {
	tests := []struct {
		name string
		row  sheets.Row
		want string
	}{
		{"misspelled stage", sheets.Row{"Workfow Stage": "Confirmed"}, "Confirmed"},
		{"correct stage", sheets.Row{"Workflow Stage": "pending"}, "pending"},
		{"camel variant", sheets.Row{"WorkFlow": "Confirmed"}, "Confirmed"},
		{"short variant", sheets.Row{"Workfow": "done"}, "done"},
		{"whitespace trimmed", sheets.Row{"Workflow Stage": "  Confirmed  "}, "Confirmed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := guestFromRow(tt.row)
			if g.WorkflowStage != tt.want {
				t.Errorf("WorkflowStage = %q, want %q", g.WorkflowStage, tt.want)
			}
		})
	}
}

func TestGuestFromRow_AllFields(t *testing.T) {
	g := guestFromRow(sheets.Row{
		"Email":         " A@X.com ",
		"Client Id":     "C-9",
		"Booking Id":    "B-7",
		"Name":          "Asha",
		"Workfow Stage": "Confirmed",
		"Room Alloted":  "T-12",
		"Id Link":       "https://drive.example/id",
	})
	if g.Email != "A@X.com" || g.ClientID != "C-9" || g.BookingID != "B-7" ||
		g.Name != "Asha" || g.Room != "T-12" || g.IDProof != "https://drive.example/id" {
		t.Errorf("unexpected record: %+v", g)
	}
}

func TestRuleFromRow_Variants(t *testing.T) {
	tests := []struct {
		name     string
		row      sheets.Row
		wantDo   string
		wantDont string
	}{
		{"plain", sheets.Row{"Do": "greet warmly", "Dont": "share rates"}, "greet warmly", "share rates"},
		{"apostrophes", sheets.Row{"Do's": "be brief", "Don'ts": "guess"}, "be brief", "guess"},
		{"lowercase", sheets.Row{"do": "smile", "dont": "argue"}, "smile", "argue"},
		{"underscored", sheets.Row{"Do_s": "confirm", "Dont_s": "assume"}, "confirm", "assume"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ruleFromRow(tt.row)
			if r.Do != tt.wantDo || r.Dont != tt.wantDont {
				t.Errorf("rule = %+v, want do=%q dont=%q", r, tt.wantDo, tt.wantDont)
			}
		})
	}
}

func TestCampaignFromRow_AltHeaders(t *testing.T) {
	c := campaignFromRow(sheets.Row{"Title": "Monsoon Offer", "Desc": "20% off spa"})
	if c.Title != "Monsoon Offer" || c.Description != "20% off spa" {
		t.Errorf("campaign = %+v", c)
	}
}

func TestQARowDocText(t *testing.T) {
	qa := qaFromRow(sheets.Row{"question": "Do you have a pool?", "answer": "Yes, heated."})
	want := "Q: Do you have a pool?\nA: Yes, heated."
	if got := qa.DocText(); got != want {
		t.Errorf("DocText() = %q, want %q", got, want)
	}
}

func TestQARowDocText_FallbackDeterministic(t *testing.T) {
	qa := qaFromRow(sheets.Row{"Topic": "Dining", "Detail": "Open 7-11", "Empty": ""})
	first := qa.DocText()
	for i := 0; i < 20; i++ {
		if got := qa.DocText(); got != first {
			t.Fatalf("DocText not deterministic: %q vs %q", got, first)
		}
	}
	if first != "Open 7-11 | Dining" {
		t.Errorf("DocText() = %q, want sorted-key join", first)
	}
}

func TestSnapshotResolve_FieldOrder(t *testing.T) {
	snap := &Snapshot{Guests: []GuestRecord{
		{Email: "a@x.com", Name: "Asha"},
		{Email: "b@x.com", ClientID: "CL-1", Name: "Ravi"},
	}}

	tests := []struct {
		identifier string
		wantEmail  string
	}{
		{"a@x.com", "a@x.com"},
		{" A@X.COM ", "a@x.com"},
		{"cl-1", "b@x.com"},
		{"Ravi", "b@x.com"},
	}
	for _, tt := range tests {
		got, err := snap.Resolve(tt.identifier)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", tt.identifier, err)
		}
		if got.Email != tt.wantEmail {
			t.Errorf("Resolve(%q) = %q, want %q", tt.identifier, got.Email, tt.wantEmail)
		}
	}
}

func TestSnapshotResolve_RowMajorFirstMatch(t *testing.T) {
	// The first row's name collides with the second row's email; row
	// order wins.
	snap := &Snapshot{Guests: []GuestRecord{
		{Name: "x@y.com", Email: "first@x.com"},
		{Email: "x@y.com"},
	}}
	got, err := snap.Resolve("x@y.com")
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got.Email != "first@x.com" {
		t.Errorf("Resolve = %+v, want first row", got)
	}
}

func TestSnapshotResolve_NotFound(t *testing.T) {
	snap := &Snapshot{Guests: []GuestRecord{{Email: "a@x.com"}}}
	if _, err := snap.Resolve("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := snap.Resolve(""); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty identifier err = %v, want ErrNotFound", err)
	}
}

func TestRefresh_BuildsSnapshot(t *testing.T) {
	f := &mockFetcher{bySheet: map[string][]sheets.Row{
		"Client_workflow":   {{"Email": "a@x.com", "Workfow Stage": "Confirmed"}},
		"QnA_Manager":       {{"question": "pool?", "answer": "yes"}},
		"menu_manager":      {{"Type": "Spa", "Item": "Massage", "Price": "2500"}},
		"Campaigns_Manager": {{"Name": "Promo", "Description": "deal"}},
		"Dos and Donts":     {{"Do": "greet"}, {"Do": "", "Dont": ""}},
	}}
	s := newTestStore(f)

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Guests) != 1 || snap.Guests[0].Email != "a@x.com" {
		t.Errorf("guests = %+v", snap.Guests)
	}
	if len(snap.QA) != 1 || snap.QA[0].Question != "pool?" {
		t.Errorf("qa = %+v", snap.QA)
	}
	if len(snap.Menu) != 1 || snap.Menu[0].Item != "Massage" {
		t.Errorf("menu = %+v", snap.Menu)
	}
	if len(snap.Campaigns) != 1 || snap.Campaigns[0].Title != "Promo" {
		t.Errorf("campaigns = %+v", snap.Campaigns)
	}
	// Blank rule rows are dropped.
	if len(snap.Rules) != 1 || snap.Rules[0].Do != "greet" {
		t.Errorf("rules = %+v", snap.Rules)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestRefresh_FailureKeepsOldSnapshot(t *testing.T) {
	f := &mockFetcher{bySheet: map[string][]sheets.Row{
		"Client_workflow":   {{"Email": "a@x.com"}},
		"QnA_Manager":       {},
		"menu_manager":      {},
		"Campaigns_Manager": {},
		"Dos and Donts":     {},
	}}
	s := newTestStore(f)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatalf("first Refresh error: %v", err)
	}
	before := s.Snapshot()

	f.mu.Lock()
	f.errFor = map[string]error{"menu_manager": &sheets.SourceError{Sheet: "menu_manager", Err: errors.New("boom")}}
	f.bySheet["Client_workflow"] = []sheets.Row{{"Email": "changed@x.com"}}
	f.mu.Unlock()

	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("expected Refresh error")
	}
	after := s.Snapshot()
	if after != before {
		t.Error("failed refresh must not swap the snapshot")
	}
	if after.Guests[0].Email != "a@x.com" {
		t.Errorf("guest = %q, want pre-failure value", after.Guests[0].Email)
	}
}

func TestRefresh_ConcurrentReaders(t *testing.T) {
	f := &mockFetcher{bySheet: map[string][]sheets.Row{
		"Client_workflow":   {{"Email": "a@x.com"}},
		"QnA_Manager":       {{"question": "q", "answer": "a"}},
		"menu_manager":      {},
		"Campaigns_Manager": {},
		"Dos and Donts":     {},
	}}
	s := newTestStore(f)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Refresh(context.Background())
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				snap := s.Snapshot()
				if snap == nil {
					t.Error("nil snapshot")
					return
				}
				// A snapshot must always be internally consistent.
				if len(snap.Guests) > 0 && snap.Guests[0].Email == "" {
					t.Error("torn snapshot")
					return
				}
			}
		}()
	}
	wg.Wait()
}
