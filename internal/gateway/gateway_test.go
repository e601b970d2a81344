package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/addons"
	"github.com/illoraretreats/concierge/internal/bus"
	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/cron"
	"github.com/illoraretreats/concierge/internal/engine"
	"github.com/illoraretreats/concierge/internal/events"
	"github.com/illoraretreats/concierge/internal/llm"
	"github.com/illoraretreats/concierge/internal/sheets"
)

type fakeFetcher struct {
	mu    sync.Mutex
	rows  map[string][]sheets.Row
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, sheet string) ([]sheets.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[sheet], nil
}

func (f *fakeFetcher) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type mockCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (m *mockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func (m *mockCompleter) completeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// sheetRecorder fakes the Apps Script web app and records addRow and
// updateUserWorkflow posts per sheet.
type sheetRecorder struct {
	mu      sync.Mutex
	rows    map[string][]map[string]string
	updates map[string][]workflowUpdate
}

type workflowUpdate struct {
	Email   string
	Updates map[string]string
}

func newSheetRecorder() *sheetRecorder {
	return &sheetRecorder{
		rows:    make(map[string][]map[string]string),
		updates: make(map[string][]workflowUpdate),
	}
}

func (s *sheetRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, "[]")
			return
		}
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Action  string            `json:"action"`
			Sheet   string            `json:"sheet"`
			RowData map[string]string `json:"rowData"`
			Email   string            `json:"email"`
			Updates map[string]string `json:"updates"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		if payload.Action == "updateUserWorkflow" {
			s.updates[payload.Sheet] = append(s.updates[payload.Sheet], workflowUpdate{
				Email:   payload.Email,
				Updates: payload.Updates,
			})
		} else {
			s.rows[payload.Sheet] = append(s.rows[payload.Sheet], payload.RowData)
		}
		s.mu.Unlock()
		fmt.Fprint(w, "{}")
	}
}

func (s *sheetRecorder) lastUpdate(sheet string) *workflowUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	ups := s.updates[sheet]
	if len(ups) == 0 {
		return nil
	}
	return &ups[len(ups)-1]
}

func (s *sheetRecorder) count(sheet string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[sheet])
}

func (s *sheetRecorder) last(sheet string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.rows[sheet]
	if len(rows) == 0 {
		return nil
	}
	return rows[len(rows)-1]
}

func guestSheetRows() map[string][]sheets.Row {
	return map[string][]sheets.Row{
		config.DefaultClientSheet: {
			{
				"Email":         "a@x.com",
				"Client Id":     "C-1",
				"Booking Id":    "BK-9",
				"Name":          "Asha Rao",
				"Workfow Stage": "Confirmed",
				"Room Alloted":  "204",
				"Id Link":       "https://proof.example/a",
			},
		},
		config.DefaultMenuSheet: {
			{"Type": "Beverage", "Item": "Coffee", "Price": "250", "Description": "Freshly brewed"},
			{"Type": "Wellness", "Item": "Spa", "Price": "3000", "Description": "60 minute session"},
		},
		config.DefaultQnASheet: {
			{"question": "Do you have a pool", "answer": "Yes, open 7am to 9pm"},
		},
		config.DefaultRulesSheet: {
			{"Do": "Be concise", "Dont": "Share internal errors"},
		},
		config.DefaultCampaignSheet: {
			{"Name": "Monsoon Offer", "Description": "20% off spa"},
		},
	}
}

func newTestGateway(t *testing.T, comp llm.Completer, fetcher *fakeFetcher, mutate func(*config.Config)) *Gateway {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cfg := config.DefaultConfig()
	cfg.Agent.Workspace = filepath.Join(t.TempDir(), "workspace")
	cfg.Channels.WebUI.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	nop := zerolog.Nop()
	g, err := NewWithOptions(cfg, Options{
		CompleterFactory: func(*config.Config, string, zerolog.Logger) (llm.Completer, error) {
			return comp, nil
		},
		Fetcher: fetcher,
		Log:     &nop,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	t.Cleanup(func() { _ = g.Shutdown() })
	return g
}

// collectOutbound wires a subscriber for one channel and starts the
// dispatch and process loops.
func collectOutbound(t *testing.T, g *Gateway, channel string) chan bus.OutboundMessage {
	t.Helper()
	out := make(chan bus.OutboundMessage, 10)
	g.bus.SubscribeOutbound(channel, func(msg bus.OutboundMessage) {
		out <- msg
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go g.bus.DispatchOutbound(ctx)
	go g.processLoop(ctx)
	return out
}

func waitOutbound(t *testing.T, out chan bus.OutboundMessage) bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outbound message")
		return bus.OutboundMessage{}
	}
}

func TestGatewayWebUITurnTicketAndLog(t *testing.T) {
	recorder := newSheetRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	comp := &mockCompleter{reply: "Right away, two coffees coming up."}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, func(cfg *config.Config) {
		cfg.Sheets.WebAppURL = server.URL
	})

	out := collectOutbound(t, g, "webui")
	g.bus.Inbound <- bus.InboundMessage{
		Channel:   "webui",
		SenderID:  "sess-1",
		ChatID:    "client-1",
		Content:   "please bring two coffees",
		Timestamp: time.Now(),
		Email:     "a@x.com",
		IsGuest:   true,
	}

	msg := waitOutbound(t, out)
	if msg.Content != comp.reply {
		t.Errorf("reply = %q, want %q", msg.Content, comp.reply)
	}
	if msg.Meta == nil {
		t.Fatal("webui outbound should carry meta")
	}
	if msg.Meta.Intent != "book_addon_beverage" {
		t.Errorf("intent = %q, want book_addon_beverage", msg.Meta.Intent)
	}

	if got := recorder.count(config.DefaultTicketSheet); got != 1 {
		t.Fatalf("ticket rows = %d, want 1", got)
	}
	ticketRow := recorder.last(config.DefaultTicketSheet)
	if ticketRow["Category"] != "Food" {
		t.Errorf("ticket category = %q, want Food", ticketRow["Category"])
	}
	if ticketRow["Guest Name"] != "Asha Rao" {
		t.Errorf("ticket guest = %q, want Asha Rao", ticketRow["Guest Name"])
	}

	if got := recorder.count(config.DefaultLogSheet); got != 1 {
		t.Fatalf("log rows = %d, want 1", got)
	}
	logRow := recorder.last(config.DefaultLogSheet)
	if logRow["Guest Email"] != "a@x.com" {
		t.Errorf("log email = %q, want a@x.com", logRow["Guest Email"])
	}
	if logRow["Intent"] != "book_addon_beverage" {
		t.Errorf("log intent = %q", logRow["Intent"])
	}
	if logRow["Reference Ticket ID"] == "" {
		t.Error("log should reference the created ticket")
	}
}

func TestGatewaySinkFailureDoesNotBlockReply(t *testing.T) {
	// No sheet URL configured: the ticket and log pushes fail but the
	// reply must still go out.
	comp := &mockCompleter{reply: "Certainly."}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, nil)

	out := collectOutbound(t, g, "webui")
	g.bus.Inbound <- bus.InboundMessage{
		Channel: "webui",
		ChatID:  "client-1",
		Content: "please bring fresh towels",
		Email:   "a@x.com",
		IsGuest: true,
	}

	msg := waitOutbound(t, out)
	if msg.Content != "Certainly." {
		t.Errorf("reply = %q, want %q", msg.Content, "Certainly.")
	}
}

func TestGatewayTextChannelIdentifyIntercept(t *testing.T) {
	comp := &mockCompleter{reply: "hello"}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, nil)

	out := collectOutbound(t, g, "telegram")
	g.bus.Inbound <- bus.InboundMessage{
		Channel: "telegram",
		ChatID:  "100",
		Content: "hi there",
	}

	msg := waitOutbound(t, out)
	if !strings.Contains(msg.Content, "guest") || !strings.Contains(msg.Content, "non-guest") {
		t.Errorf("first text-channel reply should ask guest vs non-guest, got %q", msg.Content)
	}
	if comp.completeCalls() != 0 {
		t.Errorf("engine should not run during identify, completer calls = %d", comp.completeCalls())
	}
}

func TestGatewayTextChannelEngineAfterIdentify(t *testing.T) {
	comp := &mockCompleter{reply: "The pool is open 7am to 9pm."}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, nil)

	out := collectOutbound(t, g, "telegram")

	g.bus.Inbound <- bus.InboundMessage{Channel: "telegram", ChatID: "100", Content: "guest"}
	ack := waitOutbound(t, out)
	if !strings.Contains(ack.Content, "guest of ILLORA Retreat") {
		t.Errorf("guest ack = %q", ack.Content)
	}

	g.bus.Inbound <- bus.InboundMessage{Channel: "telegram", ChatID: "100", Content: "do you have a pool"}
	reply := waitOutbound(t, out)
	if !strings.HasPrefix(reply.Content, "💬 ") {
		t.Errorf("text-channel reply should carry the chat prefix, got %q", reply.Content)
	}
	if !strings.Contains(reply.Content, comp.reply) {
		t.Errorf("reply = %q, want it to contain %q", reply.Content, comp.reply)
	}
	if comp.completeCalls() != 1 {
		t.Errorf("completer calls = %d, want 1", comp.completeCalls())
	}
}

func TestGatewaySessionHintSurvivesReconnect(t *testing.T) {
	comp := &mockCompleter{reply: "Of course."}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, nil)

	out := collectOutbound(t, g, "webui")

	// Same browser session, two connections: the per-connection chat id
	// changes but the session hint keeps one transcript.
	g.bus.Inbound <- bus.InboundMessage{
		Channel: "webui", ChatID: "webui-1", SessionID: "sess-abc", Content: "hello",
	}
	waitOutbound(t, out)
	g.bus.Inbound <- bus.InboundMessage{
		Channel: "webui", ChatID: "webui-2", SessionID: "sess-abc", Content: "any spa slots",
	}
	waitOutbound(t, out)

	turns, err := g.store.Recent(context.Background(), "user_sess-abc", 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("transcript has %d turns, want 4 across reconnects", len(turns))
	}
	if turns[0].Text != "hello" || turns[2].Text != "any spa slots" {
		t.Errorf("transcript = %q / %q, want both user turns under one key", turns[0].Text, turns[2].Text)
	}
}

// dashboardListener attaches a websocket client to the gateway's event
// broker and returns a channel of decoded envelopes.
func dashboardListener(t *testing.T, g *Gateway) chan eventEnvelope {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.broker.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	url := strings.Replace(srv.URL, "http://", "ws://", 1)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })

	stream := make(chan eventEnvelope, 20)
	go func() {
		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				close(stream)
				return
			}
			var env eventEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			stream <- env
		}
	}()
	return stream
}

type eventEnvelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func waitEvent(t *testing.T, ch chan eventEnvelope, event string) eventEnvelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env, ok := <-ch:
			if !ok {
				t.Fatalf("event stream closed before %q", event)
			}
			if env.Event == event {
				return env
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q event", event)
		}
	}
}

func TestGatewayGuestLogEventReachesDashboard(t *testing.T) {
	recorder := newSheetRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	comp := &mockCompleter{reply: "Right away."}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, func(cfg *config.Config) {
		cfg.Sheets.WebAppURL = server.URL
	})

	dash := dashboardListener(t, g)
	waitEvent(t, dash, "connected")

	out := collectOutbound(t, g, "webui")
	g.bus.Inbound <- bus.InboundMessage{
		Channel: "webui",
		ChatID:  "client-1",
		Content: "please bring two coffees",
		Email:   "a@x.com",
		IsGuest: true,
	}
	waitOutbound(t, out)

	env := waitEvent(t, dash, events.GuestLogCreated)
	if env.Data["email"] != "a@x.com" {
		t.Errorf("guest log event email = %v, want a@x.com", env.Data["email"])
	}
	if env.Data["intent"] != "book_addon_beverage" {
		t.Errorf("guest log event intent = %v", env.Data["intent"])
	}
}

func TestGatewaySettleClearsTabAndAdvancesStage(t *testing.T) {
	recorder := newSheetRecorder()
	server := httptest.NewServer(recorder.handler())
	defer server.Close()

	comp := &mockCompleter{reply: "x"}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, func(cfg *config.Config) {
		cfg.Sheets.WebAppURL = server.URL
	})

	ctx := context.Background()
	cat := addons.NewCatalog(g.dir.Snapshot().Menu)
	if _, err := g.ledger.Add(ctx, "a@x.com", []string{"spa"}, cat); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	dash := dashboardListener(t, g)
	waitEvent(t, dash, "connected")

	if err := g.Settle(ctx, " A@X.com "); err != nil {
		t.Fatalf("Settle error: %v", err)
	}

	keys, err := g.ledger.Items(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Items error: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("tab still has %d items after settle", len(keys))
	}

	upd := recorder.lastUpdate(config.DefaultClientSheet)
	if upd == nil {
		t.Fatal("settle should patch the client workflow row")
	}
	if upd.Email != "a@x.com" {
		t.Errorf("workflow update email = %q, want a@x.com", upd.Email)
	}
	if upd.Updates["Workflow Stage"] != "Checked Out" {
		t.Errorf("workflow stage = %q, want Checked Out", upd.Updates["Workflow Stage"])
	}

	env := waitEvent(t, dash, events.BookingUpdated)
	if env.Data["email"] != "a@x.com" {
		t.Errorf("booking event email = %v, want a@x.com", env.Data["email"])
	}
	if env.Data["stage"] != "Checked Out" {
		t.Errorf("booking event stage = %v, want Checked Out", env.Data["stage"])
	}

	if err := g.Settle(ctx, ""); err == nil {
		t.Error("settle with no email should error")
	}
}

func TestGatewayCompletionFailureSendsApology(t *testing.T) {
	comp := &mockCompleter{err: errors.New("model timeout")}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, nil)

	out := collectOutbound(t, g, "webui")
	g.bus.Inbound <- bus.InboundMessage{
		Channel: "webui",
		ChatID:  "client-1",
		Content: "do you have a pool",
		Email:   "a@x.com",
	}

	msg := waitOutbound(t, out)
	if msg.Content != engine.Apology {
		t.Errorf("reply = %q, want the fixed apology", msg.Content)
	}
}

func TestGatewayRunJob(t *testing.T) {
	comp := &mockCompleter{reply: "x"}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, nil)

	before := fetcher.fetchCalls()
	result, err := g.runJob(cron.CronJob{Payload: cron.Payload{Kind: jobKindRefresh}})
	if err != nil {
		t.Fatalf("refresh job error: %v", err)
	}
	if result == "" {
		t.Error("refresh job should report a result")
	}
	if fetcher.fetchCalls() <= before {
		t.Error("refresh job should fetch the sheets again")
	}

	g.turnCount.Store(7)
	g.ticketCount.Store(2)
	result, err = g.runJob(cron.CronJob{Payload: cron.Payload{Kind: jobKindDigest}})
	if err != nil {
		t.Fatalf("digest job error: %v", err)
	}
	if result != "turns=7 tickets=2" {
		t.Errorf("digest result = %q, want turns=7 tickets=2", result)
	}
	if g.turnCount.Load() != 0 || g.ticketCount.Load() != 0 {
		t.Error("digest should reset counters")
	}

	if _, err := g.runJob(cron.CronJob{Payload: cron.Payload{Kind: "bogus"}}); err == nil {
		t.Error("unknown job kind should error")
	}
}

func TestGatewayEnsureJobs(t *testing.T) {
	comp := &mockCompleter{reply: "x"}
	fetcher := &fakeFetcher{rows: guestSheetRows()}
	g := newTestGateway(t, comp, fetcher, func(cfg *config.Config) {
		cfg.History.CheckpointPath = filepath.Join(t.TempDir(), "history.db")
	})

	if err := g.ensureJobs(); err != nil {
		t.Fatalf("ensureJobs error: %v", err)
	}

	kinds := make(map[string]bool)
	for _, job := range g.cron.ListJobs() {
		kinds[job.Payload.Kind] = true
	}
	for _, want := range []string{jobKindRefresh, jobKindCheckpoint, jobKindDigest} {
		if !kinds[want] {
			t.Errorf("missing scheduled job kind %q", want)
		}
	}

	n := len(g.cron.ListJobs())
	if err := g.ensureJobs(); err != nil {
		t.Fatalf("ensureJobs error: %v", err)
	}
	if len(g.cron.ListJobs()) != n {
		t.Errorf("jobs = %d after second ensure, want %d", len(g.cron.ListJobs()), n)
	}
}

func TestGatewayCheckpointAcrossRestart(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cpPath := filepath.Join(home, "history.db")

	build := func() *Gateway {
		cfg := config.DefaultConfig()
		cfg.Agent.Workspace = filepath.Join(home, "workspace")
		cfg.Channels.WebUI.Enabled = false
		cfg.History.CheckpointPath = cpPath
		nop := zerolog.Nop()
		g, err := NewWithOptions(cfg, Options{
			CompleterFactory: func(*config.Config, string, zerolog.Logger) (llm.Completer, error) {
				return &mockCompleter{reply: "noted"}, nil
			},
			Fetcher: &fakeFetcher{rows: guestSheetRows()},
			Log:     &nop,
		})
		if err != nil {
			t.Fatalf("NewWithOptions error: %v", err)
		}
		return g
	}

	g1 := build()
	out := collectOutbound(t, g1, "webui")
	g1.bus.Inbound <- bus.InboundMessage{Channel: "webui", ChatID: "c1", Content: "hello", Email: "a@x.com"}
	waitOutbound(t, out)
	if err := g1.Shutdown(); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}

	g2 := build()
	defer g2.Shutdown()
	turns, err := g2.store.Recent(context.Background(), "a@x.com", 10)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("restored turns = %d, want 2 (user + assistant)", len(turns))
	}
	if turns[0].Text != "hello" || turns[1].Text != "noted" {
		t.Errorf("restored transcript = %q / %q", turns[0].Text, turns[1].Text)
	}
}

func TestGatewayRunSignalShutdown(t *testing.T) {
	comp := &mockCompleter{reply: "x"}
	fetcher := &fakeFetcher{rows: guestSheetRows()}

	t.Setenv("HOME", t.TempDir())
	cfg := config.DefaultConfig()
	cfg.Agent.Workspace = filepath.Join(t.TempDir(), "workspace")
	cfg.Channels.WebUI.Enabled = false

	nop := zerolog.Nop()
	sigCh := make(chan os.Signal, 1)
	g, err := NewWithOptions(cfg, Options{
		CompleterFactory: func(*config.Config, string, zerolog.Logger) (llm.Completer, error) {
			return comp, nil
		},
		Fetcher:    fetcher,
		SignalChan: sigCh,
		Log:        &nop,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	sigCh <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after signal")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}
