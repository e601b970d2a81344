// Package gateway wires the concierge process together: sheet-backed
// directory, conversation history, dialogue engine, chat channels,
// scheduled jobs, and the side-effect sinks. It owns the turn loop and
// it is the single place where sink failures are dropped; the guest
// reply never waits on a ticket, a log row, or a broadcast.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/addons"
	"github.com/illoraretreats/concierge/internal/bookingflow"
	"github.com/illoraretreats/concierge/internal/bus"
	"github.com/illoraretreats/concierge/internal/channel"
	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/cron"
	"github.com/illoraretreats/concierge/internal/directory"
	"github.com/illoraretreats/concierge/internal/engine"
	"github.com/illoraretreats/concierge/internal/events"
	"github.com/illoraretreats/concierge/internal/guestlog"
	"github.com/illoraretreats/concierge/internal/history"
	"github.com/illoraretreats/concierge/internal/llm"
	"github.com/illoraretreats/concierge/internal/logger"
	"github.com/illoraretreats/concierge/internal/payments"
	"github.com/illoraretreats/concierge/internal/persona"
	"github.com/illoraretreats/concierge/internal/retrieval"
	"github.com/illoraretreats/concierge/internal/sheets"
	"github.com/illoraretreats/concierge/internal/ticket"
)

const webUIChannelName = "webui"

const (
	jobKindRefresh    = "refresh"
	jobKindCheckpoint = "checkpoint"
	jobKindDigest     = "digest"
)

const jobTimeout = time.Minute

// CompleterFactory builds the completion client. Tests inject a mock;
// the default wires the agent runtime with the persona body as system
// prompt.
type CompleterFactory func(cfg *config.Config, systemPrompt string, log zerolog.Logger) (llm.Completer, error)

// Options carries the injection points for testing.
type Options struct {
	CompleterFactory CompleterFactory
	Fetcher          directory.Fetcher // nil means the sheets client
	SignalChan       chan os.Signal
	Log              *zerolog.Logger
}

func DefaultCompleterFactory(cfg *config.Config, systemPrompt string, log zerolog.Logger) (llm.Completer, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("api key not set; run 'concierge init' or set CONCIERGE_API_KEY")
	}
	return llm.New(cfg, systemPrompt, log)
}

type Gateway struct {
	cfg *config.Config
	log zerolog.Logger

	bus        *bus.MessageBus
	sheets     *sheets.Client
	dir        *directory.Store
	store      history.Store
	memStore   *history.MemoryStore // non-nil when the in-process store is active
	checkpoint *history.Checkpoint
	engine     *engine.Engine
	ledger     *addons.Ledger
	links      payments.Links
	tickets    *ticket.Sink
	glog       *guestlog.Recorder
	broker     *events.Broker
	flow       *bookingflow.Flow
	channels   *channel.ChannelManager
	cron       *cron.Service

	signalChan chan os.Signal

	turnCount   atomic.Int64
	ticketCount atomic.Int64
}

// New creates a Gateway with default options.
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing.
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	var base zerolog.Logger
	if opts.Log != nil {
		base = *opts.Log
	} else {
		base = logger.New(cfg.LogLevel)
	}

	g := &Gateway{
		cfg:        cfg,
		log:        logger.Component(base, "gateway"),
		bus:        bus.NewMessageBus(bus.DefaultBufSize),
		signalChan: opts.SignalChan,
	}

	g.sheets = sheets.NewClient(cfg.Sheets.WebAppURL, logger.Component(base, "sheets"))
	fetcher := directory.Fetcher(g.sheets)
	if opts.Fetcher != nil {
		fetcher = opts.Fetcher
	}
	g.dir = directory.NewStore(fetcher, cfg.Sheets, logger.Component(base, "directory"))
	if err := g.dir.Refresh(context.Background()); err != nil {
		// A dead source is tolerated: the engine degrades to empty
		// corpus and unresolved guests until a refresh succeeds.
		g.log.Warn().Err(err).Msg("initial directory refresh failed")
	}

	switch cfg.History.Store {
	case "redis":
		g.store = history.NewRedisStore(cfg.History.RedisAddr, cfg.History.Cap)
	default:
		mem := history.NewMemoryStore(cfg.History.Cap)
		g.memStore = mem
		g.store = mem
	}
	if path := strings.TrimSpace(cfg.History.CheckpointPath); path != "" && g.memStore != nil {
		cp, err := history.OpenCheckpoint(path)
		if err != nil {
			g.log.Warn().Err(err).Str("path", path).Msg("open history checkpoint failed")
		} else {
			g.checkpoint = cp
			if all, err := cp.Load(context.Background()); err != nil {
				g.log.Warn().Err(err).Msg("load history checkpoint failed")
			} else if len(all) > 0 {
				g.memStore.Restore(all)
				g.log.Info().Int("keys", len(all)).Msg("history restored from checkpoint")
			}
		}
	}

	cards, err := persona.Load(filepath.Join(cfg.Agent.Workspace, "personas"), logger.Component(base, "persona"))
	if err != nil {
		g.log.Warn().Err(err).Msg("load persona cards failed")
	}
	card := persona.Active(cards, cfg.Agent.Persona)

	factory := opts.CompleterFactory
	if factory == nil {
		factory = DefaultCompleterFactory
	}
	completer, err := factory(cfg, card.Body, logger.Component(base, "llm"))
	if err != nil {
		return nil, err
	}

	lex := retrieval.NewLexical(g.dir, logger.Component(base, "retrieval"))
	var fallback retrieval.Backend
	if cfg.Retrieval.IndexURL != "" {
		fallback = retrieval.NewIndex(cfg.Retrieval.IndexURL, cfg.Retrieval.FetchK, logger.Component(base, "retrieval"))
	}
	retriever := retrieval.NewRetriever(lex, fallback, logger.Component(base, "retrieval"))

	ledgerPath := filepath.Join(config.ConfigDir(), "data", "due_items.db")
	if err := os.MkdirAll(filepath.Dir(ledgerPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	g.ledger, err = addons.OpenLedger(ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("open due ledger: %w", err)
	}

	g.links = payments.NewClient(cfg.Payments.BaseURL, logger.Component(base, "payments"))
	g.tickets = ticket.NewSink(g.sheets, cfg.Sheets.TicketSheet, logger.Component(base, "tickets"))
	g.glog = guestlog.NewRecorder(g.sheets, cfg.Sheets.LogSheet, logger.Component(base, "guestlog"))
	g.broker = events.NewBroker(logger.Component(base, "events"))
	g.flow = bookingflow.New(cfg.Rooms.Rates, g.links, g.broker, logger.Component(base, "bookingflow"))

	g.engine = engine.New(engine.Options{
		Source:    g.dir,
		History:   g.store,
		Retriever: retriever,
		Completer: completer,
		Ledger:    g.ledger,
		AgentName: card.AgentName,
		RetrieveK: cfg.Retrieval.K,
		Log:       logger.Component(base, "engine"),
	})

	chMgr, err := channel.NewChannelManager(cfg.Channels, channel.Deps{
		Bus:     g.bus,
		Events:  g.broker,
		Source:  g.dir,
		Ledger:  g.ledger,
		Links:   g.links,
		Settler: g,
		Log:     base,
	})
	if err != nil {
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	g.cron = cron.NewService(filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json"), logger.Component(base, "cron"))
	g.cron.OnJob = g.runJob

	return g, nil
}

// Engine exposes the dialogue engine for the local chat REPL.
func (g *Gateway) Engine() *engine.Engine { return g.engine }

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.log.Info().Strs("channels", g.channels.EnabledChannels()).Msg("channels started")

	if err := g.cron.Start(ctx); err != nil {
		g.log.Warn().Err(err).Msg("cron start failed")
	}
	if err := g.ensureJobs(); err != nil {
		g.log.Warn().Err(err).Msg("ensure scheduled jobs failed")
	}

	go g.processLoop(ctx)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	<-sigCh

	g.log.Info().Msg("shutting down")
	return g.Shutdown()
}

// processLoop fans inbound messages out to concurrent turns. Ordering
// within one transcript is the history store's job, not the loop's.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			go g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	g.log.Debug().Str("channel", msg.Channel).Str("sender", msg.SenderID).Str("content", truncate(msg.Content, 80)).Msg("inbound message")
	g.turnCount.Add(1)

	flowKey := msg.SessionKey()

	// Text channels pass the scripted identify stage before anything
	// reaches the engine; the web UI carries identity in the form.
	if msg.Channel != webUIChannelName {
		if reply, handled := g.flow.Intercept(flowKey, msg.Content); handled {
			g.send(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: reply})
			return
		}
	}

	isGuest := msg.IsGuest
	if msg.Channel != webUIChannelName {
		isGuest = g.flow.IsGuest(flowKey)
	}

	// The transport's own session hint keeps anonymous web visitors on
	// one transcript across reconnects; the channel:chat key is only a
	// fallback.
	sessionID := strings.TrimSpace(msg.SessionID)
	if sessionID == "" {
		sessionID = flowKey
	}

	res := g.engine.HandleTurn(ctx, engine.TurnRequest{
		Message:    msg.Content,
		IsGuest:    isGuest,
		Identifier: msg.Email,
		Source:     msg.Channel,
		SessionID:  sessionID,
	})
	fx := res.SideEffects

	email := ""
	guestName := ""
	if res.Guest != nil {
		email = strings.ToLower(strings.TrimSpace(res.Guest.Email))
		guestName = res.Guest.Name
	}
	if email == "" {
		email = strings.ToLower(strings.TrimSpace(msg.Email))
	}

	// Side-effect emission. Each call returns its error here and each
	// failure is logged and dropped; that decision is made once, in
	// this function, not inside the sinks.
	addonLink := g.emitAddons(ctx, flowKey, email, res)
	ticketID := g.emitTicket(ctx, fx.Ticket)
	pending := g.pendingBalance(ctx, fx.PendingBalance)

	if err := g.glog.Record(ctx, guestlog.Entry{
		SessionID: flowKey,
		Source:    msg.Channel,
		Email:     email,
		Name:      guestName,
		UserInput: msg.Content,
		BotReply:  res.Reply,
		Intent:    string(res.Intent),
		IsGuest:   isGuest,
		TicketID:  ticketID,
	}); err != nil {
		g.log.Warn().Err(err).Str("session", flowKey).Msg("guest log write failed")
	} else {
		g.broker.Broadcast(events.GuestLogCreated, map[string]any{
			"session_id": flowKey,
			"email":      email,
			"intent":     string(res.Intent),
			"ticket_id":  ticketID,
		})
	}

	g.broker.Broadcast(events.ChatMessage, map[string]any{
		"session_id": flowKey,
		"email":      email,
		"user":       msg.Content,
		"assistant":  res.Reply,
		"intent":     string(res.Intent),
	})

	content := res.Reply
	var meta *bus.TurnMeta
	if msg.Channel == webUIChannelName {
		meta = &bus.TurnMeta{
			Intent:          string(res.Intent),
			ShowBookingForm: fx.ShowBookingForm,
			Addons:          fx.AddonKeys,
			PaymentLink:     addonLink,
			PendingBalance:  pending,
		}
	} else {
		content = g.flow.Apply(ctx, flowKey, msg.Content, bookingflow.TurnOutcome{
			Answer:      res.Reply,
			Intent:      res.Intent,
			AddonLabels: fx.AddonLabels,
			AddonLink:   addonLink,
		})
	}
	g.send(bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: content, Meta: meta})
}

func (g *Gateway) send(msg bus.OutboundMessage) {
	g.bus.Outbound <- msg
}

// emitAddons charges matched add-ons to the guest's tab and resolves a
// payment link for them. Returns the link, or "" when none is
// available.
func (g *Gateway) emitAddons(ctx context.Context, sessionID, email string, res engine.TurnResult) string {
	keys := res.SideEffects.AddonKeys
	if len(keys) == 0 {
		return ""
	}

	if g.ledger != nil && email != "" && res.Policy.Booked && res.Policy.Verified {
		cat := addons.NewCatalog(g.dir.Snapshot().Menu)
		if _, err := g.ledger.Add(ctx, email, keys, cat); err != nil {
			g.log.Warn().Err(err).Str("email", email).Msg("record due items failed")
		}
	}

	link, err := g.links.ForAddons(ctx, sessionID, keys)
	if err != nil {
		if !errors.Is(err, payments.ErrDisabled) {
			g.log.Warn().Err(err).Strs("addons", keys).Msg("addon payment link failed")
		}
		return ""
	}
	return link
}

func (g *Gateway) emitTicket(ctx context.Context, d *engine.TicketDirective) string {
	if d == nil {
		return ""
	}
	t := ticket.New(d.GuestName, d.RoomNo, d.Request)
	if err := g.tickets.Push(ctx, t); err != nil {
		g.log.Warn().Err(err).Str("ticket", t.ID).Msg("ticket push failed")
	}
	g.ticketCount.Add(1)
	g.broker.Broadcast(events.TicketCreated, map[string]any{
		"ticket_id":   t.ID,
		"category":    t.Category,
		"assigned_to": t.AssignedTo,
	})
	return t.ID
}

func (g *Gateway) pendingBalance(ctx context.Context, pb *engine.PendingBalance) *bus.PendingBalance {
	if pb == nil {
		return nil
	}
	out := &bus.PendingBalance{Amount: int(pb.Total)}
	for _, it := range pb.Items {
		out.Items = append(out.Items, bus.BalanceItem{
			Key:       it.Key,
			Label:     it.Label,
			Qty:       it.Qty,
			UnitPrice: int(it.UnitPrice),
			LineTotal: int(it.LineTotal),
		})
	}
	link, err := g.links.ForPending(ctx, pb.Total)
	if err != nil {
		if !errors.Is(err, payments.ErrDisabled) {
			g.log.Warn().Err(err).Msg("pending balance link failed")
		}
		return out
	}
	out.PaymentLink = link
	return out
}

// Settle closes out a guest's tab once the pending balance has been paid:
// due items are cleared, the guest's workflow stage advances, and the
// dashboard stream hears about it. A failed stage write is logged and
// dropped; the cleared ledger is the source of truth for what is owed.
func (g *Gateway) Settle(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("settle: email is required")
	}
	if err := g.ledger.Clear(ctx, email); err != nil {
		return fmt.Errorf("settle %s: %w", email, err)
	}
	updates := map[string]string{"Workflow Stage": "Checked Out"}
	if err := g.sheets.UpdateWorkflow(ctx, g.cfg.Sheets.ClientSheet, email, updates); err != nil {
		g.log.Warn().Err(err).Str("email", email).Msg("workflow stage update failed")
	}
	g.broker.Broadcast(events.BookingUpdated, map[string]any{
		"email": email,
		"stage": "Checked Out",
	})
	return nil
}

func (g *Gateway) runJob(job cron.CronJob) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	switch job.Payload.Kind {
	case jobKindRefresh:
		if err := g.dir.Refresh(ctx); err != nil {
			return "", err
		}
		return "directory refreshed", nil
	case jobKindCheckpoint:
		if err := g.saveCheckpoint(ctx); err != nil {
			return "", err
		}
		return "history checkpointed", nil
	case jobKindDigest:
		return g.dailyDigest(), nil
	}
	return "", fmt.Errorf("unknown job kind %q", job.Payload.Kind)
}

// dailyDigest broadcasts the day's counters and resets them.
func (g *Gateway) dailyDigest() string {
	turns := g.turnCount.Swap(0)
	tickets := g.ticketCount.Swap(0)
	g.broker.Broadcast(events.DailyDigest, map[string]any{
		"turns":   turns,
		"tickets": tickets,
	})
	summary := fmt.Sprintf("turns=%d tickets=%d", turns, tickets)
	g.log.Info().Int64("turns", turns).Int64("tickets", tickets).Msg("daily digest")
	return summary
}

func (g *Gateway) ensureJobs() error {
	have := make(map[string]bool)
	for _, job := range g.cron.ListJobs() {
		have[job.Payload.Kind] = true
	}

	if !have[jobKindRefresh] {
		_, err := g.cron.AddJob("directory_refresh",
			cron.Schedule{Kind: "every", EveryMs: int64(g.cfg.Sheets.RefreshSeconds) * 1000},
			cron.Payload{Kind: jobKindRefresh})
		if err != nil {
			return err
		}
	}
	if g.checkpoint != nil && !have[jobKindCheckpoint] {
		_, err := g.cron.AddJob("history_checkpoint",
			cron.Schedule{Kind: "every", EveryMs: int64(g.cfg.History.CheckpointSeconds) * 1000},
			cron.Payload{Kind: jobKindCheckpoint})
		if err != nil {
			return err
		}
	}
	if !have[jobKindDigest] {
		_, err := g.cron.AddJob("daily_digest",
			cron.Schedule{Kind: "cron", Expr: g.cfg.Cron.DigestSpec},
			cron.Payload{Kind: jobKindDigest})
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) saveCheckpoint(ctx context.Context) error {
	if g.checkpoint == nil || g.memStore == nil {
		return nil
	}
	return g.checkpoint.Save(ctx, g.memStore.Dump())
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	if err := g.saveCheckpoint(context.Background()); err != nil {
		g.log.Warn().Err(err).Msg("final history checkpoint failed")
	}
	_ = g.channels.StopAll()
	g.broker.Close()
	if g.ledger != nil {
		if err := g.ledger.Close(); err != nil {
			g.log.Warn().Err(err).Msg("close due ledger failed")
		}
	}
	if g.checkpoint != nil {
		if err := g.checkpoint.Close(); err != nil {
			g.log.Warn().Err(err).Msg("close checkpoint failed")
		}
	}
	if rs, ok := g.store.(*history.RedisStore); ok {
		if err := rs.Close(); err != nil {
			g.log.Warn().Err(err).Msg("close redis store failed")
		}
	}
	g.log.Info().Msg("shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
