// Package engine orchestrates one conversational turn: resolve the
// guest, update the transcript, classify intent, evaluate policy,
// retrieve knowledge, compose the prompt, complete it, and derive the
// side-effect directives the gateway acts on. HandleTurn never returns
// an error; every internal failure degrades into the reply itself.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/addons"
	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/directory"
	"github.com/illoraretreats/concierge/internal/history"
	"github.com/illoraretreats/concierge/internal/intent"
	"github.com/illoraretreats/concierge/internal/llm"
	"github.com/illoraretreats/concierge/internal/policy"
	"github.com/illoraretreats/concierge/internal/prompt"
	"github.com/illoraretreats/concierge/internal/retrieval"
	"github.com/illoraretreats/concierge/internal/ticket"
)

// Apology is the fixed reply when completion fails. It is appended as
// the assistant turn too, so a transcript never holds an unanswered
// user message.
const Apology = "I apologize, but I encountered an issue while processing your request. Please try again or contact our front desk for assistance."

const historyWindow = 5

// SnapshotSource supplies the directory view a turn reads. One
// snapshot is taken per turn; identity, policy, and prompt data all
// come from it.
type SnapshotSource interface {
	Snapshot() *directory.Snapshot
}

type TurnRequest struct {
	Message    string
	IsGuest    bool   // transport hint, recorded with the interaction log
	Identifier string // email / client id / booking id / name, may be ""
	Source     string // channel name ("web", "telegram", "whatsapp")
	SessionID  string // transport session hint for ephemeral history keys
}

type TicketDirective struct {
	GuestName string
	RoomNo    string
	Request   string
	Category  string
}

type PendingBalance struct {
	Items []addons.LineItem
	Total float64
}

type SideEffects struct {
	Ticket          *TicketDirective // nil when not ticket-worthy
	AddonKeys       []string         // catalog keys matched in the message
	AddonLabels     []string         // display labels for the same matches
	ShowBookingForm bool
	PendingBalance  *PendingBalance // checkout_balance turns only
}

type TurnResult struct {
	Reply       string
	Intent      intent.Label
	HistoryKey  string
	Policy      policy.State
	Guest       *directory.GuestRecord // nil when unresolved
	SideEffects SideEffects
}

type Engine struct {
	source    SnapshotSource
	history   history.Store
	retriever *retrieval.Retriever
	completer llm.Completer
	ledger    *addons.Ledger
	agentName string
	retrieveK int
	log       zerolog.Logger
}

type Options struct {
	Source    SnapshotSource
	History   history.Store
	Retriever *retrieval.Retriever
	Completer llm.Completer
	Ledger    *addons.Ledger // optional; pending balances need it
	AgentName string
	RetrieveK int
	Log       zerolog.Logger
}

func New(opts Options) *Engine {
	if opts.RetrieveK <= 0 {
		opts.RetrieveK = config.DefaultRetrieverK
	}
	return &Engine{
		source:    opts.Source,
		history:   opts.History,
		retriever: opts.Retriever,
		completer: opts.Completer,
		ledger:    opts.Ledger,
		agentName: opts.AgentName,
		retrieveK: opts.RetrieveK,
		log:       opts.Log,
	}
}

// HandleTurn runs one guest message through the full dialogue
// sequence and returns the structured result.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) TurnResult {
	snap := e.source.Snapshot()

	var rec *directory.GuestRecord
	identifier := strings.TrimSpace(req.Identifier)
	if identifier != "" {
		if found, err := snap.Resolve(identifier); err == nil {
			rec = found
		}
	}

	if identifier == "" {
		identifier = strings.TrimSpace(req.SessionID)
	}
	key := history.KeyFor(rec, identifier)

	if err := e.history.Append(ctx, key, history.Turn{
		Role: history.RoleUser,
		Text: req.Message,
		At:   time.Now().UTC(),
	}); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("append user turn failed")
	}

	label := intent.Classify(req.Message)
	st := policy.Evaluate(rec)

	passages, err := e.retriever.Retrieve(ctx, req.Message, e.retrieveK)
	if err != nil {
		passages = nil
	}

	recent, err := e.history.Recent(ctx, key, historyWindow)
	if err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("read history failed")
	}

	composed := prompt.Compose(prompt.Input{
		AgentName: e.agentName,
		Query:     req.Message,
		Passages:  passages,
		History:   recent,
		Booked:    st.Booked,
		Verified:  st.Verified,
		Menu:      snap.Menu,
		Rules:     snap.Rules,
		Campaigns: snap.Campaigns,
	})

	reply, err := e.completer.Complete(ctx, composed)
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			e.log.Error().Err(err).Str("key", key).Str("intent", string(label)).Msg("completion failed")
		}
		reply = Apology
	}

	if err := e.history.Append(ctx, key, history.Turn{
		Role: history.RoleAssistant,
		Text: reply,
		At:   time.Now().UTC(),
	}); err != nil {
		e.log.Warn().Err(err).Str("key", key).Msg("append assistant turn failed")
	}

	return TurnResult{
		Reply:       reply,
		Intent:      label,
		HistoryKey:  key,
		Policy:      st,
		Guest:       rec,
		SideEffects: e.deriveSideEffects(ctx, req, rec, st, label, snap),
	}
}

// deriveSideEffects computes directives only; the gateway owns
// delivery, so nothing here writes sheets or creates links.
func (e *Engine) deriveSideEffects(ctx context.Context, req TurnRequest, rec *directory.GuestRecord, st policy.State, label intent.Label, snap *directory.Snapshot) SideEffects {
	var fx SideEffects
	cat := addons.NewCatalog(snap.Menu)

	if label.IsAddon() {
		for _, item := range cat.Match(req.Message) {
			fx.AddonKeys = append(fx.AddonKeys, item.Key)
			fx.AddonLabels = append(fx.AddonLabels, item.Label)
		}
	}

	if label == intent.PaymentRequest || label == intent.BookingRequest {
		fx.ShowBookingForm = true
	}

	if st.Booked && st.Verified && ticket.Worthy(req.Message, label, len(fx.AddonKeys) > 0) {
		var name, room string
		if rec != nil {
			name, room = rec.Name, rec.Room
		}
		fx.Ticket = &TicketDirective{
			GuestName: name,
			RoomNo:    room,
			Request:   req.Message,
			Category:  ticket.Categorize(req.Message),
		}
	}

	if label == intent.CheckoutBalance && e.ledger != nil && rec != nil {
		email := strings.ToLower(strings.TrimSpace(rec.Email))
		if email != "" {
			keys, err := e.ledger.Items(ctx, email)
			switch {
			case err != nil:
				e.log.Warn().Err(err).Str("email", email).Msg("read due items failed")
			case len(keys) > 0:
				items, total := addons.Balance(keys, cat)
				if total > 0 {
					fx.PendingBalance = &PendingBalance{Items: items, Total: total}
				}
			}
		}
	}

	return fx
}
