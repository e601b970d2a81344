package channel

import (
	"context"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/addons"
	"github.com/illoraretreats/concierge/internal/bus"
	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/events"
	"github.com/illoraretreats/concierge/internal/payments"
)

//go:embed static
var staticFiles embed.FS

const webUIChannelName = "webui"

const wsWriteTimeout = 5 * time.Second

// wsChatRequest is what the browser sends over /ws. Email and the
// guest flag come from the identity form on the chat page. SessionID
// keeps an anonymous visitor's conversation stable across reconnects.
type wsChatRequest struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Email     string `json:"email,omitempty"`
	IsGuest   bool   `json:"is_guest,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type wsReply struct {
	Type    string        `json:"type"`
	Content string        `json:"content"`
	Meta    *bus.TurnMeta `json:"meta,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

type WebUIChannel struct {
	BaseChannel
	listen  string
	server  *http.Server
	clients sync.Map
	nextID  atomic.Int64

	broker  *events.Broker
	source  SnapshotSource
	ledger  *addons.Ledger
	links   payments.Links
	settler Settler
}

func NewWebUIChannel(cfg config.WebUIConfig, deps Deps, log zerolog.Logger) (*WebUIChannel, error) {
	listen := cfg.Listen
	if listen == "" {
		listen = config.DefaultWebUIListen
	}

	ch := &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, deps.Bus, nil, log),
		listen:      listen,
		broker:      deps.Events,
		source:      deps.Source,
		ledger:      deps.Ledger,
		links:       deps.Links,
		settler:     deps.Settler,
	}
	return ch, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	mux.HandleFunc("/addons/catalog", w.handleCatalog)
	mux.HandleFunc("/addons/tab", w.handleTab)
	mux.HandleFunc("/addons/checkout", w.handleCheckout)
	mux.HandleFunc("/addons/settle", w.handleSettle)
	if w.broker != nil {
		mux.HandleFunc("/events", w.broker.HandleWS)
	}

	w.server = &http.Server{
		Addr:    w.listen,
		Handler: mux,
	}

	go func() {
		w.log.Info().Str("listen", w.listen).Msg("webui listening")
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			w.log.Error().Err(err).Msg("webui server error")
		}
	}()

	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		w.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	client := &wsClient{conn: conn, id: clientID}
	w.clients.Store(clientID, client)
	w.log.Debug().Str("client", clientID).Msg("webui client connected")

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		w.log.Debug().Str("client", clientID).Msg("webui client disconnected")
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsChatRequest
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.Type != "chat" || strings.TrimSpace(msg.Content) == "" {
			continue
		}

		w.bus.Inbound <- bus.InboundMessage{
			Channel:   webUIChannelName,
			SenderID:  clientID,
			ChatID:    clientID,
			SessionID: strings.TrimSpace(msg.SessionID),
			Content:   msg.Content,
			Timestamp: time.Now(),
			Email:     strings.TrimSpace(msg.Email),
			IsGuest:   msg.IsGuest,
		}
	}
}

func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	data, err := sonic.Marshal(wsReply{
		Type:    "reply",
		Content: msg.Content,
		Meta:    msg.Meta,
	})
	if err != nil {
		return err
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		// Broadcast to all clients if no specific target
		w.clients.Range(func(key, value any) bool {
			c := value.(*wsClient)
			ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
			defer cancel()
			_ = c.conn.Write(ctx, websocket.MessageText, data)
			return true
		})
		return nil
	}

	c := client.(*wsClient)
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

type catalogItem struct {
	Key   string  `json:"key"`
	Label string  `json:"label"`
	Price float64 `json:"price"`
}

func (w *WebUIChannel) handleCatalog(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(wr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if w.source == nil {
		writeJSON(wr, http.StatusOK, []catalogItem{})
		return
	}

	cat := addons.NewCatalog(w.source.Snapshot().Menu)
	items := cat.Items()
	out := make([]catalogItem, 0, len(items))
	for _, it := range items {
		out = append(out, catalogItem{Key: it.Key, Label: it.Label, Price: it.Price})
	}
	writeJSON(wr, http.StatusOK, out)
}

type tabResponse struct {
	Items []bus.BalanceItem `json:"items"`
	Total int               `json:"total"`
}

func (w *WebUIChannel) handleTab(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(wr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	email := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("email")))
	if email == "" {
		writeJSONError(wr, http.StatusBadRequest, "email is required")
		return
	}

	items, total, err := w.pendingTab(r.Context(), email)
	if err != nil {
		w.log.Warn().Err(err).Str("email", email).Msg("read tab failed")
		writeJSONError(wr, http.StatusInternalServerError, "tab unavailable")
		return
	}
	writeJSON(wr, http.StatusOK, tabResponse{Items: items, Total: total})
}

type checkoutRequest struct {
	Email string `json:"email"`
}

type checkoutResponse struct {
	URL    string `json:"url"`
	Amount int    `json:"amount"`
}

func (w *WebUIChannel) handleCheckout(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(wr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSONError(wr, http.StatusBadRequest, "invalid request body")
		return
	}
	var req checkoutRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeJSONError(wr, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeJSONError(wr, http.StatusBadRequest, "email is required")
		return
	}

	items, total, err := w.pendingTab(r.Context(), email)
	if err != nil {
		w.log.Warn().Err(err).Str("email", email).Msg("read tab failed")
		writeJSONError(wr, http.StatusInternalServerError, "tab unavailable")
		return
	}
	if len(items) == 0 || total <= 0 {
		writeJSONError(wr, http.StatusBadRequest, "no pending items")
		return
	}
	if w.links == nil {
		writeJSONError(wr, http.StatusServiceUnavailable, "payments disabled")
		return
	}

	url, err := w.links.ForPending(r.Context(), float64(total))
	if err != nil {
		if err == payments.ErrDisabled {
			writeJSONError(wr, http.StatusServiceUnavailable, "payments disabled")
			return
		}
		w.log.Warn().Err(err).Str("email", email).Msg("checkout link failed")
		writeJSONError(wr, http.StatusBadGateway, "payment link unavailable")
		return
	}
	writeJSON(wr, http.StatusOK, checkoutResponse{URL: url, Amount: total})
}

// handleSettle marks the guest's pending balance as paid. The front
// desk calls this after confirming the payment landed.
func (w *WebUIChannel) handleSettle(wr http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(wr, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if w.settler == nil {
		writeJSONError(wr, http.StatusServiceUnavailable, "settlement disabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		writeJSONError(wr, http.StatusBadRequest, "invalid request body")
		return
	}
	var req checkoutRequest
	if err := sonic.Unmarshal(body, &req); err != nil {
		writeJSONError(wr, http.StatusBadRequest, "invalid request body")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		writeJSONError(wr, http.StatusBadRequest, "email is required")
		return
	}

	if err := w.settler.Settle(r.Context(), email); err != nil {
		w.log.Warn().Err(err).Str("email", email).Msg("settle failed")
		writeJSONError(wr, http.StatusInternalServerError, "settlement failed")
		return
	}
	writeJSON(wr, http.StatusOK, map[string]string{"status": "settled"})
}

// pendingTab reads the guest's accumulated add-ons and prices them
// against the current menu.
func (w *WebUIChannel) pendingTab(ctx context.Context, email string) ([]bus.BalanceItem, int, error) {
	if w.ledger == nil || w.source == nil {
		return nil, 0, nil
	}
	keys, err := w.ledger.Items(ctx, email)
	if err != nil {
		return nil, 0, err
	}
	cat := addons.NewCatalog(w.source.Snapshot().Menu)
	lines, total := addons.Balance(keys, cat)

	out := make([]bus.BalanceItem, 0, len(lines))
	for _, l := range lines {
		out = append(out, bus.BalanceItem{
			Key:       l.Key,
			Label:     l.Label,
			Qty:       l.Qty,
			UnitPrice: int(l.UnitPrice),
			LineTotal: int(l.LineTotal),
		})
	}
	return out, int(total), nil
}

func writeJSON(wr http.ResponseWriter, status int, v any) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		http.Error(wr, "encoding failed", http.StatusInternalServerError)
		return
	}
	wr.Header().Set("Content-Type", "application/json")
	wr.WriteHeader(status)
	_, _ = wr.Write(payload)
}

func writeJSONError(wr http.ResponseWriter, status int, msg string) {
	writeJSON(wr, status, map[string]string{"error": msg})
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			w.log.Warn().Err(err).Msg("webui shutdown error")
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	w.log.Info().Msg("webui stopped")
	return nil
}
