// Package events pushes operational notifications to staff dashboards
// over websockets. Delivery is best effort: a slow or dead listener is
// dropped, never waited on, and the chat path never blocks on a
// broadcast.
package events

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

const (
	ChatMessage      = "chat_message"
	TicketCreated    = "ticket_created"
	GuestLogCreated  = "guest_log_created"
	BookingCreated   = "booking_created"
	BookingConfirmed = "booking_confirmed"
	BookingUpdated   = "booking_updated"
	DailyDigest      = "daily_digest"
)

const writeTimeout = 5 * time.Second

type envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type listener struct {
	conn *websocket.Conn
}

type Broker struct {
	log     zerolog.Logger
	clients sync.Map
	nextID  atomic.Int64
}

func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{log: log}
}

// HandleWS upgrades the request and streams events until the listener
// goes away. Listeners only receive; anything they send is discarded.
func (b *Broker) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("event listener accept failed")
		return
	}

	id := b.nextID.Add(1)
	b.clients.Store(id, &listener{conn: conn})
	b.log.Debug().Int64("listener", id).Msg("event listener connected")

	defer func() {
		b.clients.Delete(id)
		conn.CloseNow()
		b.log.Debug().Int64("listener", id).Msg("event listener disconnected")
	}()

	if err := b.send(conn, envelope{Event: "connected", Data: map[string]any{}}); err != nil {
		return
	}
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			return
		}
	}
}

// Broadcast fans the event out to every listener. Failed writes drop
// the listener.
func (b *Broker) Broadcast(event string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	env := envelope{Event: event, Data: data}
	b.clients.Range(func(key, value any) bool {
		l := value.(*listener)
		if err := b.send(l.conn, env); err != nil {
			b.clients.Delete(key)
			l.conn.CloseNow()
		}
		return true
	})
}

func (b *Broker) send(conn *websocket.Conn, env envelope) error {
	payload, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}

// Close disconnects every listener.
func (b *Broker) Close() {
	b.clients.Range(func(key, value any) bool {
		value.(*listener).conn.CloseNow()
		b.clients.Delete(key)
		return true
	})
}
