// Package bookingflow runs the scripted room-booking conversation for
// text channels. Each channel session walks identify -> start -> room
// -> nights -> payment -> confirm; outside the scripted stages the
// engine reply passes through untouched.
package bookingflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/config"
	"github.com/illoraretreats/concierge/internal/events"
	"github.com/illoraretreats/concierge/internal/intent"
	"github.com/illoraretreats/concierge/internal/payments"
)

type Stage string

const (
	StageIdentify Stage = "identify"
	StageStart    Stage = "start"
	StageRoom     Stage = "room"
	StageNights   Stage = "nights"
	StagePayment  Stage = "payment"
	StageConfirm  Stage = "confirm"
)

const (
	welcomeAsk = "👋 Welcome to *ILLORA Retreat*.\n" +
		"Are you a *guest* staying with us or a *non-guest* (e.g., restaurant or spa visitor)?\n" +
		"Please reply with *guest* or *non-guest* to proceed."
	guestAck   = "✅ Great! You're marked as a guest of ILLORA Retreat. How can I assist you today?"
	visitorAck = "✅ Noted. You're marked as a visitor. Some services are exclusive to our guests. Feel free to ask any questions!"

	roomAskFmt     = "\n\n💼 Let's book your stay:\n%s\n\nReply with the number (1–%d) to proceed."
	roomInvalidFmt = "❌ Please select a valid room number (1-%d)."
	nightsAskFmt   = "🛏️ Great! How many nights would you like to stay in our *%s Room*?\nReply with a number."
	nightsNaN      = "❌ Please enter a valid number for the number of nights."
	nightsZero     = "❌ Please enter a number greater than 0 for the number of nights."
	paymentAsk     = "💳 How would you like to pay?\n1️⃣ Online Payment\n2️⃣ Cash on Arrival\n\nReply with *1* or *2*."
	paymentInvalid = "❌ Please select 1 for Online Payment or 2 for Cash on Arrival."
	summaryFmt     = "🧾 *Booking Summary:*\n🏨 Room: *%s*\n🌙 Nights: *%d*\n💰 Payment: *%s*\n💵 Total: ₹%d\n\n✅ Please reply with *Yes* to confirm your booking."
	confirmedFmt   = "🎉 *Your booking at ILLORA Retreat is confirmed!*\n\nTo complete the process, please follow this payment link:\n%s"
	linkFailed     = "⚠️ Payment link generation failed. Please try again."
	notConfirmed   = "❌ Booking not confirmed. Please reply *Yes* to confirm or restart."

	addonLinkFmt = "\n\n🧾 Here is your payment link for %s:\n%s"
	addonLinkErr = "\n\n⚠️ Could not generate a payment link for your request. Please try again."
	addonAsk     = "\n\n❓ Please specify which add-on you'd like (e.g., spa, mocktail, brownie)."
)

// Broadcaster pushes booking events to listeners.
type Broadcaster interface {
	Broadcast(event string, data map[string]any)
}

type session struct {
	Stage    Stage
	IsGuest  bool
	RoomType string
	Nights   int
	Payment  string
	Total    int
}

// TurnOutcome carries the engine's answer for a message plus any addon
// directive the gateway already resolved for it.
type TurnOutcome struct {
	Answer      string
	Intent      intent.Label
	AddonLabels []string
	AddonLink   string
}

type Flow struct {
	mu       sync.Mutex
	sessions map[string]*session
	rooms    []config.RoomRate
	links    payments.Links
	events   Broadcaster
	log      zerolog.Logger
}

func New(rooms []config.RoomRate, links payments.Links, broadcaster Broadcaster, log zerolog.Logger) *Flow {
	if len(rooms) == 0 {
		rooms = config.DefaultRoomRates()
	}
	return &Flow{
		sessions: make(map[string]*session),
		rooms:    rooms,
		links:    links,
		events:   broadcaster,
		log:      log,
	}
}

// lockedSession returns the session for key, creating one at the
// identify stage. Callers hold f.mu.
func (f *Flow) lockedSession(key string) *session {
	sess, ok := f.sessions[key]
	if !ok {
		sess = &session{Stage: StageIdentify}
		f.sessions[key] = sess
	}
	return sess
}

func (f *Flow) reset(key string) {
	f.mu.Lock()
	f.sessions[key] = &session{Stage: StageIdentify}
	f.mu.Unlock()
}

// Intercept consumes the message while the session is still
// identifying itself. When handled is true the reply is final for this
// message and the engine must not run.
func (f *Flow) Intercept(key, message string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sess := f.lockedSession(key)
	if sess.Stage != StageIdentify {
		return "", false
	}

	lower := strings.ToLower(strings.TrimSpace(message))
	switch {
	case strings.Contains(lower, "non-guest") || strings.Contains(lower, "visitor"):
		sess.IsGuest = false
		sess.Stage = StageStart
		return visitorAck, true
	case strings.Contains(lower, "guest"):
		sess.IsGuest = true
		sess.Stage = StageStart
		return guestAck, true
	default:
		return welcomeAsk, true
	}
}

// IsGuest reports the declared guest type for the session.
func (f *Flow) IsGuest(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lockedSession(key).IsGuest
}

// Apply overlays the booking stages on an engine reply and returns the
// final message text for the channel.
func (f *Flow) Apply(ctx context.Context, key, message string, turn TurnOutcome) string {
	message = strings.TrimSpace(message)

	f.mu.Lock()
	sess := f.lockedSession(key)
	stage := sess.Stage
	isGuest := sess.IsGuest
	f.mu.Unlock()

	reply := "💬 " + turn.Answer

	switch {
	case turn.Intent == intent.PaymentRequest && isGuest:
		f.setStage(key, StageRoom)
		reply += fmt.Sprintf(roomAskFmt, f.roomList(), len(f.rooms))

	case turn.Intent.IsAddon():
		if len(turn.AddonLabels) == 0 {
			reply += addonAsk
			break
		}
		if turn.AddonLink != "" {
			reply += fmt.Sprintf(addonLinkFmt, strings.Join(turn.AddonLabels, ", "), turn.AddonLink)
		} else {
			reply += addonLinkErr
		}
		f.reset(key)

	case stage == StageRoom:
		reply = f.chooseRoom(key, message)

	case stage == StageNights:
		reply = f.chooseNights(key, message)

	case stage == StagePayment:
		reply = f.choosePayment(key, message)

	case stage == StageConfirm:
		reply = f.confirmBooking(ctx, key, message)
	}
	return reply
}

func (f *Flow) setStage(key string, stage Stage) {
	f.mu.Lock()
	f.lockedSession(key).Stage = stage
	f.mu.Unlock()
}

func (f *Flow) roomList() string {
	lines := make([]string, 0, len(f.rooms))
	for i, r := range f.rooms {
		lines = append(lines, fmt.Sprintf("%d️⃣ %s – ₹%d/night", i+1, r.Name, r.Price))
	}
	return strings.Join(lines, "\n")
}

func (f *Flow) roomPrice(name string) int {
	for _, r := range f.rooms {
		if r.Name == name {
			return r.Price
		}
	}
	return 0
}

func (f *Flow) chooseRoom(key, message string) string {
	n, ok := parseDigits(message)
	if !ok || n < 1 || n > len(f.rooms) {
		return fmt.Sprintf(roomInvalidFmt, len(f.rooms))
	}

	selected := f.rooms[n-1].Name
	f.mu.Lock()
	sess := f.lockedSession(key)
	sess.RoomType = selected
	sess.Stage = StageNights
	f.mu.Unlock()
	return fmt.Sprintf(nightsAskFmt, selected)
}

func (f *Flow) chooseNights(key, message string) string {
	n, err := strconv.Atoi(message)
	if err != nil {
		return nightsNaN
	}
	if n <= 0 {
		return nightsZero
	}

	f.mu.Lock()
	sess := f.lockedSession(key)
	sess.Nights = n
	sess.Stage = StagePayment
	f.mu.Unlock()
	return paymentAsk
}

func (f *Flow) choosePayment(key, message string) string {
	if message != "1" && message != "2" {
		return paymentInvalid
	}
	mode := "Online"
	if message == "2" {
		mode = "Cash"
	}

	f.mu.Lock()
	sess := f.lockedSession(key)
	sess.Payment = mode
	sess.Total = f.roomPrice(sess.RoomType) * sess.Nights
	sess.Stage = StageConfirm
	room, nights, total := sess.RoomType, sess.Nights, sess.Total
	f.mu.Unlock()

	return fmt.Sprintf(summaryFmt, room, nights, mode, total)
}

func (f *Flow) confirmBooking(ctx context.Context, key, message string) string {
	if strings.ToLower(message) != "yes" {
		return notConfirmed
	}

	f.mu.Lock()
	sess := f.lockedSession(key)
	room, nights, mode, total := sess.RoomType, sess.Nights, sess.Payment, sess.Total
	f.mu.Unlock()

	bookingID := uuid.NewString()
	data := map[string]any{
		"booking_id":   bookingID,
		"room":         room,
		"nights":       nights,
		"payment_mode": mode,
		"total":        total,
	}
	f.broadcast(events.BookingCreated, data)

	link, err := f.links.ForBooking(ctx, bookingID, float64(total))
	defer f.reset(key)
	if err != nil || link == "" {
		f.log.Error().Err(err).Str("booking_id", bookingID).Msg("booking payment link failed")
		return linkFailed
	}

	confirmed := map[string]any{
		"booking_id":   bookingID,
		"room":         room,
		"nights":       nights,
		"payment_mode": mode,
		"total":        total,
		"payment_link": link,
	}
	f.broadcast(events.BookingConfirmed, confirmed)
	return fmt.Sprintf(confirmedFmt, link)
}

func (f *Flow) broadcast(event string, data map[string]any) {
	if f.events != nil {
		f.events.Broadcast(event, data)
	}
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
