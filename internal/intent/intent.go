// Package intent maps free-text guest messages onto a closed label
// set with ordered keyword rules. Classification is a pure function:
// the same text always yields the same label, and unmatched text falls
// through to the general label rather than failing.
package intent

import "strings"

type Label string

const (
	AskHotelInfo       Label = "ask_hotel_info"
	AskAmenities       Label = "ask_amenities"
	AskPricing         Label = "ask_pricing"
	BookAddonSpa       Label = "book_addon_spa"
	BookAddonBeverage  Label = "book_addon_beverage"
	BookAddonFood      Label = "book_addon_food"
	PaymentRequest     Label = "payment_request"
	BookingRequest     Label = "booking_request"
	CheckoutBalance    Label = "checkout_balance"
	RoomServiceRequest Label = "room_service_request"
	MaintenanceRequest Label = "maintenance_request"
	RequestService     Label = "request_service"
	UrgentAssistance   Label = "urgent_assistance"
	WakeUpCall         Label = "wake_up_call"
	Greeting           Label = "greeting"
	GeneralQuery       Label = "general_query"
)

// IsAddon reports whether the label is one of the add-on booking
// intents that trigger catalog matching and payment links.
func (l Label) IsAddon() bool {
	return l == BookAddonSpa || l == BookAddonBeverage || l == BookAddonFood
}

func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

type message struct {
	norm   string
	tokens map[string]bool
}

func (m message) has(phrase string) bool {
	if strings.ContainsRune(phrase, ' ') {
		return strings.Contains(m.norm, phrase)
	}
	return m.tokens[phrase]
}

func (m message) hasAny(phrases ...string) bool {
	for _, p := range phrases {
		if m.has(p) {
			return true
		}
	}
	return false
}

var greetings = []string{"hi", "hello", "hey", "namaste", "good morning", "good afternoon", "good evening"}

// Rules are evaluated top to bottom; the first hit wins, so more
// specific vocabularies sit above the broad ones.
var rules = []struct {
	label Label
	match func(m message) bool
}{
	{CheckoutBalance, func(m message) bool {
		return m.hasAny("balance", "outstanding", "my bill", "my tab", "my dues",
			"pending dues", "settle my bill", "what do i owe")
	}},
	{BookAddonSpa, func(m message) bool {
		return m.hasAny("spa", "massage") &&
			m.hasAny("book", "reserve", "schedule", "appointment", "session", "slot")
	}},
	{BookAddonBeverage, func(m message) bool {
		return m.hasAny("mocktail", "juice", "coffee", "coffees", "tea", "lemonade", "drink", "drinks") &&
			m.hasAny("order", "book", "get", "bring", "send", "want", "like", "have")
	}},
	{BookAddonFood, func(m message) bool {
		return m.hasAny("brownie", "cheese platter", "cheese", "sandwich", "pizza", "pasta", "dessert", "food") &&
			m.hasAny("order", "book", "get", "bring", "send", "want", "like", "have")
	}},
	{PaymentRequest, func(m message) bool {
		return m.hasAny("pay", "payment", "payment link", "pay online")
	}},
	{BookingRequest, func(m message) bool {
		return m.hasAny("book", "booking", "reserve", "reservation", "availability", "rooms available")
	}},
	{MaintenanceRequest, func(m message) bool {
		return m.hasAny("fix", "repair", "broken", "not working", "stopped working", "leak", "leaking", "faulty")
	}},
	{RoomServiceRequest, func(m message) bool {
		return m.hasAny("room service", "housekeeping", "towel", "towels", "clean my room",
			"make up my room", "turn down", "bring", "deliver", "blanket", "pillow")
	}},
	{WakeUpCall, func(m message) bool {
		return m.hasAny("wake up call", "wake me")
	}},
	{UrgentAssistance, func(m message) bool {
		return m.hasAny("urgent", "emergency", "asap", "right away")
	}},
	{RequestService, func(m message) bool {
		return m.hasAny("laundry", "taxi", "cab", "shuttle", "pickup and drop", "transportation", "transport")
	}},
	{AskPricing, func(m message) bool {
		return m.hasAny("price", "prices", "cost", "rate", "rates", "tariff", "charges", "how much")
	}},
	{AskAmenities, func(m message) bool {
		return m.hasAny("pool", "gym", "amenities", "facilities", "wifi", "spa", "playground", "bonfire")
	}},
	{AskHotelInfo, func(m message) bool {
		return m.hasAny("timing", "timings", "location", "located", "address", "directions",
			"restaurant", "hours", "check in", "check out", "checkout", "contact")
	}},
}

// Classify returns the intent label for a guest message. Total over
// all inputs; unknown text maps to GeneralQuery.
func Classify(text string) Label {
	norm := normalize(text)
	if norm == "" {
		return GeneralQuery
	}

	fields := strings.Fields(norm)
	tokens := make(map[string]bool, len(fields))
	for _, f := range fields {
		tokens[f] = true
	}
	m := message{norm: norm, tokens: tokens}

	for _, g := range greetings {
		if norm == g || (strings.HasPrefix(norm, g+" ") && len(fields) <= 3) {
			return Greeting
		}
	}

	for _, r := range rules {
		if r.match(m) {
			return r.label
		}
	}
	return GeneralQuery
}
