package bus

import "time"

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	SessionID string // transport session hint; keeps anonymous web visitors stable across reconnects
	Content   string
	Timestamp time.Time
	Email     string
	IsGuest   bool
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string
	Meta    *TurnMeta
}

// TurnMeta carries the structured turn directives alongside the reply
// text. Channels that render structure (web UI) serialize it as-is;
// plain-text channels fold what they can into the message body.
type TurnMeta struct {
	Intent          string          `json:"intent,omitempty"`
	ShowBookingForm bool            `json:"show_booking_form,omitempty"`
	Addons          []string        `json:"addons,omitempty"`
	PaymentLink     string          `json:"payment_link,omitempty"`
	PendingBalance  *PendingBalance `json:"pending_balance,omitempty"`
}

type PendingBalance struct {
	Amount      int           `json:"amount"`
	Items       []BalanceItem `json:"items"`
	PaymentLink string        `json:"payment_link,omitempty"`
}

type BalanceItem struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Qty       int    `json:"qty"`
	UnitPrice int    `json:"unit_price"`
	LineTotal int    `json:"line_total"`
}
