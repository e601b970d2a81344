// Package guestlog appends one row per guest interaction to the
// Guest_Log sheet, carrying both sides of the exchange plus a coarse
// sentiment tag the staff dashboards filter on.
package guestlog

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/sheets"
)

var negativeWords = []string{"not", "no", "never", "bad", "disappointed", "angry", "hate", "worst", "problem", "issue", "delay"}
var positiveWords = []string{"good", "great", "awesome", "excellent", "happy", "love", "enjoy"}

// Sentiment tags a message "positive" or "negative" only when the
// signal is unmixed; anything else stays blank.
func Sentiment(message string) string {
	if message == "" {
		return ""
	}
	lower := strings.ToLower(message)
	neg := containsAny(lower, negativeWords)
	pos := containsAny(lower, positiveWords)
	switch {
	case neg && !pos:
		return "negative"
	case pos && !neg:
		return "positive"
	default:
		return ""
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

type Entry struct {
	SessionID string
	Source    string
	Email     string
	Name      string
	UserInput string
	BotReply  string
	Intent    string
	IsGuest   bool
	TicketID  string
}

// Recorder appends interaction rows to the guest log sheet.
type Recorder struct {
	client *sheets.Client
	sheet  string
	log    zerolog.Logger
}

func NewRecorder(client *sheets.Client, sheet string, log zerolog.Logger) *Recorder {
	return &Recorder{client: client, sheet: sheet, log: log}
}

func (r *Recorder) Record(ctx context.Context, e Entry) error {
	guestType := "non-guest"
	if e.IsGuest {
		guestType = "guest"
	}
	name := e.Name
	if strings.TrimSpace(name) == "" {
		name = "Guest"
	}
	row := sheets.Row{
		"Log ID":              fmt.Sprintf("LOG-%d", rand.IntN(999000)+1000),
		"Timestamp":           time.Now().UTC().Format("2006-01-02 15:04:05"),
		"Source":              e.Source,
		"Session ID":          e.SessionID,
		"Guest Email":         e.Email,
		"Guest Name":          name,
		"User Input":          e.UserInput,
		"Bot Response":        e.BotReply,
		"Intent":              e.Intent,
		"Guest Type":          guestType,
		"Sentiment":           Sentiment(e.UserInput),
		"Reference Ticket ID": e.TicketID,
		"Conversation URL":    "",
	}
	if err := r.client.AddRow(ctx, r.sheet, row); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}
