// Package ticket turns service-worthy guest requests into staff
// tickets and pushes them onto the operations spreadsheet. Whether a
// message is ticket-worthy combines the classified intent, a keyword
// scan, and any matched menu add-ons.
package ticket

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/intent"
	"github.com/illoraretreats/concierge/internal/sheets"
)

const (
	CategoryFood        = "Food"
	CategoryRoomService = "Room Service"
	CategoryEngineering = "Engineering"
	CategoryGeneral     = "General"

	StatusInProgress = "In Progress"
)

type Ticket struct {
	ID         string
	GuestName  string
	Room       string
	Request    string
	Category   string
	AssignedTo string
	Status     string
	CreatedAt  time.Time
	Notes      string
}

var ticketIntents = map[intent.Label]bool{
	intent.BookAddonSpa:       true,
	intent.BookAddonBeverage:  true,
	intent.BookAddonFood:      true,
	intent.RequestService:     true,
	intent.RoomServiceRequest: true,
	intent.MaintenanceRequest: true,
	intent.WakeUpCall:         true,
	intent.UrgentAssistance:   true,
}

var ticketKeywords = []string{
	"coffee", "tea", "order", "bring", "deliver", "room service", "food", "meal", "snack",
	"towel", "clean", "housekeeping", "makeup room", "turn down", "repair", "fix", "ac", "wifi",
	"tv", "light", "broken", "leak", "toilet", "bathroom", "shower", "wake-up-call",
	"pickup and drop", "laundry", "taxi", "transportation", "request", "need", "help", "assist", "urgent",
}

// Worthy reports whether the message should open a staff ticket.
func Worthy(message string, label intent.Label, addonMatched bool) bool {
	if message == "" {
		return false
	}
	if ticketIntents[label] {
		return true
	}
	lower := strings.ToLower(message)
	for _, kw := range ticketKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return addonMatched
}

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryFood, []string{"coffee", "tea", "drink", "food", "meal", "snack", "beverage", "breakfast", "lunch", "dinner"}},
	{CategoryRoomService, []string{"towel", "clean", "housekeeping", "room service", "bed", "makeup", "turn down", "linen"}},
	{CategoryEngineering, []string{"ac", "wifi", "tv", "light", "repair", "engineer", "fix", "leak", "broken", "toilet", "plumb", "electr"}},
}

// Categorize maps message content to the staff category, first match
// wins in Food, Room Service, Engineering order.
func Categorize(message string) string {
	lower := strings.ToLower(message)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(lower, w) {
				return ck.category
			}
		}
	}
	return CategoryGeneral
}

var staffByCategory = map[string]string{
	CategoryFood:        "Food Staff",
	CategoryRoomService: "Room Service",
	CategoryEngineering: "Engineering",
	CategoryGeneral:     "Front Desk",
}

func AssignStaff(category string) string {
	if staff, ok := staffByCategory[category]; ok {
		return staff
	}
	return "Front Desk"
}

var roomPlaceholders = map[string]bool{"": true, "-": true, "none": true, "not assigned": true, "n/a": true}

// New builds a ticket for the message. The guest name falls back to
// "Guest" and an unassigned room reads "Not Assigned" so the sheet
// never shows blank cells for those columns.
func New(guestName, room, message string) Ticket {
	if strings.TrimSpace(guestName) == "" {
		guestName = "Guest"
	}
	if roomPlaceholders[strings.ToLower(strings.TrimSpace(room))] {
		room = "Not Assigned"
	}
	category := Categorize(message)
	return Ticket{
		ID:         fmt.Sprintf("TCK-%d", rand.IntN(99000)+1000),
		GuestName:  guestName,
		Room:       room,
		Request:    message,
		Category:   category,
		AssignedTo: AssignStaff(category),
		Status:     StatusInProgress,
		CreatedAt:  time.Now().UTC(),
		Notes:      message,
	}
}

// Sink appends tickets to the operations sheet.
type Sink struct {
	client *sheets.Client
	sheet  string
	log    zerolog.Logger
}

func NewSink(client *sheets.Client, sheet string, log zerolog.Logger) *Sink {
	return &Sink{client: client, sheet: sheet, log: log}
}

func (s *Sink) Push(ctx context.Context, t Ticket) error {
	row := sheets.Row{
		"Ticket ID":     t.ID,
		"Guest Name":    t.GuestName,
		"Room No":       t.Room,
		"Request/Query": t.Request,
		"Category":      t.Category,
		"Assigned To":   t.AssignedTo,
		"Status":        t.Status,
		"Created At":    t.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		"Resolved At":   "",
		"Notes":         t.Notes,
	}
	if err := s.client.AddRow(ctx, s.sheet, row); err != nil {
		return fmt.Errorf("push ticket: %w", err)
	}
	s.log.Info().Str("ticket", t.ID).Str("category", t.Category).Msg("ticket created")
	return nil
}
