package directory

import (
	"sort"
	"strings"

	"github.com/illoraretreats/concierge/internal/sheets"
)

// GuestRecord is one row of the client workflow sheet, normalized at
// ingestion. The sheet has grown header typos over time; every known
// variant maps onto the same field here so nothing downstream ever
// touches raw headers again.
type GuestRecord struct {
	Email         string
	ClientID      string
	BookingID     string
	Name          string
	WorkflowStage string
	Room          string
	IDProof       string
}

type MenuItem struct {
	Type        string
	Item        string
	Price       string
	Description string
}

type CampaignItem struct {
	Title       string
	Description string
}

type Rule struct {
	Do   string
	Dont string
}

// QARow keeps the question/answer pair plus the raw row so rows
// without recognizable headers can still be searched.
type QARow struct {
	Question string
	Answer   string
	Fields   sheets.Row
}

// DocText renders the row as retrievable text. Rows with no
// question/answer-shaped headers fall back to joining every non-empty
// cell; keys are sorted so the same row always renders the same text.
func (q QARow) DocText() string {
	var parts []string
	if q.Question != "" {
		parts = append(parts, "Q: "+q.Question)
	}
	if q.Answer != "" {
		parts = append(parts, "A: "+q.Answer)
	}
	if len(parts) > 0 {
		return strings.Join(parts, "\n")
	}

	keys := make([]string, 0, len(q.Fields))
	for k := range q.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var values []string
	for _, k := range keys {
		if v := strings.TrimSpace(q.Fields[k]); v != "" {
			values = append(values, v)
		}
	}
	return strings.Join(values, " | ")
}

// field returns the first non-empty cell among the named headers,
// matching header names case-insensitively.
func field(row sheets.Row, names ...string) string {
	for _, name := range names {
		if v, ok := row[name]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	for _, name := range names {
		for k, v := range row {
			if strings.EqualFold(strings.TrimSpace(k), name) {
				if v = strings.TrimSpace(v); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func guestFromRow(row sheets.Row) GuestRecord {
	return GuestRecord{
		Email:         field(row, "Email"),
		ClientID:      field(row, "Client Id"),
		BookingID:     field(row, "Booking Id"),
		Name:          field(row, "Name"),
		WorkflowStage: field(row, "Workfow Stage", "Workflow Stage", "WorkFlow", "Workfow"),
		Room:          field(row, "Room Alloted"),
		IDProof:       field(row, "Id Link"),
	}
}

func menuFromRow(row sheets.Row) MenuItem {
	return MenuItem{
		Type:        field(row, "Type"),
		Item:        field(row, "Item"),
		Price:       field(row, "Price"),
		Description: field(row, "Description"),
	}
}

func campaignFromRow(row sheets.Row) CampaignItem {
	return CampaignItem{
		Title:       field(row, "Name", "Title"),
		Description: field(row, "Description", "Desc"),
	}
}

func ruleFromRow(row sheets.Row) Rule {
	return Rule{
		Do:   field(row, "Do", "do", "Do's", "Do_s", "Do / Don't"),
		Dont: field(row, "Don't", "Dont", "dont", "Don'ts", "Dont_s"),
	}
}

func qaFromRow(row sheets.Row) QARow {
	return QARow{
		Question: field(row, "question", "q", "query", "prompt"),
		Answer:   field(row, "answer", "a", "response", "reply"),
		Fields:   row,
	}
}
