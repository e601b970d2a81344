// Package prompt renders the system prompt for a guest turn. Two
// shapes exist: a gated prompt for guests who have not booked or
// verified their ID, and an unlocked prompt that adds the menu and
// active campaigns.
package prompt

import (
	"fmt"
	"strings"

	"github.com/illoraretreats/concierge/internal/directory"
	"github.com/illoraretreats/concierge/internal/history"
	"github.com/illoraretreats/concierge/internal/retrieval"
)

const (
	// DefaultAgentName is used when no persona supplies a name.
	DefaultAgentName = "AI Assistant"

	historyWindow = 5
	maxCampaigns  = 5
)

type Input struct {
	AgentName string
	Query     string
	Passages  []retrieval.Passage
	History   []history.Turn
	Booked    bool
	Verified  bool
	Menu      []directory.MenuItem
	Rules     []directory.Rule
	Campaigns []directory.CampaignItem
}

func Compose(in Input) string {
	agent := in.AgentName
	if agent == "" {
		agent = DefaultAgentName
	}
	hotelData := joinPassages(in.Passages)
	historyText := historySection(in.History)
	rulesText := rulesSection(in.Rules)

	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI agent named %s, a knowledgeable and polite concierge assistant at ILORA RETREATS. ", agent)

	if !in.Booked || !in.Verified {
		b.WriteString("For in-room services, spa bookings, or amenity access, politely explain that a confirmed booking and ID verification are required.\n\n")
		status := "Not Booked"
		if in.Booked {
			status = "Booked but ID Not Verified"
		}
		fmt.Fprintf(&b, "Status: %s\n\n", status)
		fmt.Fprintf(&b, "Hotel Data:\n%s\n\n", hotelData)
		b.WriteString(historyText)
		b.WriteByte('\n')
		fmt.Fprintf(&b, "Guest Query: %s\n", in.Query)
		b.WriteString(rulesText)
		return b.String()
	}

	b.WriteString("Handle all in-room service requests directly and create service tickets for guest requests.\n\n")
	fmt.Fprintf(&b, "Hotel Data:\n%s\n\n", hotelData)
	b.WriteString(menuSection(in.Menu))
	b.WriteString("\n\n")
	b.WriteString(historyText)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Guest Query: %s\n", in.Query)
	b.WriteString(rulesText)
	b.WriteString(campaignsSection(in.Campaigns))
	return b.String()
}

func joinPassages(passages []retrieval.Passage) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}

func historySection(turns []history.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	if len(turns) > historyWindow {
		turns = turns[len(turns)-historyWindow:]
	}
	var b strings.Builder
	b.WriteString("\nPrevious conversation context:\n")
	for _, t := range turns {
		if t.Role == history.RoleUser {
			fmt.Fprintf(&b, "User: %s\n", t.Text)
		} else {
			fmt.Fprintf(&b, "Assistant: %s\n", t.Text)
		}
	}
	return b.String()
}

func rulesSection(rules []directory.Rule) string {
	if len(rules) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n📋 **Important Communication Rules:**\n")
	for _, r := range rules {
		if do := strings.TrimSpace(r.Do); do != "" {
			fmt.Fprintf(&b, "- ✅ Do: %s\n", do)
		}
		if dont := strings.TrimSpace(r.Dont); dont != "" {
			fmt.Fprintf(&b, "- ❌ Don't: %s\n", dont)
		}
	}
	return b.String()
}

func menuSection(items []directory.MenuItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n📋 **Menu / Services:**\n")
	for _, it := range items {
		price := ""
		if it.Price != "" {
			price = "- " + it.Price
		}
		desc := ""
		if it.Description != "" {
			desc = "- " + it.Description
		}
		fmt.Fprintf(&b, "- %s %s %s %s\n", it.Type, it.Item, price, desc)
	}
	return b.String()
}

func campaignsSection(items []directory.CampaignItem) string {
	if len(items) == 0 {
		return ""
	}
	if len(items) > maxCampaigns {
		items = items[:maxCampaigns]
	}
	var b strings.Builder
	b.WriteString("\n\n📣 **Active Campaigns / Promos:**\n")
	for _, c := range items {
		if c.Title == "" && c.Description == "" {
			continue
		}
		desc := ""
		if c.Description != "" {
			desc = "- " + c.Description
		}
		fmt.Fprintf(&b, "- %s %s\n", c.Title, desc)
	}
	return b.String()
}
