package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/illoraretreats/concierge/internal/directory"
	"github.com/illoraretreats/concierge/internal/history"
	"github.com/illoraretreats/concierge/internal/retrieval"
)

func TestComposeGatedNotBooked(t *testing.T) {
	got := Compose(Input{
		AgentName: "Ilora",
		Query:     "what are the pool hours",
	})

	want := "You are an AI agent named Ilora, a knowledgeable and polite concierge assistant at ILORA RETREATS. " +
		"For in-room services, spa bookings, or amenity access, politely explain that a confirmed booking and ID verification are required.\n\n" +
		"Status: Not Booked\n\n" +
		"Hotel Data:\n\n\n" +
		"\n" +
		"Guest Query: what are the pool hours\n"
	if got != want {
		t.Errorf("Compose() = %q, want %q", got, want)
	}
}

func TestComposeGatedBookedNotVerified(t *testing.T) {
	got := Compose(Input{AgentName: "Ilora", Query: "spa please", Booked: true})
	if !strings.Contains(got, "Status: Booked but ID Not Verified\n\n") {
		t.Errorf("Compose() missing unverified status:\n%s", got)
	}
	if strings.Contains(got, "Menu / Services") || strings.Contains(got, "Active Campaigns") {
		t.Error("gated prompt must not include menu or campaigns")
	}
}

func TestComposeUnlockedSections(t *testing.T) {
	got := Compose(Input{
		AgentName: "Ilora",
		Query:     "bring two coffees",
		Booked:    true,
		Verified:  true,
		Passages: []retrieval.Passage{
			{Text: "The pool is open 7 am to 7 pm"},
			{Text: "Spa opens at 9 am"},
		},
		History: []history.Turn{
			{Role: history.RoleUser, Text: "hi"},
			{Role: history.RoleAssistant, Text: "hello, how can I help?"},
		},
		Menu: []directory.MenuItem{
			{Type: "Beverage", Item: "Mocktail", Price: "450", Description: "Fresh seasonal"},
			{Type: "Dining", Item: "Breakfast", Description: "Buffet spread"},
		},
		Rules: []directory.Rule{
			{Do: "Greet warmly", Dont: "Share guest data"},
		},
		Campaigns: []directory.CampaignItem{
			{Title: "Monsoon Offer", Description: "20% off spa"},
		},
	})

	if !strings.Contains(got, "Handle all in-room service requests directly and create service tickets for guest requests.\n\n") {
		t.Error("missing unlocked instruction")
	}
	if strings.Contains(got, "Status:") {
		t.Error("unlocked prompt must not carry a status line")
	}
	if !strings.Contains(got, "Hotel Data:\nThe pool is open 7 am to 7 pm\n\nSpa opens at 9 am\n\n") {
		t.Error("passages not joined with blank lines")
	}
	if !strings.Contains(got, "- Beverage Mocktail - 450 - Fresh seasonal\n") {
		t.Errorf("menu line malformed:\n%s", got)
	}
	if !strings.Contains(got, "- Dining Breakfast  - Buffet spread\n") {
		t.Errorf("menu line without price malformed:\n%s", got)
	}
	if !strings.Contains(got, "\nPrevious conversation context:\nUser: hi\nAssistant: hello, how can I help?\n") {
		t.Error("history section malformed")
	}
	if !strings.Contains(got, "Guest Query: bring two coffees\n") {
		t.Error("missing guest query line")
	}
	if !strings.Contains(got, "- ✅ Do: Greet warmly\n- ❌ Don't: Share guest data\n") {
		t.Error("rules section malformed")
	}
	if !strings.Contains(got, "- Monsoon Offer - 20% off spa\n") {
		t.Error("campaign line malformed")
	}

	order := []string{
		"Handle all in-room service requests",
		"Hotel Data:",
		"📋 **Menu / Services:**",
		"Previous conversation context:",
		"Guest Query:",
		"📋 **Important Communication Rules:**",
		"📣 **Active Campaigns / Promos:**",
	}
	last := -1
	for _, section := range order {
		idx := strings.Index(got, section)
		if idx < 0 {
			t.Fatalf("section %q missing", section)
		}
		if idx < last {
			t.Errorf("section %q out of order", section)
		}
		last = idx
	}
}

func TestComposeHistoryWindow(t *testing.T) {
	turns := make([]history.Turn, 7)
	for i := range turns {
		turns[i] = history.Turn{Role: history.RoleUser, Text: fmt.Sprintf("turn-%d", i)}
	}
	got := Compose(Input{AgentName: "Ilora", Query: "q", History: turns})

	for i := 0; i < 2; i++ {
		if strings.Contains(got, fmt.Sprintf("turn-%d", i)) {
			t.Errorf("turn-%d should have been dropped from the window", i)
		}
	}
	for i := 2; i < 7; i++ {
		if !strings.Contains(got, fmt.Sprintf("turn-%d", i)) {
			t.Errorf("turn-%d missing from the window", i)
		}
	}
}

func TestComposeCampaignsCapped(t *testing.T) {
	campaigns := make([]directory.CampaignItem, 6)
	for i := range campaigns {
		campaigns[i] = directory.CampaignItem{Title: fmt.Sprintf("Promo %d", i)}
	}
	got := Compose(Input{AgentName: "Ilora", Query: "q", Booked: true, Verified: true, Campaigns: campaigns})

	if strings.Contains(got, "Promo 5") {
		t.Error("sixth campaign should be dropped")
	}
	if !strings.Contains(got, "Promo 4") {
		t.Error("fifth campaign should be kept")
	}
}

func TestComposeDefaultAgentName(t *testing.T) {
	got := Compose(Input{Query: "q"})
	if !strings.HasPrefix(got, "You are an AI agent named AI Assistant, ") {
		t.Errorf("Compose() = %q, want AI Assistant fallback", got[:60])
	}
}

func TestComposeSkipsBlankRuleSides(t *testing.T) {
	got := Compose(Input{
		AgentName: "Ilora",
		Query:     "q",
		Rules:     []directory.Rule{{Do: "Be brief", Dont: "  "}},
	})
	if !strings.Contains(got, "- ✅ Do: Be brief\n") {
		t.Error("do line missing")
	}
	if strings.Contains(got, "❌") {
		t.Error("blank dont side should be skipped")
	}
}
