// Package persona loads concierge persona cards: markdown files with
// YAML frontmatter naming the agent the guest talks to. Deployments
// drop extra cards next to the default one and select by card name in
// the config.
package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultName is the card used when the config names none.
	DefaultName = "front-desk"
	// DefaultAgentName is the fallback when no card resolves.
	DefaultAgentName = "Ilora"
)

// DefaultCardContent is the card scaffolded into fresh config
// directories.
const DefaultCardContent = `---
name: front-desk
agent_name: Ilora
description: Guest-facing concierge persona for ILORA RETREATS.
greeting: Welcome to ILORA RETREATS. How may I help you today?
---

Warm, concise, and practical. Answers lead with what the guest needs,
then one helpful extra at most. Never invents hotel facts.
`

const bomMarker = "\ufeff"

var errInvalidCardYAML = errors.New("invalid persona YAML frontmatter")

type Card struct {
	Name        string
	AgentName   string
	Description string
	Greeting    string
	Body        string
	Path        string
}

type cardFrontmatter struct {
	Name        string `yaml:"name"`
	AgentName   string `yaml:"agent_name"`
	Description string `yaml:"description"`
	Greeting    string `yaml:"greeting"`
}

// Load reads every .md card in dir, sorted by filename. A missing dir
// is not an error; a card with broken frontmatter is skipped with a
// warning so one bad file cannot take the concierge down.
func Load(dir string, log zerolog.Logger) ([]Card, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat persona dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("persona path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona dir %q: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	cards := make([]Card, 0, len(entries))
	seen := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		card, skip, err := parseCard(path)
		if err != nil {
			return nil, err
		}
		if skip {
			log.Warn().Str("path", path).Msg("skipping persona card with invalid frontmatter")
			continue
		}
		if prev, dup := seen[card.Name]; dup {
			return nil, fmt.Errorf("duplicate persona name %q in %s (already in %s)", card.Name, path, prev)
		}
		seen[card.Name] = path
		cards = append(cards, card)
	}
	return cards, nil
}

func parseCard(path string) (Card, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Card{}, false, fmt.Errorf("read persona %q: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		if errors.Is(err, errInvalidCardYAML) {
			return Card{}, true, nil
		}
		return Card{}, false, fmt.Errorf("parse persona %q: %w", path, err)
	}
	if strings.TrimSpace(meta.Name) == "" {
		return Card{}, false, fmt.Errorf("parse persona %q: missing name", path)
	}

	return Card{
		Name:        strings.TrimSpace(meta.Name),
		AgentName:   strings.TrimSpace(meta.AgentName),
		Description: strings.TrimSpace(meta.Description),
		Greeting:    strings.TrimSpace(meta.Greeting),
		Body:        strings.TrimSpace(body),
		Path:        path,
	}, false, nil
}

func parseFrontmatter(content []byte) (cardFrontmatter, string, error) {
	text := strings.TrimPrefix(string(content), bomMarker)
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return cardFrontmatter{}, "", errors.New("missing YAML frontmatter")
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return cardFrontmatter{}, "", errors.New("missing closing frontmatter separator")
	}

	var meta cardFrontmatter
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return cardFrontmatter{}, "", fmt.Errorf("%w: %v", errInvalidCardYAML, err)
	}
	return meta, strings.Join(lines[end+1:], "\n"), nil
}

// Find returns the card with the given name.
func Find(cards []Card, name string) (Card, bool) {
	for _, c := range cards {
		if c.Name == name {
			return c, true
		}
	}
	return Card{}, false
}

// Active selects the configured card, falling back to a built-in
// front-desk card when no loaded card matches.
func Active(cards []Card, name string) Card {
	if name == "" {
		name = DefaultName
	}
	if card, ok := Find(cards, name); ok {
		if card.AgentName == "" {
			card.AgentName = DefaultAgentName
		}
		return card
	}
	return Card{Name: DefaultName, AgentName: DefaultAgentName}
}

// AgentName resolves the display name for the configured persona,
// falling back to the built-in default when the card is absent or
// blank.
func AgentName(cards []Card, name string) string {
	return Active(cards, name).AgentName
}
