// Package addons tracks chargeable extras: the catalog derived from
// the menu sheet, keyword matching against guest messages, and the
// per-guest ledger of items still due at checkout.
package addons

import (
	"strconv"
	"strings"

	"github.com/illoraretreats/concierge/internal/directory"
)

type Item struct {
	Key   string
	Label string
	Price float64
}

// Catalog is the purchasable slice of the menu. Complimentary entries
// never become add-ons. Items keep menu order so matches are stable.
type Catalog struct {
	items []Item
	byKey map[string]Item
}

func NewCatalog(menu []directory.MenuItem) *Catalog {
	c := &Catalog{byKey: make(map[string]Item)}
	for _, m := range menu {
		if strings.EqualFold(strings.TrimSpace(m.Type), "complimentary") {
			continue
		}
		name := strings.TrimSpace(m.Item)
		if name == "" {
			continue
		}
		item := Item{
			Key:   keyFor(name),
			Label: labelFor(name),
			Price: parsePrice(m.Price),
		}
		if _, dup := c.byKey[item.Key]; dup {
			continue
		}
		c.items = append(c.items, item)
		c.byKey[item.Key] = item
	}
	return c
}

func keyFor(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func labelFor(name string) string {
	words := strings.Fields(strings.ReplaceAll(name, "_", " "))
	for i, w := range words {
		r := []rune(w)
		words[i] = strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
	}
	return strings.Join(words, " ")
}

func parsePrice(raw string) float64 {
	p, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return p
}

func (c *Catalog) Items() []Item {
	out := make([]Item, len(c.items))
	copy(out, c.items)
	return out
}

// aliases folds common guest phrasings onto catalog keys; a guest who
// asks for a massage means the spa item.
var aliases = map[string]string{
	"massage": "spa",
	"cheese":  "cheese_platter",
}

func aliasMentioned(lower, key string) bool {
	for alias, k := range aliases {
		if k == key && strings.Contains(lower, alias) {
			return true
		}
	}
	return false
}

// Match returns the catalog items mentioned in the message, by label or
// alias, in catalog order.
func (c *Catalog) Match(message string) []Item {
	lower := strings.ToLower(message)
	var matched []Item
	for _, item := range c.items {
		if strings.Contains(lower, strings.ToLower(item.Label)) || aliasMentioned(lower, item.Key) {
			matched = append(matched, item)
		}
	}
	return matched
}

// Resolve maps a key, display label, alias, or free-form name onto a
// catalog item.
func (c *Catalog) Resolve(s string) (Item, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Item{}, false
	}
	if item, ok := c.byKey[s]; ok {
		return item, true
	}
	key := keyFor(s)
	if item, ok := c.byKey[key]; ok {
		return item, true
	}
	if mapped, ok := aliases[key]; ok {
		if item, ok := c.byKey[mapped]; ok {
			return item, true
		}
	}
	return Item{}, false
}
