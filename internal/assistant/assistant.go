package assistant

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Item is a catalog entry
type Item struct {
	ID       int    `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Price    int    `yaml:"price" json:"price"`
	Warranty string `yaml:"warranty" json:"warranty"`
}

// Catalog maps a category (refrigerators, tvs) to its items
type Catalog map[string][]Item

// LoadCatalog parses a YAML catalog
func LoadCatalog(data []byte) (Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return catalog, nil
}

// DefaultCatalog returns the built-in catalog
func DefaultCatalog() Catalog {
	catalog, err := LoadCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return catalog
}

// Query holds what was extracted from a message
type Query struct {
	Text          string
	Category      string
	PriceMax      int
	AskingForLink bool
	IsGreeting    bool
}

// Rule answers a query when Match holds
type Rule struct {
	Name    string
	Match   func(q Query) bool
	Respond func(q Query, catalog Catalog) string
}

// Reply is the assistant's answer and the rule that produced it
type Reply struct {
	Rule    string `json:"rule"`
	Content string `json:"content"`
}

const fallbackReply = "I'm an AI assistant for LG products. You can ask me about our product ranges, prices, and warranties. How can I help?"

var underPrice = regexp.MustCompile(`under (\d+)`)

// Assistant answers support questions from an ordered rule table. It holds
// no conversation state.
type Assistant struct {
	catalog Catalog
	rules   []Rule
}

// New creates an assistant over catalog with the default rules
func New(catalog Catalog) *Assistant {
	return &Assistant{catalog: catalog, rules: DefaultRules()}
}

// DefaultRules returns the rule table in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "greeting",
			Match: func(q Query) bool { return q.IsGreeting },
			Respond: func(Query, Catalog) string {
				return "Hello! How can I help you with LG products today?"
			},
		},
		{
			Name:  "website",
			Match: func(q Query) bool { return q.AskingForLink },
			Respond: func(Query, Catalog) string {
				return "The official LG website is at www.lg.com. For support, you can visit www.lg.com/support."
			},
		},
		{
			Name:    "price_filter",
			Match:   func(q Query) bool { return q.Category != "" && q.PriceMax > 0 },
			Respond: respondPriceFilter,
		},
		{
			Name:    "category_info",
			Match:   func(q Query) bool { return q.Category != "" },
			Respond: respondCategoryInfo,
		},
	}
}

// Reply answers message with the first matching rule
func (a *Assistant) Reply(message string) Reply {
	q := Parse(message)
	for _, rule := range a.rules {
		if rule.Match(q) {
			return Reply{Rule: rule.Name, Content: rule.Respond(q, a.catalog)}
		}
	}
	return Reply{Rule: "fallback", Content: fallbackReply}
}

// Parse extracts the category, price ceiling and intents from a message
func Parse(message string) Query {
	text := strings.ToLower(strings.TrimSpace(message))
	q := Query{Text: text}

	switch {
	case strings.Contains(text, "refrigerator"):
		q.Category = "refrigerators"
	case strings.Contains(text, "tv"):
		q.Category = "tvs"
	}

	if m := underPrice.FindStringSubmatch(text); m != nil {
		q.PriceMax, _ = strconv.Atoi(m[1])
	}

	q.AskingForLink = strings.Contains(text, "website") || strings.Contains(text, "link")

	switch text {
	case "hi", "hello", "hey":
		q.IsGreeting = true
	}

	return q
}

func respondPriceFilter(q Query, catalog Catalog) string {
	var matches []Item
	for _, item := range catalog[q.Category] {
		if item.Price < q.PriceMax {
			matches = append(matches, item)
		}
	}

	if len(matches) == 0 {
		return fmt.Sprintf("I couldn't find any %s under ₹%d. Would you like to see models in a different price range?", q.Category, q.PriceMax)
	}

	lines := make([]string, 0, len(matches))
	for _, item := range matches {
		lines = append(lines, fmt.Sprintf("• %s (Price: ₹%d)", item.Name, item.Price))
	}
	return fmt.Sprintf("I found %d %s under ₹%d:\n%s", len(matches), q.Category, q.PriceMax, strings.Join(lines, "\n"))
}

func respondCategoryInfo(q Query, catalog Catalog) string {
	items := catalog[q.Category]
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("• %s (Warranty: %s)", item.Name, item.Warranty))
	}
	return fmt.Sprintf("Here is some information on LG %s:\n%s", q.Category, strings.Join(lines, "\n"))
}
