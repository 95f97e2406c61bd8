package services

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/intelligentdocumentflow/internal/models"
)

// Rule maps a keyword set to a category with a confidence score. Rules are
// evaluated in order against the lower-cased text; the first rule with any
// matching keyword wins, so earlier rules take precedence on ambiguous
// documents.
type Rule struct {
	Keywords   []string `yaml:"keywords"`
	Category   string   `yaml:"category"`
	Confidence float64  `yaml:"confidence"`
}

// DefaultCategory is assigned when no rule matches.
const (
	DefaultCategory   = "Other"
	DefaultConfidence = 0.5
)

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{Keywords: []string{"license", "driver"}, Category: "Driver License", Confidence: 0.9},
		{Keywords: []string{"invoice", "bill", "amount due"}, Category: "Invoice", Confidence: 0.85},
		{Keywords: []string{"w-2", "wages", "tax"}, Category: "W2", Confidence: 0.8},
		{Keywords: []string{"medicine", "prescription", "drug"}, Category: "Medicine", Confidence: 0.8},
		{Keywords: []string{"supplement", "vitamin"}, Category: "Dietary Supplement", Confidence: 0.75},
		{Keywords: []string{"kitchen", "cooking"}, Category: "Kitchen Supplies", Confidence: 0.7},
		{Keywords: []string{"stationery", "office", "paper"}, Category: "Stationery", Confidence: 0.7},
	}
}

// RuleClassifier is a deterministic, table-driven Classifier. The table is
// replaceable policy rather than fixed logic; a model-backed implementation
// can be substituted without touching the classify handler.
type RuleClassifier struct {
	rules []Rule
	now   func() time.Time
}

// NewRuleClassifier builds a classifier over the given rule table. A nil or
// empty table falls back to DefaultRules.
func NewRuleClassifier(rules []Rule) *RuleClassifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &RuleClassifier{rules: rules, now: time.Now}
}

var _ Classifier = (*RuleClassifier)(nil)

// Classify returns the category of the first matching rule, or the default
// category when nothing matches. Matching is case-insensitive substring
// match over the whole text.
func (c *RuleClassifier) Classify(text string) models.Classification {
	lower := strings.ToLower(text)
	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return models.Classification{
					Category:   rule.Category,
					Confidence: rule.Confidence,
					Timestamp:  c.now().UTC(),
				}
			}
		}
	}
	return models.Classification{
		Category:   DefaultCategory,
		Confidence: DefaultConfidence,
		Timestamp:  c.now().UTC(),
	}
}

// LoadRules reads a rule table from a YAML file. Keywords are lower-cased on
// load so matching stays case-insensitive regardless of how the table was
// written.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule table: %w", err)
	}
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rule table %s: %w", path, err)
	}
	for i, r := range rules {
		if r.Category == "" || len(r.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d missing category or keywords", i)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("rule %d confidence %f outside [0,1]", i, r.Confidence)
		}
		for j, kw := range r.Keywords {
			rules[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return rules, nil
}
