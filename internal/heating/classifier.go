// Package heating classifies free-text EPC heating descriptions.
package heating

import (
	_ "embed"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/nestauk/asf-core-data/internal/normalize"
)

// Unknown is the category of a missing or unrecognised description
const Unknown = "unknown"

//go:embed rules.yaml
var defaultRules []byte

// Rule maps description patterns to a heating category. A pattern matches
// when every one of its substrings occurs in the lowercased description.
type Rule struct {
	Category string     `yaml:"category"`
	HeatPump bool       `yaml:"heat_pump"`
	Any      [][]string `yaml:"any"`
}

// Result is the outcome of classifying one description
type Result struct {
	Category string
	HeatPump bool
}

// HPType is the heat pump subtype, empty when no heat pump was found
func (r Result) HPType() string {
	if !r.HeatPump {
		return ""
	}
	return r.Category
}

// Classifier evaluates rules top-down, first match wins
type Classifier struct {
	rules []Rule
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
)

// Default returns the classifier built from the embedded rule table
func Default() *Classifier {
	defaultOnce.Do(func() {
		c, err := Parse(defaultRules)
		if err != nil {
			panic(eris.Wrap(err, "heating: embedded rules"))
		}
		defaultClassifier = c
	})
	return defaultClassifier
}

// LoadFile reads a rule table from a YAML file
func LoadFile(path string) (*Classifier, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "heating: open rules %s", path)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a rule table from YAML
func Load(r io.Reader) (*Classifier, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "heating: read rules")
	}
	return Parse(data)
}

// Parse builds a classifier from YAML bytes, lowercasing every pattern
func Parse(data []byte) (*Classifier, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "heating: parse rules")
	}
	if len(file.Rules) == 0 {
		return nil, eris.New("heating: rule table is empty")
	}

	rules := make([]Rule, 0, len(file.Rules))
	for i, rule := range file.Rules {
		if strings.TrimSpace(rule.Category) == "" {
			return nil, eris.Errorf("heating: rule %d has no category", i)
		}
		patterns := make([][]string, 0, len(rule.Any))
		for _, pattern := range rule.Any {
			terms := make([]string, 0, len(pattern))
			for _, term := range pattern {
				if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
					terms = append(terms, term)
				}
			}
			if len(terms) > 0 {
				patterns = append(patterns, terms)
			}
		}
		if len(patterns) == 0 {
			return nil, eris.Errorf("heating: rule %q has no patterns", rule.Category)
		}
		rules = append(rules, Rule{
			Category: strings.ToLower(strings.TrimSpace(rule.Category)),
			HeatPump: rule.HeatPump,
			Any:      patterns,
		})
	}
	return &Classifier{rules: rules}, nil
}

// Classify returns the first matching category for a description
func (c *Classifier) Classify(description string) Result {
	if normalize.IsMissing(description) {
		return Result{Category: Unknown}
	}
	text := strings.ToLower(description)

	for _, rule := range c.rules {
		for _, pattern := range rule.Any {
			if containsAll(text, pattern) {
				return Result{Category: rule.Category, HeatPump: rule.HeatPump}
			}
		}
	}
	return Result{Category: Unknown}
}

// Categories lists rule categories in evaluation order
func (c *Classifier) Categories() []string {
	out := make([]string, len(c.rules))
	for i, rule := range c.rules {
		out[i] = rule.Category
	}
	return out
}

func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}
