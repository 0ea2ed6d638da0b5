package classify

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultRuleWeight = 0.5

// Rule routes line items containing any of Keywords to Section.
type Rule struct {
	Section  string   `yaml:"section"`
	Keywords []string `yaml:"keywords"`
	Weight   float64  `yaml:"weight"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rules file. An empty path yields no rules.
func LoadRules(path string) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("parse classifier rules %s: %w", path, err)
	}
	return rules, nil
}

// ParseRules decodes YAML of the form
//
//	rules:
//	  - section: foundations
//	    keywords: [beton, zaklady]
//	    weight: 0.5
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	rules := make([]Rule, 0, len(file.Rules))
	for i, rule := range file.Rules {
		rule.Section = strings.TrimSpace(rule.Section)
		if rule.Section == "" {
			return nil, fmt.Errorf("rule %d: section is required", i+1)
		}
		keywords := rule.Keywords[:0]
		for _, keyword := range rule.Keywords {
			if keyword = strings.TrimSpace(keyword); keyword != "" {
				keywords = append(keywords, keyword)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): at least one keyword is required", i+1, rule.Section)
		}
		rule.Keywords = keywords
		if rule.Weight <= 0 {
			rule.Weight = defaultRuleWeight
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
