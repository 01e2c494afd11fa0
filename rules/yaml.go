package rules

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// definitionsFile is the on-disk layout of a rule file:
//
//	rules:
//	  - id: amex
//	    name: AmexRule
//	    expression: subject.number.matches('^3[47][0-9]{13}$')
//	    result: amex
type definitionsFile struct {
	Rules []yamlDefinition `yaml:"rules"`
}

type yamlDefinition struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Result     any    `yaml:"result"`
	Position   *int   `yaml:"position"`
	Active     *bool  `yaml:"active"`
}

// LoadDefinitionsYAML reads rule definitions from a YAML document.
// Position defaults to file order, Active defaults to true and ID defaults to the name.
func LoadDefinitionsYAML(r io.Reader) ([]*RuleDefinition, error) {
	var file definitionsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	defs := make([]*RuleDefinition, 0, len(file.Rules))
	seen := make(map[string]bool, len(file.Rules))
	for i, y := range file.Rules {
		def := &RuleDefinition{
			ID:         y.ID,
			Name:       y.Name,
			Expression: y.Expression,
			Result:     y.Result,
			Position:   i,
			Active:     true,
		}
		if def.ID == "" {
			def.ID = def.Name
		}
		if def.ID == "" {
			def.ID = fmt.Sprintf("rule-%d", i)
		}
		if y.Position != nil {
			def.Position = *y.Position
		}
		if y.Active != nil {
			def.Active = *y.Active
		}
		if def.Expression == "" {
			return nil, fmt.Errorf("rule %s: expression is required", def.ID)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("rule with ID %s: %w", def.ID, ErrRuleExists)
		}
		seen[def.ID] = true
		defs = append(defs, def)
	}

	return defs, nil
}
