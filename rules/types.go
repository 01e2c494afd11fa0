package rules

import "time"

// RuleDefinition is the stored form of an expression-backed rule
type RuleDefinition struct {
	ID         string    `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	Expression string    `json:"expression" yaml:"expression"`
	Result     any       `json:"result,omitempty" yaml:"result,omitempty"` // reported when a boolean expression matches
	Position   int       `json:"position" yaml:"position"`
	Active     bool      `json:"active" yaml:"active"`
	CreatedAt  time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"-"`
}
