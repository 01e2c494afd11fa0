package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Evaluation is the outcome of applying one rule to a subject
type Evaluation struct {
	// Rule is the rule that produced this record. The driver assigns it.
	Rule Rule

	// Stop halts the sequence after this record when true
	Stop bool

	// Result is the consumer-defined outcome
	Result any

	// Extra carries out-of-band data a rule wants to communicate
	Extra map[string]any

	// History holds the records produced before this one during a run.
	// It is only populated on the final record of a run with history enabled.
	History []*Evaluation
}

// Config holds the typed fields used to build an Evaluation.
// Nil Extra and History are replaced with fresh empty values.
type Config struct {
	Rule    Rule
	Stop    bool
	Result  any
	Extra   map[string]any
	History []*Evaluation
}

// NewEvaluation creates an Evaluation from a typed config
func NewEvaluation(cfg Config) *Evaluation {
	ev := &Evaluation{
		Rule:    cfg.Rule,
		Stop:    cfg.Stop,
		Result:  cfg.Result,
		Extra:   cfg.Extra,
		History: cfg.History,
	}
	if ev.Extra == nil {
		ev.Extra = map[string]any{}
	}
	if ev.History == nil {
		ev.History = []*Evaluation{}
	}
	return ev
}

// Recognized keys for EvaluationFromMap
const (
	FieldRule    = "rule"
	FieldStop    = "stop"
	FieldResult  = "result"
	FieldExtra   = "extra"
	FieldHistory = "history"
)

// EvaluationFromMap builds an Evaluation from a loosely typed mapping, as produced by
// decoded JSON/YAML or a CEL map literal. Unknown keys are ignored and missing or nil
// values fall back to defaults. A value of the wrong type yields a *TypeError.
func EvaluationFromMap(fields map[string]any) (*Evaluation, error) {
	var cfg Config

	if v, ok := fields[FieldRule]; ok && v != nil {
		r, ok := v.(Rule)
		if !ok {
			return nil, &TypeError{Field: FieldRule, Want: "Rule", Got: v}
		}
		cfg.Rule = r
	}

	if v, ok := fields[FieldStop]; ok && v != nil {
		stop, ok := v.(bool)
		if !ok {
			return nil, &TypeError{Field: FieldStop, Want: "bool", Got: v}
		}
		cfg.Stop = stop
	}

	cfg.Result = fields[FieldResult]

	if v, ok := fields[FieldExtra]; ok && v != nil {
		extra, err := toExtra(v)
		if err != nil {
			return nil, err
		}
		cfg.Extra = extra
	}

	if v, ok := fields[FieldHistory]; ok && v != nil {
		history, err := toHistory(v)
		if err != nil {
			return nil, err
		}
		cfg.History = history
	}

	return NewEvaluation(cfg), nil
}

func toExtra(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, &TypeError{Field: FieldExtra, Want: "map with string keys", Got: v}
	}

	extra := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		extra[iter.Key().String()] = iter.Value().Interface()
	}
	return extra, nil
}

func toHistory(v any) ([]*Evaluation, error) {
	switch h := v.(type) {
	case []*Evaluation:
		return h, nil
	case []Evaluation:
		history := make([]*Evaluation, len(h))
		for i := range h {
			history[i] = &h[i]
		}
		return history, nil
	case []any:
		history := make([]*Evaluation, 0, len(h))
		for _, item := range h {
			switch ev := item.(type) {
			case *Evaluation:
				history = append(history, ev)
			case Evaluation:
				history = append(history, &ev)
			default:
				return nil, &TypeError{Field: FieldHistory, Want: "sequence of evaluations", Got: v}
			}
		}
		return history, nil
	}
	return nil, &TypeError{Field: FieldHistory, Want: "sequence of evaluations", Got: v}
}

// Clone returns a snapshot of the evaluation. Extra is copied one level deep and
// History is left empty, so a snapshot never carries nested history.
func (e *Evaluation) Clone() *Evaluation {
	if e == nil {
		return nil
	}

	extra := make(map[string]any, len(e.Extra))
	for k, v := range e.Extra {
		extra[k] = v
	}

	return &Evaluation{
		Rule:    e.Rule,
		Stop:    e.Stop,
		Result:  e.Result,
		Extra:   extra,
		History: []*Evaluation{},
	}
}

// RuleName returns the name of the rule that produced the evaluation, or "" if unset
func (e *Evaluation) RuleName() string {
	if e == nil || e.Rule == nil {
		return ""
	}
	return RuleName(e.Rule)
}

// evaluationJSON is the wire form of an Evaluation
type evaluationJSON struct {
	Rule    string           `json:"rule,omitempty"`
	Stop    bool             `json:"stop"`
	Result  any              `json:"result"`
	Extra   map[string]any   `json:"extra"`
	History []evaluationJSON `json:"history"`
}

func (e *Evaluation) toJSON() evaluationJSON {
	out := evaluationJSON{
		Rule:    e.RuleName(),
		Stop:    e.Stop,
		Result:  e.Result,
		Extra:   e.Extra,
		History: make([]evaluationJSON, 0, len(e.History)),
	}
	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	for _, h := range e.History {
		if h != nil {
			out.History = append(out.History, h.toJSON())
		}
	}
	return out
}

// MarshalJSON encodes the evaluation with the producing rule reduced to its name
func (e *Evaluation) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.toJSON())
}

// String implements fmt.Stringer
func (e *Evaluation) String() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Evaluation{rule=%s stop=%t result=%v history=%d}", e.RuleName(), e.Stop, e.Result, len(e.History))
}
