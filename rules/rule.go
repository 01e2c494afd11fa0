package rules

import (
	"fmt"
	"reflect"
)

// Rule inspects a subject and returns a fresh Evaluation.
// previous is nil for the first rule of a run, and otherwise a snapshot of the
// record produced by the rule before it. Rules must not reuse previous as their
// return value.
type Rule interface {
	Evaluate(subject any, previous *Evaluation) (*Evaluation, error)
}

// RuleFunc adapts an ordinary function to the Rule interface
type RuleFunc func(subject any, previous *Evaluation) (*Evaluation, error)

// Evaluate calls f(subject, previous)
func (f RuleFunc) Evaluate(subject any, previous *Evaluation) (*Evaluation, error) {
	return f(subject, previous)
}

// Namer is implemented by rules that carry a human-readable name
type Namer interface {
	Name() string
}

// RuleName returns r.Name() when r implements Namer, and its dynamic type otherwise
func RuleName(r Rule) string {
	if r == nil {
		return ""
	}
	if n, ok := r.(Namer); ok {
		return n.Name()
	}
	t := reflect.TypeOf(r)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return fmt.Sprintf("%T", r)
}

// isNilRule reports whether r is nil or an interface holding a nil pointer, func or map
func isNilRule(r Rule) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Interface, reflect.Slice, reflect.Chan:
		return v.IsNil()
	}
	return false
}
