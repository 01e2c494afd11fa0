package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Variables every CEL rule can reference
const (
	VarSubject  = "subject"
	VarPrevious = "previous"
)

// DefaultCostLimit bounds the runtime cost of a single CEL rule evaluation
const DefaultCostLimit = 1000000

// NewEnv creates a CEL environment declaring subject, previous and each named object
// as dynamic variables. Objects are bound from the top-level keys of map subjects.
func NewEnv(objects ...string) (*cel.Env, error) {
	opts := []cel.EnvOption{
		cel.Variable(VarSubject, cel.DynType),
		cel.Variable(VarPrevious, cel.DynType),
	}
	for _, name := range objects {
		if name == VarSubject || name == VarPrevious {
			continue
		}
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CELRule is a Rule backed by a compiled CEL expression.
//
// A boolean expression stops the run when true and reports the definition's Result.
// A map expression is read as evaluation fields (stop, result, extra).
// Any other value becomes the Result of a non-stopping evaluation.
type CELRule struct {
	def     *RuleDefinition
	program cel.Program
}

// CompileCELRule compiles def against env
func CompileCELRule(env *cel.Env, def *RuleDefinition) (*CELRule, error) {
	ast, issues := env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, &CompileError{RuleID: def.ID, Cause: issues.Err()}
	}

	prog, err := env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(DefaultCostLimit),
	)
	if err != nil {
		return nil, &CompileError{RuleID: def.ID, Cause: fmt.Errorf("program creation error: %w", err)}
	}

	return &CELRule{def: def, program: prog}, nil
}

// ID returns the definition ID
func (r *CELRule) ID() string {
	return r.def.ID
}

// Name returns the definition name, falling back to its ID
func (r *CELRule) Name() string {
	if r.def.Name != "" {
		return r.def.Name
	}
	return r.def.ID
}

// Definition returns the definition the rule was compiled from
func (r *CELRule) Definition() *RuleDefinition {
	return r.def
}

// Evaluate runs the compiled program against subject and previous
func (r *CELRule) Evaluate(subject any, previous *Evaluation) (*Evaluation, error) {
	out, _, err := r.program.Eval(activation(subject, previous))
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.def.ID, err)
	}

	if matched, ok := out.Value().(bool); ok {
		if !matched {
			return NewEvaluation(Config{}), nil
		}
		return NewEvaluation(Config{Stop: true, Result: r.def.Result}), nil
	}

	value := nativeValue(out)
	if fields, ok := value.(map[string]any); ok {
		ev, err := EvaluationFromMap(fields)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.def.ID, err)
		}
		return ev, nil
	}

	return NewEvaluation(Config{Result: value}), nil
}

func activation(subject any, previous *Evaluation) map[string]any {
	vars := map[string]any{
		VarSubject:  subject,
		VarPrevious: previousValue(previous),
	}
	if m, ok := subject.(map[string]any); ok {
		for k, v := range m {
			if k == VarSubject || k == VarPrevious {
				continue
			}
			vars[k] = v
		}
	}
	return vars
}

// previousValue exposes the previous evaluation to CEL as a plain map
func previousValue(previous *Evaluation) any {
	if previous == nil {
		return nil
	}
	extra := previous.Extra
	if extra == nil {
		extra = map[string]any{}
	}
	return map[string]any{
		FieldRule:   previous.RuleName(),
		FieldStop:   previous.Stop,
		FieldResult: previous.Result,
		FieldExtra:  extra,
	}
}

// nativeValue converts a CEL value into plain Go values, recursing into maps and lists
func nativeValue(v ref.Val) any {
	if v == nil || v.Type() == types.NullType {
		return nil
	}

	switch val := v.(type) {
	case traits.Mapper:
		out := make(map[string]any)
		it := val.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			key, ok := k.Value().(string)
			if !ok {
				key = fmt.Sprint(k.Value())
			}
			out[key] = nativeValue(val.Get(k))
		}
		return out
	case traits.Lister:
		var out []any
		it := val.Iterator()
		for it.HasNext() == types.True {
			out = append(out, nativeValue(it.Next()))
		}
		return out
	}

	return v.Value()
}
