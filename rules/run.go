package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Observer receives notifications while a run progresses.
// Calls are synchronous and happen in rule order.
type Observer interface {
	// RuleEvaluated is called after a rule returned an evaluation
	RuleEvaluated(rule Rule, index int, ev *Evaluation, d time.Duration)

	// RunFinished is called once per run, including runs that fail or have no rules
	RunFinished(ev *Evaluation, evaluated int, d time.Duration, err error)
}

// Option configures a single run
type Option func(*runConfig)

type runConfig struct {
	withHistory bool
	observer    Observer
	logger      *slog.Logger
}

// WithHistory enables accumulation of prior evaluations on the final record
func WithHistory(enabled bool) Option {
	return func(c *runConfig) {
		c.withHistory = enabled
	}
}

// WithObserver attaches an observer to the run
func WithObserver(o Observer) Option {
	return func(c *runConfig) {
		c.observer = o
	}
}

// WithLogger logs each step of the run at debug level
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run evaluates rules against subject in order and returns the final evaluation.
// It returns (nil, nil) when rules is empty.
func Run(subject any, rules []Rule, opts ...Option) (*Evaluation, error) {
	return RunContext(context.Background(), subject, rules, opts...)
}

// RunContext is Run with cooperative cancellation checked between rules
func RunContext(ctx context.Context, subject any, rules []Rule, opts ...Option) (*Evaluation, error) {
	return run(ctx, subject, len(rules), func(i int) (Rule, error) {
		r := rules[i]
		if isNilRule(r) {
			return nil, &ValidationError{Index: i, Element: r}
		}
		return r, nil
	}, opts)
}

// RunAny is RunContext for lists assembled at runtime. Each element is checked
// against the Rule interface when it is reached; a non-Rule aborts the run with
// a *ValidationError and no evaluation.
func RunAny(ctx context.Context, subject any, items []any, opts ...Option) (*Evaluation, error) {
	return run(ctx, subject, len(items), func(i int) (Rule, error) {
		r, ok := items[i].(Rule)
		if !ok || isNilRule(r) {
			return nil, &ValidationError{Index: i, Element: items[i]}
		}
		return r, nil
	}, opts)
}

func run(ctx context.Context, subject any, n int, ruleAt func(int) (Rule, error), opts []Option) (ev *Evaluation, err error) {
	cfg := runConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	evaluated := 0
	if cfg.observer != nil {
		start := time.Now()
		defer func() {
			cfg.observer.RunFinished(ev, evaluated, time.Since(start), err)
		}()
	}

	if n == 0 {
		return nil, nil
	}

	var current *Evaluation
	history := []*Evaluation{}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rule, err := ruleAt(i)
		if err != nil {
			return nil, err
		}

		previous := current.Clone()

		var start time.Time
		if cfg.observer != nil {
			start = time.Now()
		}

		next, err := rule.Evaluate(subject, previous)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, RuleName(rule), ErrNilEvaluation)
		}
		evaluated++

		next.Rule = rule
		current = next

		if cfg.observer != nil {
			cfg.observer.RuleEvaluated(rule, i, next, time.Since(start))
		}
		if cfg.logger != nil {
			cfg.logger.Debug("rule evaluated", "index", i, "rule", RuleName(rule), "stop", next.Stop)
		}

		if cfg.withHistory && i > 0 {
			history = append(history, previous)
		}

		if next.Stop {
			break
		}
	}

	current.History = history
	return current, nil
}
