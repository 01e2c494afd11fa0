package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
)

// Engine compiles stored rule definitions into CEL rules and runs them in order.
// Safe for concurrent evaluation and mutation.
type Engine struct {
	env      *cel.Env
	store    RuleStore
	cache    RulesCache           // cache for the ordered active definitions
	compiled map[string]*CELRule // ruleID -> compiled rule
	observer Observer
	logger   *slog.Logger
	mu       sync.RWMutex
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithCacheConfig replaces the default cache configuration
func WithCacheConfig(cfg CacheConfig) EngineOption {
	return func(en *Engine) {
		en.cache = NewInMemoryRulesCache(cfg)
	}
}

// WithEngineObserver attaches an Observer to every run started by the engine
func WithEngineObserver(o Observer) EngineOption {
	return func(en *Engine) {
		en.observer = o
	}
}

// WithEngineLogger sets the logger passed to every run
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(en *Engine) {
		en.logger = l
	}
}

// NewEngine creates a new engine with the default CEL environment
func NewEngine(store RuleStore, opts ...EngineOption) (*Engine, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, err
	}
	return NewEngineWithEnv(env, store, opts...)
}

// NewEngineWithEnv creates a new engine with a custom CEL environment, such as one
// declaring tenant schema objects. All active definitions are compiled up front.
func NewEngineWithEnv(env *cel.Env, store RuleStore, opts ...EngineOption) (*Engine, error) {
	en := &Engine{
		env:      env,
		store:    store,
		cache:    NewInMemoryRulesCache(DefaultCacheConfig()),
		compiled: make(map[string]*CELRule),
	}
	for _, opt := range opts {
		opt(en)
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// CompileRule compiles a definition and caches the resulting rule
func (en *Engine) CompileRule(def *RuleDefinition) error {
	rule, err := CompileCELRule(en.env, def)
	if err != nil {
		return err
	}

	en.mu.Lock()
	en.compiled[def.ID] = rule
	en.mu.Unlock()

	return nil
}

// CompileAllRules compiles all active definitions from the store and primes the cache
func (en *Engine) CompileAllRules() error {
	defs, err := en.store.ListActive()
	if err != nil {
		return err
	}

	for _, def := range defs {
		if err := en.CompileRule(def); err != nil {
			return err
		}
	}

	en.cache.Set(defs)
	return nil
}

// rule returns the compiled rule for def. The program is reused when only
// non-expression fields changed and rebuilt when the expression differs or
// another writer added the definition.
func (en *Engine) rule(def *RuleDefinition) (*CELRule, error) {
	en.mu.RLock()
	existing, exists := en.compiled[def.ID]
	en.mu.RUnlock()

	if exists && existing.def == def {
		return existing, nil
	}

	var rule *CELRule
	if exists && existing.def.Expression == def.Expression {
		rule = &CELRule{def: def, program: existing.program}
	} else {
		var err error
		rule, err = CompileCELRule(en.env, def)
		if err != nil {
			return nil, err
		}
	}

	en.mu.Lock()
	en.compiled[def.ID] = rule
	en.mu.Unlock()

	return rule, nil
}

// AddRule validates that a definition compiles, then stores it
func (en *Engine) AddRule(def *RuleDefinition) error {
	if _, err := en.store.Get(def.ID); err == nil {
		return fmt.Errorf("rule with ID %s: %w", def.ID, ErrRuleExists)
	}

	rule, err := CompileCELRule(en.env, def)
	if err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Add(def); err != nil {
		return err
	}

	en.mu.Lock()
	en.compiled[def.ID] = rule
	en.mu.Unlock()

	en.cache.Invalidate()
	return nil
}

// UpdateRule validates the new expression, stores the definition and swaps the compiled rule
func (en *Engine) UpdateRule(def *RuleDefinition) error {
	rule, err := CompileCELRule(en.env, def)
	if err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Update(def); err != nil {
		return err
	}

	en.mu.Lock()
	en.compiled[def.ID] = rule
	en.mu.Unlock()

	en.cache.Invalidate()
	return nil
}

// DeleteRule removes a definition from the store and its compiled rule
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.compiled, ruleID)
	en.mu.Unlock()

	en.cache.Invalidate()
	return nil
}

// Sequence returns the active rules in stored order
func (en *Engine) Sequence() ([]Rule, error) {
	defs := en.cache.Get()
	if defs == nil {
		var err error
		defs, err = en.store.ListActive()
		if err != nil {
			return nil, err
		}
		en.cache.Set(defs)
	}

	seq := make([]Rule, 0, len(defs))
	for _, def := range defs {
		rule, err := en.rule(def)
		if err != nil {
			return nil, err
		}
		seq = append(seq, rule)
	}
	return seq, nil
}

// Evaluate runs every active rule against subject in stored order
func (en *Engine) Evaluate(ctx context.Context, subject any, withHistory bool) (*Evaluation, error) {
	seq, err := en.Sequence()
	if err != nil {
		return nil, err
	}
	return RunContext(ctx, subject, seq, en.runOptions(withHistory)...)
}

// EvaluateRules runs the named rules against subject in the order given, whether active or not
func (en *Engine) EvaluateRules(ctx context.Context, subject any, ruleIDs []string, withHistory bool) (*Evaluation, error) {
	seq := make([]Rule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		def, err := en.store.Get(id)
		if err != nil {
			return nil, err
		}
		rule, err := en.rule(def)
		if err != nil {
			return nil, err
		}
		seq = append(seq, rule)
	}
	return RunContext(ctx, subject, seq, en.runOptions(withHistory)...)
}

// EvaluateRule applies a single rule outside of a run
func (en *Engine) EvaluateRule(ruleID string, subject any, previous *Evaluation) (*Evaluation, error) {
	def, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}

	rule, err := en.rule(def)
	if err != nil {
		return nil, err
	}

	ev, err := rule.Evaluate(subject, previous)
	if err != nil {
		return nil, err
	}
	ev.Rule = rule
	return ev, nil
}

func (en *Engine) runOptions(withHistory bool) []Option {
	opts := []Option{WithHistory(withHistory)}
	if en.observer != nil {
		opts = append(opts, WithObserver(en.observer))
	}
	if en.logger != nil {
		opts = append(opts, WithLogger(en.logger))
	}
	return opts
}
