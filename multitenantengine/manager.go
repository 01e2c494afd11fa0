package multitenantengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/simplerules/rules"
)

// ErrTenantNotFound is returned for tenants without a loaded engine or an active schema
var ErrTenantNotFound = errors.New("tenant not found")

// Schema represents a tenant's data schema.
// Maps object names to field definitions.
type Schema map[string]map[string]string

// Objects returns the schema's top-level object names in sorted order
func (s Schema) Objects() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TenantEngine wraps a rules.Engine with tenant-specific metadata
type TenantEngine struct {
	TenantID string
	Schema   Schema
	Engine   *rules.Engine
}

// StoreFactory returns the rule store backing a tenant's engine
type StoreFactory func(tenantID string) rules.RuleStore

// Option configures a MultiTenantEngineManager
type Option func(*MultiTenantEngineManager)

// WithStoreFactory replaces the default Postgres-backed rule stores
func WithStoreFactory(f StoreFactory) Option {
	return func(m *MultiTenantEngineManager) {
		m.newStore = f
	}
}

// WithEngineOptions passes options to every tenant engine the manager builds
func WithEngineOptions(opts ...rules.EngineOption) Option {
	return func(m *MultiTenantEngineManager) {
		m.engineOpts = append(m.engineOpts, opts...)
	}
}

// WithLogger sets the manager's logger
func WithLogger(l *slog.Logger) Option {
	return func(m *MultiTenantEngineManager) {
		m.logger = l
	}
}

// MultiTenantEngineManager manages engines for all tenants
type MultiTenantEngineManager struct {
	engines    map[string]*TenantEngine
	db         *sql.DB
	newStore   StoreFactory
	engineOpts []rules.EngineOption
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewMultiTenantEngineManager creates a new manager instance
func NewMultiTenantEngineManager(db *sql.DB, opts ...Option) *MultiTenantEngineManager {
	m := &MultiTenantEngineManager{
		engines: make(map[string]*TenantEngine),
		db:      db,
		logger:  slog.Default(),
	}
	m.newStore = func(tenantID string) rules.RuleStore {
		return rules.NewPostgresRuleStore(m.db, tenantID)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateCELEnvFromSchema creates a CEL environment declaring every schema object
// alongside subject and previous
func CreateCELEnvFromSchema(schema Schema) (*cel.Env, error) {
	return rules.NewEnv(schema.Objects()...)
}

// Store returns the rule store the manager uses for tenantID
func (m *MultiTenantEngineManager) Store(tenantID string) rules.RuleStore {
	return m.newStore(tenantID)
}

// LoadAllTenants loads every tenant with an active schema and initializes its engine
func (m *MultiTenantEngineManager) LoadAllTenants(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT t.id, s.definition
		FROM tenants t
		JOIN schemas s ON s.tenant_id = t.id
		WHERE s.active = true
	`)
	if err != nil {
		return fmt.Errorf("failed to fetch tenants: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var tenantID string
		var schemaJSON []byte
		if err := rows.Scan(&tenantID, &schemaJSON); err != nil {
			return fmt.Errorf("failed to scan tenant row: %w", err)
		}

		var schema Schema
		if err := json.Unmarshal(schemaJSON, &schema); err != nil {
			return fmt.Errorf("invalid schema for tenant %s: %w", tenantID, err)
		}

		if err := m.CreateTenant(tenantID, schema); err != nil {
			return fmt.Errorf("failed to initialize tenant %s: %w", tenantID, err)
		}
		loaded++
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating tenant rows: %w", err)
	}

	m.logger.Info("tenants loaded", "count", loaded)
	return nil
}

func (m *MultiTenantEngineManager) buildEngine(tenantID string, schema Schema) (*TenantEngine, error) {
	env, err := CreateCELEnvFromSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	engine, err := rules.NewEngineWithEnv(env, m.newStore(tenantID), m.engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &TenantEngine{TenantID: tenantID, Schema: schema, Engine: engine}, nil
}

// CreateTenant builds an engine for tenantID with the given schema and registers it,
// replacing any engine already loaded for the tenant
func (m *MultiTenantEngineManager) CreateTenant(tenantID string, schema Schema) error {
	te, err := m.buildEngine(tenantID, schema)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[tenantID] = te
	m.mu.Unlock()

	return nil
}

// GetEngine retrieves the engine for a specific tenant
func (m *MultiTenantEngineManager) GetEngine(tenantID string) (*rules.Engine, error) {
	te, err := m.Tenant(tenantID)
	if err != nil {
		return nil, err
	}
	return te.Engine, nil
}

// Tenant retrieves the engine and schema loaded for a tenant
func (m *MultiTenantEngineManager) Tenant(tenantID string) (*TenantEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	te, exists := m.engines[tenantID]
	if !exists {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	return te, nil
}

// UpdateTenantSchema validates and stores a new schema version, recompiles the tenant's
// rules against it and swaps the engine in. Evaluations keep using the old engine until
// the swap, and a schema that breaks an active rule leaves the old version in place.
func (m *MultiTenantEngineManager) UpdateTenantSchema(ctx context.Context, tenantID string, schema Schema) (int, error) {
	if err := ValidateSchema(schema); err != nil {
		return 0, fmt.Errorf("invalid schema: %w", err)
	}

	te, err := m.buildEngine(tenantID, schema)
	if err != nil {
		return 0, err
	}

	version, err := m.saveSchema(ctx, tenantID, schema)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.engines[tenantID] = te
	m.mu.Unlock()

	m.logger.Info("tenant schema updated", "tenant", tenantID, "version", version, "objects", len(schema))
	return version, nil
}

// saveSchema deactivates the tenant's current schema and inserts the next version
func (m *MultiTenantEngineManager) saveSchema(ctx context.Context, tenantID string, schema Schema) (int, error) {
	schemaJSON, err := json.Marshal(schema)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal schema: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE schemas SET active = false WHERE tenant_id = $1
	`, tenantID); err != nil {
		return 0, fmt.Errorf("failed to deactivate old schemas: %w", err)
	}

	var version int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO schemas (tenant_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, NOW()
		FROM schemas
		WHERE tenant_id = $1
		RETURNING version
	`, tenantID, schemaJSON).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to save new schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit schema: %w", err)
	}
	return version, nil
}

// ActiveSchema reads the tenant's active schema and its version from the database
func (m *MultiTenantEngineManager) ActiveSchema(ctx context.Context, tenantID string) (Schema, int, error) {
	var schemaJSON []byte
	var version int
	err := m.db.QueryRowContext(ctx, `
		SELECT version, definition
		FROM schemas
		WHERE tenant_id = $1 AND active = true
	`, tenantID).Scan(&version, &schemaJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("schema for tenant %s: %w", tenantID, ErrTenantNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get schema: %w", err)
	}

	var schema Schema
	if err := json.Unmarshal(schemaJSON, &schema); err != nil {
		return nil, 0, fmt.Errorf("failed to parse schema: %w", err)
	}
	return schema, version, nil
}

// ListTenants returns all loaded tenant IDs in sorted order
func (m *MultiTenantEngineManager) ListTenants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tenants := make([]string, 0, len(m.engines))
	for tenantID := range m.engines {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)
	return tenants
}

// DeleteTenant removes a tenant's engine from the manager.
// The tenant's rows in the database are left untouched.
func (m *MultiTenantEngineManager) DeleteTenant(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.engines[tenantID]; !exists {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrTenantNotFound)
	}

	delete(m.engines, tenantID)
	return nil
}
