package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL, scoped to one tenant
type PostgresRuleStore struct {
	db       *sql.DB
	tenantID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific tenant
func NewPostgresRuleStore(db *sql.DB, tenantID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:       db,
		tenantID: tenantID,
	}
}

const selectDefinition = `
	SELECT id, name, expression, result, position, active, created_at, updated_at
	FROM rules
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*RuleDefinition, error) {
	var def RuleDefinition
	var result []byte
	if err := row.Scan(&def.ID, &def.Name, &def.Expression, &result, &def.Position,
		&def.Active, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &def.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of rule %s: %w", def.ID, err)
		}
	}
	return &def, nil
}

func encodeResult(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode rule result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Add inserts a new definition into the database
func (s *PostgresRuleStore) Add(def *RuleDefinition) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rules WHERE id = $1 AND tenant_id = $2)
	`, def.ID, s.tenantID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s: %w", def.ID, ErrRuleExists)
	}

	result, err := encodeResult(def.Result)
	if err != nil {
		return err
	}

	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO rules (id, tenant_id, name, expression, result, position, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, def.ID, s.tenantID, def.Name, def.Expression, result, def.Position, def.Active,
		def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a definition by ID
func (s *PostgresRuleStore) Get(id string) (*RuleDefinition, error) {
	row := s.db.QueryRow(selectDefinition+`WHERE id = $1 AND tenant_id = $2`, id, s.tenantID)

	def, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return def, nil
}

// ListActive returns all active definitions for the tenant in evaluation order
func (s *PostgresRuleStore) ListActive() ([]*RuleDefinition, error) {
	rows, err := s.db.Query(selectDefinition+`
		WHERE tenant_id = $1 AND active = true
		ORDER BY position ASC, created_at ASC, id ASC
	`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}
	defer rows.Close()

	var defs []*RuleDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return defs, nil
}

// List returns every definition for the tenant, active or not, in evaluation order
func (s *PostgresRuleStore) List() ([]*RuleDefinition, error) {
	rows, err := s.db.Query(selectDefinition+`
		WHERE tenant_id = $1
		ORDER BY position ASC, created_at ASC, id ASC
	`, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var defs []*RuleDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Update modifies an existing definition
func (s *PostgresRuleStore) Update(def *RuleDefinition) error {
	existing, err := s.Get(def.ID)
	if err != nil {
		return err
	}

	result, err := encodeResult(def.Result)
	if err != nil {
		return err
	}

	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()

	res, err := s.db.Exec(`
		UPDATE rules
		SET name = $1, expression = $2, result = $3, position = $4, active = $5, updated_at = $6
		WHERE id = $7 AND tenant_id = $8
	`, def.Name, def.Expression, result, def.Position, def.Active, def.UpdatedAt, def.ID, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", def.ID, ErrRuleNotFound)
	}

	return nil
}

// Delete removes a definition from the database
func (s *PostgresRuleStore) Delete(id string) error {
	res, err := s.db.Exec(`
		DELETE FROM rules
		WHERE id = $1 AND tenant_id = $2
	`, id, s.tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	return nil
}
