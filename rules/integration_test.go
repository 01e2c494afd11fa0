//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/simplerules/rules"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rules_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=rules_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

// createTenant inserts a tenant row and returns its ID
func createTenant(t *testing.T, db *sql.DB, name string) string {
	var tenantID string
	err := db.QueryRow(`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, name).Scan(&tenantID)
	if err != nil {
		t.Fatalf("Failed to create tenant: %v", err)
	}
	return tenantID
}

func TestPostgresRuleStore_BasicCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID := createTenant(t, db, "test-tenant")
	store := rules.NewPostgresRuleStore(db, tenantID)

	ruleID := uuid.New().String()
	def := &rules.RuleDefinition{
		ID:         ruleID,
		Name:       "amex",
		Expression: `subject.number.matches('^3[47][0-9]{13}')`,
		Result:     map[string]any{"network": "amex", "score": 3.0},
		Position:   1,
		Active:     true,
	}

	if err := store.Add(def); err != nil {
		t.Fatalf("Failed to add rule: %v", err)
	}
	if err := store.Add(def); !errors.Is(err, rules.ErrRuleExists) {
		t.Errorf("Duplicate Add() error = %v, want ErrRuleExists", err)
	}

	retrieved, err := store.Get(ruleID)
	if err != nil {
		t.Fatalf("Failed to get rule: %v", err)
	}
	if retrieved.Name != "amex" || retrieved.Position != 1 {
		t.Errorf("Get() = %+v", retrieved)
	}
	result, ok := retrieved.Result.(map[string]any)
	if !ok || result["network"] != "amex" || result["score"] != 3.0 {
		t.Errorf("Result = %#v, want decoded JSON object", retrieved.Result)
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("Expected 1 active rule, got %d", len(active))
	}

	def.Name = "amex-updated"
	def.Active = false
	def.Result = nil
	if err := store.Update(def); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}

	updated, err := store.Get(ruleID)
	if err != nil {
		t.Fatalf("Failed to get updated rule: %v", err)
	}
	if updated.Name != "amex-updated" || updated.Active || updated.Result != nil {
		t.Errorf("Get() after Update() = %+v", updated)
	}

	active, err = store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected 0 active rules, got %d", len(active))
	}

	all, err := store.List()
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 rule, got %d", len(all))
	}

	if err := store.Delete(ruleID); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if _, err := store.Get(ruleID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrRuleNotFound", err)
	}
}

func TestPostgresRuleStore_Ordering(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID := createTenant(t, db, "test-tenant")
	store := rules.NewPostgresRuleStore(db, tenantID)

	for _, def := range []*rules.RuleDefinition{
		{ID: "c", Expression: `true`, Position: 2, Active: true},
		{ID: "a", Expression: `true`, Position: 0, Active: true},
		{ID: "b", Expression: `true`, Position: 1, Active: true},
	} {
		if err := store.Add(def); err != nil {
			t.Fatalf("Failed to add rule: %v", err)
		}
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("Failed to list active rules: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, def := range active {
		if def.ID != want[i] {
			t.Errorf("ListActive()[%d] = %s, want %s", i, def.ID, want[i])
		}
	}
}

func TestPostgresRuleStore_TenantIsolation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tenantA := createTenant(t, db, "tenant-a")
	tenantB := createTenant(t, db, "tenant-b")

	storeA := rules.NewPostgresRuleStore(db, tenantA)
	storeB := rules.NewPostgresRuleStore(db, tenantB)

	ruleAID := uuid.New().String()
	if err := storeA.Add(&rules.RuleDefinition{ID: ruleAID, Name: "tenant-a-rule", Expression: `true`, Active: true}); err != nil {
		t.Fatalf("Failed to add rule for tenant A: %v", err)
	}

	ruleBID := uuid.New().String()
	if err := storeB.Add(&rules.RuleDefinition{ID: ruleBID, Name: "tenant-b-rule", Expression: `false`, Active: true}); err != nil {
		t.Fatalf("Failed to add rule for tenant B: %v", err)
	}

	if _, err := storeA.Get(ruleBID); err == nil {
		t.Error("Tenant A should not be able to see tenant B's rule")
	}
	if _, err := storeB.Get(ruleAID); err == nil {
		t.Error("Tenant B should not be able to see tenant A's rule")
	}
	if err := storeA.Delete(ruleBID); !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Tenant A deleted tenant B's rule: %v", err)
	}

	rulesA, err := storeA.ListActive()
	if err != nil {
		t.Fatalf("Failed to list rules for tenant A: %v", err)
	}
	if len(rulesA) != 1 || rulesA[0].Name != "tenant-a-rule" {
		t.Errorf("Tenant A rules = %v", rulesA)
	}
}

func TestPostgresRuleStore_UpdateNonExistent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID := createTenant(t, db, "test-tenant")
	store := rules.NewPostgresRuleStore(db, tenantID)

	err := store.Update(&rules.RuleDefinition{ID: uuid.New().String(), Expression: `true`})
	if !errors.Is(err, rules.ErrRuleNotFound) {
		t.Errorf("Update() error = %v, want ErrRuleNotFound", err)
	}
}

func TestEngine_WithDatabase(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	tenantID := createTenant(t, db, "cards")
	store := rules.NewPostgresRuleStore(db, tenantID)

	engine, err := rules.NewEngine(store)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	for i, def := range []*rules.RuleDefinition{
		{ID: "amex", Name: "AmexRule", Expression: `subject.number.matches('^3[47][0-9]{13}')`, Result: "amex"},
		{ID: "visa", Name: "VisaRule", Expression: `subject.number.matches('^4[0-9]{12}([0-9]{3})?')`, Result: "visa"},
	} {
		def.Position = i
		def.Active = true
		if err := engine.AddRule(def); err != nil {
			t.Fatalf("Failed to add rule %s: %v", def.ID, err)
		}
	}

	ev, err := engine.Evaluate(context.Background(), map[string]any{"number": "4345634566789888"}, true)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if ev.Result != "visa" || !ev.Stop || ev.RuleName() != "VisaRule" {
		t.Errorf("Evaluate() = %v, want VisaRule/visa", ev)
	}
	if len(ev.History) != 1 || ev.History[0].RuleName() != "AmexRule" {
		t.Errorf("History = %v, want [AmexRule]", ev.History)
	}

	// A fresh engine compiles the stored rules on start
	reloaded, err := rules.NewEngine(store)
	if err != nil {
		t.Fatalf("Failed to reload engine: %v", err)
	}
	ev, err = reloaded.Evaluate(context.Background(), map[string]any{"number": "375678956789765"}, false)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if ev.Result != "amex" {
		t.Errorf("Reloaded Evaluate() result = %v, want amex", ev.Result)
	}
}
