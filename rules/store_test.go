package rules

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRuleStoreInterfaceExists(t *testing.T) {
	var _ RuleStore = (*InMemoryRuleStore)(nil)
	var _ RuleStore = (*PostgresRuleStore)(nil)
}

func TestInMemoryRuleStoreAdd(t *testing.T) {
	store := NewInMemoryRuleStore()

	def := &RuleDefinition{ID: "r1", Name: "Rule 1", Expression: `true`, Active: true}
	if err := store.Add(def); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if def.CreatedAt.IsZero() || def.UpdatedAt.IsZero() {
		t.Error("Add() should stamp CreatedAt and UpdatedAt")
	}

	got, err := store.Get("r1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "Rule 1" {
		t.Errorf("Get() name = %q, want %q", got.Name, "Rule 1")
	}
}

func TestInMemoryRuleStoreAddDuplicate(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Add(&RuleDefinition{ID: "r1", Expression: `true`}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	err := store.Add(&RuleDefinition{ID: "r1", Expression: `false`})
	if !errors.Is(err, ErrRuleExists) {
		t.Errorf("Add() duplicate error = %v, want ErrRuleExists", err)
	}
}

func TestInMemoryRuleStoreGetNotFound(t *testing.T) {
	store := NewInMemoryRuleStore()

	_, err := store.Get("missing")
	if !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreListActiveOrder(t *testing.T) {
	store := NewInMemoryRuleStore()

	defs := []*RuleDefinition{
		{ID: "c", Position: 2, Active: true},
		{ID: "a", Position: 0, Active: true},
		{ID: "off", Position: 1, Active: false},
		{ID: "b", Position: 1, Active: true},
	}
	for _, def := range defs {
		if err := store.Add(def); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(active) != len(want) {
		t.Fatalf("ListActive() returned %d rules, want %d", len(active), len(want))
	}
	for i, def := range active {
		if def.ID != want[i] {
			t.Errorf("ListActive()[%d] = %s, want %s", i, def.ID, want[i])
		}
	}
}

func TestSortDefinitionsTieBreak(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	defs := []*RuleDefinition{
		{ID: "late", Position: 0, CreatedAt: base.Add(time.Minute)},
		{ID: "z", Position: 0, CreatedAt: base},
		{ID: "y", Position: 0, CreatedAt: base},
		{ID: "first", Position: -1, CreatedAt: base.Add(time.Hour)},
	}

	SortDefinitions(defs)

	want := []string{"first", "y", "z", "late"}
	for i, def := range defs {
		if def.ID != want[i] {
			t.Errorf("SortDefinitions()[%d] = %s, want %s", i, def.ID, want[i])
		}
	}
}

func TestInMemoryRuleStoreUpdate(t *testing.T) {
	store := NewInMemoryRuleStore()

	original := &RuleDefinition{ID: "r1", Expression: `true`, Active: true}
	if err := store.Add(original); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	created := original.CreatedAt

	updated := &RuleDefinition{ID: "r1", Expression: `false`, Active: false}
	if err := store.Update(updated); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	got, err := store.Get("r1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Expression != `false` || got.Active {
		t.Errorf("Get() = %+v, want updated definition", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("ListActive() returned %d rules, want 0", len(active))
	}

	if err := store.Update(&RuleDefinition{ID: "missing"}); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Update() error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreDelete(t *testing.T) {
	store := NewInMemoryRuleStore()

	if err := store.Add(&RuleDefinition{ID: "r1", Expression: `true`}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := store.Delete("r1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get("r1"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrRuleNotFound", err)
	}
	if err := store.Delete("r1"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("Delete() error = %v, want ErrRuleNotFound", err)
	}
}

func TestInMemoryRuleStoreConcurrency(t *testing.T) {
	store := NewInMemoryRuleStore()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = store.Add(&RuleDefinition{ID: string(rune('a' + i%26)), Position: i, Active: true})
		}(i)
		go func() {
			defer wg.Done()
			_, _ = store.ListActive()
		}()
	}
	wg.Wait()

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive() failed: %v", err)
	}
	if len(active) != 26 {
		t.Errorf("ListActive() returned %d rules, want 26", len(active))
	}
}
