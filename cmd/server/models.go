package main

import (
	"time"

	"github.com/liamcoop/simplerules/multitenantengine"
	"github.com/liamcoop/simplerules/rules"
)

// CreateTenantRequest is the body of POST /api/v1/tenants.
// Schema is optional; without it the tenant has no engine until a schema is posted.
type CreateTenantRequest struct {
	Name   string                   `json:"name"`
	Schema multitenantengine.Schema `json:"schema,omitempty"`
}

// TenantResponse represents a tenant in API responses
type TenantResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SchemaVersion int       `json:"schemaVersion,omitempty"`
	Loaded        bool      `json:"loaded"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TenantsListResponse represents the response for listing tenants
type TenantsListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// SchemaRequest is the body of the schema create and update endpoints
type SchemaRequest struct {
	Definition multitenantengine.Schema `json:"definition"`
}

// SchemaResponse represents a schema in API responses
type SchemaResponse struct {
	Version         int                      `json:"version"`
	Status          string                   `json:"status"`
	Definition      multitenantengine.Schema `json:"definition,omitempty"`
	RulesRecompiled int                      `json:"rulesRecompiled,omitempty"`
}

// CreateRuleRequest is the body of POST /rules. Active defaults to true.
type CreateRuleRequest struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Result     any    `json:"result,omitempty"`
	Position   int    `json:"position"`
	Active     *bool  `json:"active,omitempty"`
}

// UpdateRuleRequest is the body of PUT /rules/{ruleId}. Omitted fields keep their stored value.
type UpdateRuleRequest struct {
	Name       *string `json:"name,omitempty"`
	Expression *string `json:"expression,omitempty"`
	Result     any     `json:"result,omitempty"`
	Position   *int    `json:"position,omitempty"`
	Active     *bool   `json:"active,omitempty"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.RuleDefinition `json:"rules"`
}

// EvaluateRequest runs a tenant's rules against a subject. Without Rules every
// active rule runs in stored order; with Rules only those run, in the given order.
type EvaluateRequest struct {
	TenantID    string         `json:"tenantId"`
	Subject     map[string]any `json:"subject"`
	Rules       []string       `json:"rules,omitempty"`
	WithHistory bool           `json:"withHistory,omitempty"`
}

// EvaluateResponse carries the final evaluation, null when no rule ran
type EvaluateResponse struct {
	Evaluation     *rules.Evaluation `json:"evaluation"`
	EvaluationTime string            `json:"evaluationTime"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string `json:"status"`
	TenantsLoaded int    `json:"tenantsLoaded"`
	Error         string `json:"error,omitempty"`
}
