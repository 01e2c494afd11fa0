package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/liamcoop/simplerules/internal/config"
	"github.com/liamcoop/simplerules/internal/logger"
	"github.com/liamcoop/simplerules/internal/metrics"
	"github.com/liamcoop/simplerules/multitenantengine"
	"github.com/liamcoop/simplerules/rules"
)

type Server struct {
	db            *sql.DB
	engineManager *multitenantengine.MultiTenantEngineManager
	metrics       *metrics.RunMetrics
	log           *slog.Logger
	router        *chi.Mux
}

// ruleLister is implemented by stores that can list inactive definitions too
type ruleLister interface {
	List() ([]*rules.RuleDefinition, error)
}

// NewServerWithDB builds the server around an open database and loads every tenant
// with an active schema. Extra manager options, such as an in-memory store factory,
// are applied after the defaults. With a nil db no tenants are loaded.
func NewServerWithDB(ctx context.Context, db *sql.DB, cfg config.Server, opts ...multitenantengine.Option) (*Server, error) {
	ns := cfg.Metrics.Namespace
	runMetrics := metrics.NewRunMetrics(ns, prometheus.NewRegistry())
	runMetrics.RegisterCounter(ns, "log_errors_total", "Errors logged, before sampling", &logger.TotalErrors)
	runMetrics.RegisterCounter(ns, "log_warnings_total", "Warnings logged, before sampling", &logger.TotalWarnings)
	runMetrics.RegisterCounter(ns, "http_4xx_responses_total", "HTTP responses with a 4xx status", &logger.Total4xxErrors)
	runMetrics.RegisterCounter(ns, "http_5xx_responses_total", "HTTP responses with a 5xx status", &logger.Total5xxErrors)

	managerOpts := []multitenantengine.Option{
		multitenantengine.WithLogger(logger.New("tenants")),
		multitenantengine.WithEngineOptions(
			rules.WithEngineObserver(runMetrics),
			rules.WithCacheConfig(rules.CacheConfig{TTL: cfg.CacheTTL}),
			rules.WithEngineLogger(logger.New("engine")),
		),
	}
	engineManager := multitenantengine.NewMultiTenantEngineManager(db, append(managerOpts, opts...)...)

	s := &Server{
		db:            db,
		engineManager: engineManager,
		metrics:       runMetrics,
		log:           logger.New("http"),
	}

	if db != nil {
		if err := engineManager.LoadAllTenants(ctx); err != nil {
			return nil, fmt.Errorf("failed to load tenants: %w", err)
		}
	}
	s.log.Info("tenants loaded", "tenants", engineManager.ListTenants())

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Post("/schema", s.handleCreateSchema)
			r.Put("/schema", s.handleUpdateSchema)
			r.Get("/schema", s.handleGetSchema)

			r.Post("/rules", s.handleCreateRule)
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Put("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
			r.Post("/rules/{ruleId}/evaluate", s.handleEvaluateRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs every request and feeds the 4xx/5xx counters
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		logger.HTTPStatus(status)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		TenantsLoaded: len(s.engineManager.ListTenants()),
	}
	if s.db != nil {
		if err := s.db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId is required", nil)
		return
	}
	if req.Subject == nil {
		respondError(w, http.StatusBadRequest, "subject is required", nil)
		return
	}

	te, err := s.engineManager.Tenant(req.TenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	if err := multitenantengine.ValidateSubject(te.Schema, req.Subject); err != nil {
		respondError(w, http.StatusBadRequest, "invalid subject", err)
		return
	}

	start := time.Now()

	var ev *rules.Evaluation
	if len(req.Rules) > 0 {
		ev, err = te.Engine.EvaluateRules(r.Context(), req.Subject, req.Rules, req.WithHistory)
	} else {
		ev, err = te.Engine.Evaluate(r.Context(), req.Subject, req.WithHistory)
	}

	elapsed := time.Since(start)
	logger.RunFinished(req.TenantID, elapsed, err)

	if err != nil {
		respondError(w, evaluationStatus(err), "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Evaluation:     ev,
		EvaluationTime: elapsed.String(),
	})
}

// handleEvaluateRule applies one rule, active or not, outside of a run
func (s *Server) handleEvaluateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req struct {
		Subject map[string]any `json:"subject"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	te, err := s.engineManager.Tenant(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}
	if err := multitenantengine.ValidateSubject(te.Schema, req.Subject); err != nil {
		respondError(w, http.StatusBadRequest, "invalid subject", err)
		return
	}

	start := time.Now()
	ev, err := te.Engine.EvaluateRule(ruleID, req.Subject, nil)
	if err != nil {
		respondError(w, evaluationStatus(err), "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Evaluation:     ev,
		EvaluationTime: time.Since(start).String(),
	})
}

// evaluationStatus maps a failed run to an HTTP status
func evaluationStatus(err error) int {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `
		SELECT t.id, t.name, t.created_at, t.updated_at, COALESCE(s.version, 0)
		FROM tenants t
		LEFT JOIN schemas s ON s.tenant_id = t.id AND s.active = true
		ORDER BY t.created_at DESC
	`)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
		return
	}
	defer rows.Close()

	resp := TenantsListResponse{Tenants: []TenantResponse{}}
	for rows.Next() {
		var t TenantResponse
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &t.SchemaVersion); err != nil {
			respondError(w, http.StatusInternalServerError, "failed to scan tenant", err)
			return
		}
		_, err := s.engineManager.Tenant(t.ID)
		t.Loaded = err == nil
		resp.Tenants = append(resp.Tenants, t)
	}
	if err := rows.Err(); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list tenants", err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.Schema != nil {
		if err := multitenantengine.ValidateSchema(req.Schema); err != nil {
			respondError(w, http.StatusBadRequest, "invalid schema", err)
			return
		}
	}

	t := TenantResponse{Name: req.Name}
	err := s.db.QueryRowContext(r.Context(), `
		INSERT INTO tenants (name, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`, req.Name).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
		return
	}

	if req.Schema != nil {
		version, err := s.engineManager.UpdateTenantSchema(r.Context(), t.ID, req.Schema)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "tenant created but schema failed", err)
			return
		}
		t.SchemaVersion = version
		t.Loaded = true
	}

	s.log.Info("tenant created", "tenant", t.ID, "schema_version", t.SchemaVersion)
	respondJSON(w, http.StatusCreated, t)
}

// handleCreateSchema stores a tenant's first schema; later versions go through PUT
func (s *Server) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	if _, version, err := s.engineManager.ActiveSchema(r.Context(), tenantID); err == nil {
		respondError(w, http.StatusConflict, "schema already exists",
			fmt.Errorf("tenant %s has schema version %d, use PUT to replace it", tenantID, version))
		return
	} else if !errors.Is(err, multitenantengine.ErrTenantNotFound) {
		respondError(w, http.StatusInternalServerError, "failed to get schema", err)
		return
	}

	s.saveSchema(w, r, tenantID, http.StatusCreated)
}

func (s *Server) handleUpdateSchema(w http.ResponseWriter, r *http.Request) {
	s.saveSchema(w, r, chi.URLParam(r, "tenantId"), http.StatusOK)
}

func (s *Server) saveSchema(w http.ResponseWriter, r *http.Request, tenantID string, status int) {
	var req SchemaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := multitenantengine.ValidateSchema(req.Definition); err != nil {
		respondError(w, http.StatusBadRequest, "invalid schema", err)
		return
	}

	version, err := s.engineManager.UpdateTenantSchema(r.Context(), tenantID, req.Definition)
	if err != nil {
		var compileErr *rules.CompileError
		if errors.As(err, &compileErr) {
			respondError(w, http.StatusUnprocessableEntity, "schema breaks an active rule", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to update schema", err)
		return
	}

	resp := SchemaResponse{Version: version, Status: "active", Definition: req.Definition}
	if active, err := s.engineManager.Store(tenantID).ListActive(); err == nil {
		resp.RulesRecompiled = len(active)
	}
	respondJSON(w, status, resp)
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	schema, version, err := s.engineManager.ActiveSchema(r.Context(), tenantID)
	if errors.Is(err, multitenantengine.ErrTenantNotFound) {
		respondError(w, http.StatusNotFound, "schema not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get schema", err)
		return
	}

	respondJSON(w, http.StatusOK, SchemaResponse{Version: version, Status: "active", Definition: schema})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" || req.Expression == "" {
		respondError(w, http.StatusBadRequest, "name and expression are required", nil)
		return
	}

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	def := &rules.RuleDefinition{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Expression: req.Expression,
		Result:     req.Result,
		Position:   req.Position,
		Active:     req.Active == nil || *req.Active,
	}

	if err := engine.AddRule(def); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, def)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	if _, err := s.engineManager.Tenant(tenantID); err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	store := s.engineManager.Store(tenantID)

	var defs []*rules.RuleDefinition
	var err error
	if lister, ok := store.(ruleLister); ok {
		defs, err = lister.List()
	} else {
		defs, err = store.ListActive()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if defs == nil {
		defs = []*rules.RuleDefinition{}
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: defs})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	def, err := s.engineManager.Store(tenantID).Get(ruleID)
	if errors.Is(err, rules.ErrRuleNotFound) {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rule", err)
		return
	}

	respondJSON(w, http.StatusOK, def)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	existing, err := s.engineManager.Store(tenantID).Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	def := *existing
	if req.Name != nil {
		def.Name = *req.Name
	}
	if req.Expression != nil {
		def.Expression = *req.Expression
	}
	if req.Result != nil {
		def.Result = req.Result
	}
	if req.Position != nil {
		def.Position = *req.Position
	}
	if req.Active != nil {
		def.Active = *req.Active
	}

	if err := engine.UpdateRule(&def); err != nil {
		if errors.Is(err, rules.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, &def)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	engine, err := s.engineManager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	if err := engine.DeleteRule(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "status", status, "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}
