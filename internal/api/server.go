// Package api exposes discovery runs, projects, reviews, and trust scores
// over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/analysis"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/store"
	"github.com/sells-group/product-scout/internal/trust"
)

// Discoverer runs the discovery pipeline.
type Discoverer interface {
	Run(ctx context.Context, req model.DiscoveryRequest) *model.DiscoveryReport
}

// TrustService serves and recomputes trust scores.
type TrustService interface {
	Get(ctx context.Context, productID string) (*model.TrustScoreRecord, error)
	Recompute(ctx context.Context, productID string) (*model.TrustScoreRecord, error)
	ListByScore(ctx context.Context, filter store.ProductFilter) ([]model.RankedProduct, error)
}

// ReviewAnalyzer ingests and classifies reviews.
type ReviewAnalyzer interface {
	IngestReviews(ctx context.Context, productID string, reviews []model.Review) (int, error)
	AnalyzeProduct(ctx context.Context, productID string) (*analysis.Result, error)
}

// Catalog is the project and run persistence the API reads directly.
type Catalog interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error)
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.DiscoveryRun, error)
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Pipeline   Discoverer
	Trust      TrustService
	Dispatcher trust.Dispatcher
	Analyzer   ReviewAnalyzer // nil disables the review routes
	Catalog    Catalog
}

// Server holds the handlers.
type Server struct {
	deps             Deps
	discoveryTimeout time.Duration
}

// New creates a Server. Zero discoveryTimeout means 10 minutes.
func New(deps Deps, discoveryTimeout time.Duration) *Server {
	if discoveryTimeout <= 0 {
		discoveryTimeout = 10 * time.Minute
	}
	return &Server{deps: deps, discoveryTimeout: discoveryTimeout}
}

// Routes builds the chi router.
func (s *Server) Routes(corsOrigins []string) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/discovery", s.discover)
		r.Get("/runs/{runID}", s.getRun)

		r.Post("/projects", s.createProject)
		r.Get("/projects/{projectID}", s.getProject)
		r.Get("/projects/{projectID}/runs", s.listRuns)
		r.Get("/projects/{projectID}/products/by-trust-score", s.listByTrustScore)

		r.Get("/products/{productID}", s.getProduct)
		r.Get("/products/{productID}/trust-score", s.getTrustScore)
		r.Post("/products/{productID}/trust-score/recompute", s.recomputeTrustScore)
		if s.deps.Analyzer != nil {
			r.Post("/products/{productID}/reviews", s.ingestReviews)
			r.Post("/products/{productID}/reviews/analyze", s.analyzeReviews)
		}
	})
	return r
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	var req model.DiscoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.discoveryTimeout)
	defer cancel()

	report := s.deps.Pipeline.Run(ctx, req)
	status := http.StatusOK
	if report.Status != model.ReportSuccess {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Catalog.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, r, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var p model.Project
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p.Name = strings.TrimSpace(p.Name)
	p.TargetProductName = strings.TrimSpace(p.TargetProductName)
	if p.Name == "" || p.TargetProductName == "" {
		writeError(w, http.StatusBadRequest, "name and target_product_name are required")
		return
	}
	p.ID = ""
	if err := s.deps.Catalog.CreateProject(r.Context(), &p); err != nil {
		writeStoreError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeStoreError(w, r, err, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := pageParams(w, q.Get("limit"), q.Get("offset"))
	if !ok {
		return
	}
	runs, err := s.deps.Catalog.ListRuns(r.Context(), store.RunFilter{
		ProjectID: chi.URLParam(r, "projectID"),
		Status:    model.RunStatus(q.Get("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		writeStoreError(w, r, err, "")
		return
	}
	if runs == nil {
		runs = []model.DiscoveryRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) listByTrustScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ProductFilter{ProjectID: chi.URLParam(r, "projectID")}
	var ok bool
	if filter.MinScore, ok = floatParam(w, "min", q.Get("min")); !ok {
		return
	}
	if filter.MaxScore, ok = floatParam(w, "max", q.Get("max")); !ok {
		return
	}
	if filter.Limit, filter.Offset, ok = pageParams(w, q.Get("limit"), q.Get("offset")); !ok {
		return
	}
	if filter.MinScore != nil && filter.MaxScore != nil && *filter.MinScore > *filter.MaxScore {
		writeError(w, http.StatusBadRequest, "min must not exceed max")
		return
	}

	products, err := s.deps.Trust.ListByScore(r.Context(), filter)
	if err != nil {
		writeStoreError(w, r, err, "")
		return
	}
	if products == nil {
		products = []model.RankedProduct{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Catalog.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeStoreError(w, r, err, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getTrustScore(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Trust.Get(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeStoreError(w, r, err, "trust score not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) recomputeTrustScore(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")
	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))

	if async && s.deps.Dispatcher != nil {
		if _, err := s.deps.Catalog.GetProduct(r.Context(), productID); err != nil {
			writeStoreError(w, r, err, "product not found")
			return
		}
		if err := s.deps.Dispatcher.Dispatch(r.Context(), productID); err != nil {
			zap.L().Error("api: dispatch recompute failed", zap.String("product_id", productID), zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "recompute could not be scheduled")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "product_id": productID})
		return
	}

	rec, err := s.deps.Trust.Recompute(r.Context(), productID)
	if err != nil {
		writeStoreError(w, r, err, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type ingestRequest struct {
	Reviews []model.Review `json:"reviews"`
}

func (s *Server) ingestReviews(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Reviews) == 0 {
		writeError(w, http.StatusBadRequest, "reviews are required")
		return
	}
	n, err := s.deps.Analyzer.IngestReviews(r.Context(), chi.URLParam(r, "productID"), req.Reviews)
	if err != nil {
		writeStoreError(w, r, err, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"ingested": n})
}

func (s *Server) analyzeReviews(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Analyzer.AnalyzeProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		writeStoreError(w, r, err, "product not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func floatParam(w http.ResponseWriter, name, raw string) (*float64, bool) {
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return nil, false
	}
	return &v, true
}

func pageParams(w http.ResponseWriter, rawLimit, rawOffset string) (limit, offset int, ok bool) {
	var err error
	if rawLimit != "" {
		if limit, err = strconv.Atoi(rawLimit); err != nil || limit < 0 || limit > 1000 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
	}
	if rawOffset != "" {
		if offset, err = strconv.Atoi(rawOffset); err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
	}
	return limit, offset, true
}

// writeStoreError maps not-found errors to 404 and hides everything else
// behind a 500.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg string) {
	if store.IsNotFound(err) && notFoundMsg != "" {
		writeError(w, http.StatusNotFound, notFoundMsg)
		return
	}
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}
