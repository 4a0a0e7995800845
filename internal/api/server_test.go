package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/analysis"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/store"
)

type mockPipeline struct{ mock.Mock }

func (m *mockPipeline) Run(ctx context.Context, req model.DiscoveryRequest) *model.DiscoveryReport {
	return m.Called(ctx, req).Get(0).(*model.DiscoveryReport)
}

type mockTrust struct{ mock.Mock }

func (m *mockTrust) Get(ctx context.Context, productID string) (*model.TrustScoreRecord, error) {
	args := m.Called(ctx, productID)
	rec, _ := args.Get(0).(*model.TrustScoreRecord)
	return rec, args.Error(1)
}

func (m *mockTrust) Recompute(ctx context.Context, productID string) (*model.TrustScoreRecord, error) {
	args := m.Called(ctx, productID)
	rec, _ := args.Get(0).(*model.TrustScoreRecord)
	return rec, args.Error(1)
}

func (m *mockTrust) ListByScore(ctx context.Context, filter store.ProductFilter) ([]model.RankedProduct, error) {
	args := m.Called(ctx, filter)
	out, _ := args.Get(0).([]model.RankedProduct)
	return out, args.Error(1)
}

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Dispatch(ctx context.Context, productID string) error {
	return m.Called(ctx, productID).Error(0)
}

type mockAnalyzer struct{ mock.Mock }

func (m *mockAnalyzer) IngestReviews(ctx context.Context, productID string, reviews []model.Review) (int, error) {
	args := m.Called(ctx, productID, reviews)
	return args.Int(0), args.Error(1)
}

func (m *mockAnalyzer) AnalyzeProduct(ctx context.Context, productID string) (*analysis.Result, error) {
	args := m.Called(ctx, productID)
	res, _ := args.Get(0).(*analysis.Result)
	return res, args.Error(1)
}

type mockCatalog struct{ mock.Mock }

func (m *mockCatalog) CreateProject(ctx context.Context, p *model.Project) error {
	args := m.Called(ctx, p)
	if args.Error(0) == nil {
		p.ID = "proj-new"
	}
	return args.Error(0)
}

func (m *mockCatalog) GetProject(ctx context.Context, id string) (*model.Project, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Project)
	return p, args.Error(1)
}

func (m *mockCatalog) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*model.Product)
	return p, args.Error(1)
}

func (m *mockCatalog) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	args := m.Called(ctx, runID)
	r, _ := args.Get(0).(*model.DiscoveryRun)
	return r, args.Error(1)
}

func (m *mockCatalog) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.DiscoveryRun, error) {
	args := m.Called(ctx, filter)
	out, _ := args.Get(0).([]model.DiscoveryRun)
	return out, args.Error(1)
}

type harness struct {
	pipeline   *mockPipeline
	trust      *mockTrust
	dispatcher *mockDispatcher
	analyzer   *mockAnalyzer
	catalog    *mockCatalog
	handler    http.Handler
}

func newHarness() *harness {
	h := &harness{
		pipeline:   new(mockPipeline),
		trust:      new(mockTrust),
		dispatcher: new(mockDispatcher),
		analyzer:   new(mockAnalyzer),
		catalog:    new(mockCatalog),
	}
	srv := New(Deps{
		Pipeline:   h.pipeline,
		Trust:      h.trust,
		Dispatcher: h.dispatcher,
		Analyzer:   h.analyzer,
		Catalog:    h.catalog,
	}, 0)
	h.handler = srv.Routes([]string{"https://app.example.com"})
	return h
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func notFound(what string) error {
	return eris.Wrapf(store.ErrNotFound, "get %s", what)
}

func TestHealth(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestDiscover_Success(t *testing.T) {
	h := newHarness()
	h.pipeline.On("Run", mock.Anything, model.DiscoveryRequest{
		ProjectID: "p1", UserQuery: "ca phe hat", MaxProducts: ptr(5),
	}).Return(&model.DiscoveryReport{
		Status:             model.ReportSuccess,
		Message:            "Imported 2 products",
		ProductsFound:      7,
		ProductsFiltered:   3,
		ProductsImported:   2,
		ImportedProductIDs: []string{"a", "b"},
	})

	rec := h.do(http.MethodPost, "/api/v1/discovery", `{"project_id":"p1","user_query":"ca phe hat","max_products":5}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(2), body["products_imported"])
	assert.Equal(t, []any{"a", "b"}, body["imported_product_ids"])
}

func TestDiscover_TypedFailure(t *testing.T) {
	h := newHarness()
	h.pipeline.On("Run", mock.Anything, mock.Anything).Return(&model.DiscoveryReport{
		Status:             model.ReportError,
		Message:            "no candidate links",
		ErrorType:          model.ErrNoCandidatesFound,
		ImportedProductIDs: []string{},
	})

	rec := h.do(http.MethodPost, "/api/v1/discovery", `{"project_id":"p1","user_query":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), string(model.ErrNoCandidatesFound))
}

func TestDiscover_BadBody(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodPost, "/api/v1/discovery", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	h.pipeline.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestGetTrustScore(t *testing.T) {
	h := newHarness()
	h.trust.On("Get", mock.Anything, "prod-1").Return(&model.TrustScoreRecord{
		ProductID:  "prod-1",
		TrustScore: 75.86,
		Metadata: model.TrustMetadata{
			FormulaVersion: "1.0+deadbeef",
			Breakdown: model.TrustBreakdown{
				Spam: model.ComponentBreakdown{Factor: 0.95, Weight: 0.3, Contribution: 28.5},
			},
		},
	}, nil)
	h.trust.On("Get", mock.Anything, "prod-2").Return(nil, notFound("prod-2"))

	rec := h.do(http.MethodGet, "/api/v1/products/prod-1/trust-score", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.TrustScoreRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 75.86, got.TrustScore)
	assert.Equal(t, 28.5, got.Metadata.Breakdown.Spam.Contribution)

	rec = h.do(http.MethodGet, "/api/v1/products/prod-2/trust-score", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecompute_Sync(t *testing.T) {
	h := newHarness()
	h.trust.On("Recompute", mock.Anything, "prod-1").Return(&model.TrustScoreRecord{ProductID: "prod-1", TrustScore: 50}, nil)

	rec := h.do(http.MethodPost, "/api/v1/products/prod-1/trust-score/recompute", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"trust_score":50`)
	h.dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestRecompute_Async(t *testing.T) {
	h := newHarness()
	h.catalog.On("GetProduct", mock.Anything, "prod-1").Return(&model.Product{ID: "prod-1"}, nil)
	h.dispatcher.On("Dispatch", mock.Anything, "prod-1").Return(nil)

	rec := h.do(http.MethodPost, "/api/v1/products/prod-1/trust-score/recompute?async=true", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"accepted","product_id":"prod-1"}`, rec.Body.String())
	h.trust.AssertNotCalled(t, "Recompute", mock.Anything, mock.Anything)
}

func TestRecompute_AsyncUnknownProduct(t *testing.T) {
	h := newHarness()
	h.catalog.On("GetProduct", mock.Anything, "nope").Return(nil, notFound("nope"))

	rec := h.do(http.MethodPost, "/api/v1/products/nope/trust-score/recompute?async=1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecompute_AsyncDispatchFails(t *testing.T) {
	h := newHarness()
	h.catalog.On("GetProduct", mock.Anything, "prod-1").Return(&model.Product{ID: "prod-1"}, nil)
	h.dispatcher.On("Dispatch", mock.Anything, "prod-1").Return(assert.AnError)

	rec := h.do(http.MethodPost, "/api/v1/products/prod-1/trust-score/recompute?async=true", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecompute_InternalErrorHidden(t *testing.T) {
	h := newHarness()
	h.trust.On("Recompute", mock.Anything, "prod-1").Return(nil, eris.New("pq: connection reset by peer"))

	rec := h.do(http.MethodPost, "/api/v1/products/prod-1/trust-score/recompute", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection reset")
}

func TestListByTrustScore(t *testing.T) {
	h := newHarness()
	h.trust.On("ListByScore", mock.Anything, store.ProductFilter{
		ProjectID: "proj-1", MinScore: ptr(60.0), Limit: 10, Offset: 5,
	}).Return([]model.RankedProduct{
		{Product: model.Product{ID: "b", TrustScore: ptr(88.0)}},
		{Product: model.Product{ID: "a", TrustScore: ptr(61.5)}},
	}, nil)

	rec := h.do(http.MethodGet, "/api/v1/projects/proj-1/products/by-trust-score?min=60&limit=10&offset=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.RankedProduct
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
}

func TestListByTrustScore_Empty(t *testing.T) {
	h := newHarness()
	h.trust.On("ListByScore", mock.Anything, mock.Anything).Return(nil, nil)

	rec := h.do(http.MethodGet, "/api/v1/projects/proj-1/products/by-trust-score", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListByTrustScore_BadParams(t *testing.T) {
	h := newHarness()
	for _, q := range []string{"min=abc", "max=x", "limit=-1", "offset=z", "min=80&max=20", "limit=5000"} {
		rec := h.do(http.MethodGet, "/api/v1/projects/proj-1/products/by-trust-score?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	h.trust.AssertNotCalled(t, "ListByScore", mock.Anything, mock.Anything)
}

func TestIngestReviews(t *testing.T) {
	h := newHarness()
	h.analyzer.On("IngestReviews", mock.Anything, "prod-1", mock.MatchedBy(func(rs []model.Review) bool {
		return len(rs) == 2 && rs[0].Content == "thom" && rs[1].IsVerifiedPurchase
	})).Return(2, nil)

	rec := h.do(http.MethodPost, "/api/v1/products/prod-1/reviews",
		`{"reviews":[{"source_review_id":"1","rating":5,"content":"thom"},{"source_review_id":"2","rating":3,"content":"tam","is_verified_purchase":true}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ingested":2}`, rec.Body.String())
}

func TestIngestReviews_Empty(t *testing.T) {
	h := newHarness()
	rec := h.do(http.MethodPost, "/api/v1/products/prod-1/reviews", `{"reviews":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeReviews(t *testing.T) {
	h := newHarness()
	h.analyzer.On("AnalyzeProduct", mock.Anything, "prod-1").Return(&analysis.Result{
		ProductID: "prod-1", Pending: 3, Analyzed: 3,
		TrustScore: &model.TrustScoreRecord{ProductID: "prod-1", TrustScore: 71.2},
	}, nil)
	h.analyzer.On("AnalyzeProduct", mock.Anything, "nope").Return(nil, notFound("nope"))

	rec := h.do(http.MethodPost, "/api/v1/products/prod-1/reviews/analyze", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"analyzed":3`)

	rec = h.do(http.MethodPost, "/api/v1/products/nope/reviews/analyze", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProjects(t *testing.T) {
	h := newHarness()
	h.catalog.On("CreateProject", mock.Anything, mock.MatchedBy(func(p *model.Project) bool {
		return p.Name == "Coffee" && p.TargetProductName == "ca phe"
	})).Return(nil)
	h.catalog.On("GetProject", mock.Anything, "proj-new").Return(&model.Project{ID: "proj-new", Name: "Coffee"}, nil)
	h.catalog.On("GetProject", mock.Anything, "missing").Return(nil, notFound("missing"))

	rec := h.do(http.MethodPost, "/api/v1/projects", `{"name":" Coffee ","target_product_name":"ca phe"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"proj-new"`)

	rec = h.do(http.MethodPost, "/api/v1/projects", `{"name":"Coffee"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/projects/proj-new", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/projects/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuns(t *testing.T) {
	h := newHarness()
	h.catalog.On("GetRun", mock.Anything, "run-1").Return(&model.DiscoveryRun{ID: "run-1", Status: model.RunStatusComplete}, nil)
	h.catalog.On("ListRuns", mock.Anything, store.RunFilter{ProjectID: "proj-1", Status: model.RunStatusFailed}).
		Return([]model.DiscoveryRun{{ID: "run-2", Status: model.RunStatusFailed}}, nil)

	rec := h.do(http.MethodGet, "/api/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run-1"`)

	rec = h.do(http.MethodGet, "/api/v1/projects/proj-1/runs?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"run-2"`)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/discovery", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func ptr[T any](v T) *T { return &v }

func TestReviewRoutes_DisabledWithoutAnalyzer(t *testing.T) {
	srv := New(Deps{
		Pipeline:   new(mockPipeline),
		Trust:      new(mockTrust),
		Dispatcher: new(mockDispatcher),
		Catalog:    new(mockCatalog),
	}, 0)
	handler := srv.Routes(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/products/prod-1/reviews", strings.NewReader(`{"reviews":[]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
