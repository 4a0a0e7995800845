package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/discovery"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/store"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

// --- LLM Mock ---

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func textResp(s string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{Content: []anthropic.ContentBlock{{Type: "text", Text: s}}}
}

// onStage matches a request by a phrase of its system prompt.
func onStage(marker string) any {
	return mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) > 0 && strings.Contains(req.System[0].Text, marker)
	})
}

const (
	stageIntent   = "search plan"
	stageCriteria = "prose into a JSON filter"
	stageValidate = "audit a machine-compiled"
	stageRank     = "merchandiser"
)

// --- Crawler Mock ---

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) Crawl(ctx context.Context, rawURL string, limit int) ([]model.CollectedListing, error) {
	args := m.Called(ctx, rawURL, limit)
	listings, _ := args.Get(0).([]model.CollectedListing)
	return listings, args.Error(1)
}

// --- Discoverer Mock ---

type mockDiscoverer struct {
	mock.Mock
}

func (m *mockDiscoverer) Discover(ctx context.Context, req discovery.Request) (*discovery.Result, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*discovery.Result), args.Error(1)
}

// --- Store ---

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProject(t *testing.T, st store.Store) *model.Project {
	t.Helper()
	p := &model.Project{Name: "Cafe", TargetProductName: "cà phê hạt", TargetCategory: "coffee"}
	require.NoError(t, st.CreateProject(context.Background(), p))
	return p
}

func ptr[T any](v T) *T { return &v }

func listing(name, url string, rating, price float64) model.CollectedListing {
	return model.CollectedListing{
		Name:     name,
		URL:      url,
		Platform: model.PlatformTiki,
		Rating:   ptr(rating),
		Price:    ptr(price),
		Currency: "VND",
	}
}
