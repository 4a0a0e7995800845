package crawler

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
)

type hostDetector map[string]model.Platform

func (d hostDetector) DetectPlatform(rawURL string) (model.Platform, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	p, ok := d[strings.TrimPrefix(u.Hostname(), "www.")]
	return p, ok
}

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) Crawl(ctx context.Context, rawURL string, limit int) ([]model.CollectedListing, error) {
	args := m.Called(ctx, rawURL, limit)
	listings, _ := args.Get(0).([]model.CollectedListing)
	return listings, args.Error(1)
}

type mockReviewCrawler struct {
	mockCrawler
}

func (m *mockReviewCrawler) Reviews(ctx context.Context, productURL string, limit int) ([]model.Review, error) {
	args := m.Called(ctx, productURL, limit)
	reviews, _ := args.Get(0).([]model.Review)
	return reviews, args.Error(1)
}

var testDetector = hostDetector{
	"tiki.vn":   model.PlatformTiki,
	"lazada.vn": model.PlatformLazada,
}

func TestRouterCrawl_DispatchesByPlatform(t *testing.T) {
	ctx := context.Background()
	tiki := &mockCrawler{}
	tiki.On("Crawl", ctx, "https://tiki.vn/search?q=ca+phe", 5).
		Return([]model.CollectedListing{{Name: "Cà phê", URL: "https://tiki.vn/ca-phe-p1.html"}}, nil)

	r := NewRouter(testDetector, nil).Register(model.PlatformTiki, tiki)
	got, err := r.Crawl(ctx, "https://tiki.vn/search?q=ca+phe", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.PlatformTiki, got[0].Platform, "platform is filled in from the route")
	tiki.AssertExpectations(t)
}

func TestRouterCrawl_UnknownPlatform(t *testing.T) {
	r := NewRouter(testDetector, nil)
	_, err := r.Crawl(context.Background(), "https://example.com/x", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown platform")

	_, err = r.Crawl(context.Background(), "https://lazada.vn/catalog?q=x", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no crawler registered")
}

func TestRouterCrawl_BreakerOpensAfterFailures(t *testing.T) {
	ctx := context.Background()
	lazada := &mockCrawler{}
	lazada.On("Crawl", ctx, mock.Anything, 3).Return(nil, errors.New("blocked")).Times(2)

	r := NewRouter(testDetector, resilience.NewBreakers(2, time.Hour)).Register(model.PlatformLazada, lazada)
	for range 2 {
		_, err := r.Crawl(ctx, "https://lazada.vn/catalog?q=x", 3)
		require.Error(t, err)
	}

	_, err := r.Crawl(ctx, "https://lazada.vn/catalog?q=y", 3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	lazada.AssertNumberOfCalls(t, "Crawl", 2)
}

func TestRouterReviews(t *testing.T) {
	ctx := context.Background()
	tiki := &mockReviewCrawler{}
	tiki.On("Reviews", ctx, "https://tiki.vn/x-p9.html", 10).
		Return([]model.Review{{SourceReviewID: "1", Rating: 5}}, nil)

	r := NewRouter(testDetector, nil).
		Register(model.PlatformTiki, tiki).
		Register(model.PlatformLazada, &mockCrawler{})

	got, err := r.Reviews(ctx, "https://tiki.vn/x-p9.html", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = r.Reviews(ctx, "https://lazada.vn/products/x.html", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}
