package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/model"
)

const tikiSearchJSON = `{"data":[
 {"id":101,"name":"Cà phê rang xay nguyên chất","url_path":"ca-phe-rang-xay-p101.html?spid=1","price":95000,
  "rating_average":4.6,"review_count":230,"brand_name":"Trung Nguyên","thumbnail_url":"https://salt.tikicdn.com/a.jpg",
  "quantity_sold":{"text":"Đã bán 1,2k","value":1200},
  "current_seller":{"name":"Trung Nguyên Official","is_best_store":false,"store_level":"OFFICIAL_STORE"}},
 {"id":102,"name":"","url_path":"x-p102.html"},
 {"id":103,"name":"Cà phê hòa tan","url_key":"ca-phe-hoa-tan","price":0,"review_count":0,
  "quantity_sold":{"text":"Đã bán 35"}}
]}`

func newTikiServer(t *testing.T, handler http.HandlerFunc) (*TikiCrawler, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewTikiCrawler(newTestFetcher(), srv.URL+"/api/v2"), srv
}

func TestTikiCrawl_Search(t *testing.T) {
	c, _ := newTikiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/products", r.URL.Path)
		assert.Equal(t, "cà phê", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "https://tiki.vn/", r.Header.Get("Referer"))
		w.Write([]byte(tikiSearchJSON)) //nolint:errcheck
	})

	got, err := c.Crawl(context.Background(), "https://tiki.vn/search?q=c%C3%A0+ph%C3%AA", 5)
	require.NoError(t, err)
	require.Len(t, got, 2, "nameless products are skipped")

	first := got[0]
	assert.Equal(t, "Cà phê rang xay nguyên chất", first.Name)
	assert.Equal(t, "https://tiki.vn/ca-phe-rang-xay-p101.html?spid=1", first.URL)
	assert.Equal(t, model.PlatformTiki, first.Platform)
	require.NotNil(t, first.Price)
	assert.InDelta(t, 95000, *first.Price, 1e-9)
	require.NotNil(t, first.Rating)
	assert.InDelta(t, 4.6, *first.Rating, 1e-9)
	assert.Equal(t, 230, *first.ReviewCount)
	assert.Equal(t, 1200, *first.SalesCount)
	assert.Equal(t, "Trung Nguyên", first.Brand)
	assert.True(t, *first.IsMall)
	assert.True(t, *first.IsVerifiedSeller)
	assert.Equal(t, "101", first.SourceID)
	assert.Contains(t, first.Keywords, "phê")

	second := got[1]
	assert.Equal(t, "https://tiki.vn/ca-phe-hoa-tan-p103.html", second.URL)
	assert.Nil(t, second.Price)
	assert.Nil(t, second.Rating)
	require.NotNil(t, second.SalesCount)
	assert.Equal(t, 35, *second.SalesCount)
}

func TestTikiCrawl_Limit(t *testing.T) {
	c, _ := newTikiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(tikiSearchJSON)) //nolint:errcheck
	})
	got, err := c.Crawl(context.Background(), "https://tiki.vn/search?q=x", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestTikiCrawl_ProductPage(t *testing.T) {
	c, _ := newTikiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/products/555", r.URL.Path)
		w.Write([]byte(`{"id":555,"name":"Máy xay cà phê","url_path":"may-xay-p555.html","price":1290000}`)) //nolint:errcheck
	})
	got, err := c.Crawl(context.Background(), "https://tiki.vn/may-xay-p555.html?spid=9", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Máy xay cà phê", got[0].Name)
}

func TestTikiCrawl_Errors(t *testing.T) {
	c, _ := newTikiServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`)) //nolint:errcheck
	})
	_, err := c.Crawl(context.Background(), "https://tiki.vn/search?q=x", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")

	_, err = c.Crawl(context.Background(), "https://tiki.vn/khuyen-mai", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported url")
}

func TestTikiReviews_Paginates(t *testing.T) {
	pages := map[string]string{
		"1": `{"data":[{"id":1,"rating":5,"content":"Rất thơm","created_by":{"purchased":true},"created_at":1700000000},
		               {"id":2,"rating":9,"content":"","title":"Ngon"}],"paging":{"current_page":1,"last_page":2}}`,
		"2": `{"data":[{"id":3,"rating":0,"content":"Tệ"}],"paging":{"current_page":2,"last_page":2}}`,
	}
	c, _ := newTikiServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/reviews", r.URL.Path)
		assert.Equal(t, "101", r.URL.Query().Get("product_id"))
		w.Write([]byte(pages[r.URL.Query().Get("page")])) //nolint:errcheck
	})

	got, err := c.Reviews(context.Background(), "https://tiki.vn/ca-phe-p101.html", 50)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "1", got[0].SourceReviewID)
	assert.True(t, got[0].IsVerifiedPurchase)
	assert.Equal(t, int64(1700000000), got[0].CollectedAt.Unix())
	assert.Equal(t, 5, got[1].Rating, "ratings are clamped to 5")
	assert.Equal(t, "Ngon", got[1].Content, "title stands in for empty content")
	assert.Equal(t, 1, got[2].Rating, "ratings are clamped to 1")
	assert.Equal(t, model.PlatformTiki, got[2].Platform)
}

func TestTikiReviews_StopsAtLimit(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTikiServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":[{"id":1,"rating":4,"content":"a"},{"id":2,"rating":4,"content":"b"}],"paging":{"last_page":5}}`)) //nolint:errcheck
	})
	got, err := c.Reviews(context.Background(), "https://tiki.vn/x-p7.html", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTikiReviews_NoProductID(t *testing.T) {
	c := NewTikiCrawler(newTestFetcher(), "http://unused")
	_, err := c.Reviews(context.Background(), "https://tiki.vn/khuyen-mai", 5)
	require.Error(t, err)
}
