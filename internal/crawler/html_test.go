package crawler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/model"
)

const jsonLDPage = `<html><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@graph":[
  {"@type":"WebSite","name":"Shop"},
  {"@type":"ItemList","itemListElement":[
    {"@type":"ListItem","position":1,"item":{"@type":"Product","name":"Organic Roasted Coffee","url":"/p/organic-1",
      "image":["https://cdn.example/1.jpg"],"brand":{"@type":"Brand","name":"Highlands"},
      "offers":{"@type":"Offer","price":"95000","priceCurrency":"VND"},
      "aggregateRating":{"ratingValue":4.2,"reviewCount":"87"}}},
    {"@type":"ListItem","position":2,"item":{"@type":"Product","name":"Instant Coffee","url":"/p/instant-2",
      "offers":[{"@type":"AggregateOffer","lowPrice":45000,"priceCurrency":"VND"}]}}
  ]}
]}
</script>
<script type="application/ld+json">{"@type":"Product","name":"Organic Roasted Coffee","url":"/p/organic-1"}</script>
</head><body></body></html>`

const cardPage = `<html><body>
<div class="product-card">
  <a href="/products/drip-bag-i1.html" title="Drip Bag Coffee"><img src="/img/1.jpg"></a>
  <div class="product-name">Drip Bag Coffee Arabica</div>
  <span class="price">120.000 ₫</span>
  <span class="rating">4,5</span>
  <span class="sold">Đã bán 2,3k</span>
</div>
<div class="product-card">
  <a href="https://www.lazada.vn/products/beans-i2.html" title="Coffee Beans 1kg"></a>
  <span class="price">Liên hệ</span>
</div>
<div class="product-card"><span class="price">10.000 ₫</span></div>
</body></html>`

func serveHTML(t *testing.T, page string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTMLCrawl_JSONLD(t *testing.T) {
	srv := serveHTML(t, jsonLDPage)
	c := NewHTMLCrawler(newTestFetcher(), model.PlatformAmazon)

	got, err := c.Crawl(context.Background(), srv.URL+"/s?k=coffee", 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "duplicate product urls collapse")

	first := got[0]
	assert.Equal(t, "Organic Roasted Coffee", first.Name)
	assert.Equal(t, srv.URL+"/p/organic-1", first.URL)
	assert.Equal(t, model.PlatformAmazon, first.Platform)
	assert.Equal(t, "Highlands", first.Brand)
	assert.Equal(t, []string{"https://cdn.example/1.jpg"}, first.ImageURLs)
	require.NotNil(t, first.Price)
	assert.InDelta(t, 95000, *first.Price, 1e-9)
	require.NotNil(t, first.Rating)
	assert.InDelta(t, 4.2, *first.Rating, 1e-9)
	require.NotNil(t, first.ReviewCount)
	assert.Equal(t, 87, *first.ReviewCount)
	assert.Equal(t, []string{"organic", "roasted", "coffee"}, first.Keywords)

	second := got[1]
	require.NotNil(t, second.Price)
	assert.InDelta(t, 45000, *second.Price, 1e-9, "lowPrice of an aggregate offer")
	assert.Nil(t, second.Rating)
}

func TestHTMLCrawl_ProductCards(t *testing.T) {
	srv := serveHTML(t, cardPage)
	c := NewHTMLCrawler(newTestFetcher(), model.PlatformLazada)

	got, err := c.Crawl(context.Background(), srv.URL+"/catalog/?q=coffee", 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "cards without a link are skipped")

	first := got[0]
	assert.Equal(t, "Drip Bag Coffee Arabica", first.Name)
	assert.Equal(t, srv.URL+"/products/drip-bag-i1.html", first.URL)
	require.NotNil(t, first.Price)
	assert.InDelta(t, 120000, *first.Price, 1e-9)
	assert.Equal(t, "VND", first.Currency)
	require.NotNil(t, first.Rating)
	assert.InDelta(t, 4.5, *first.Rating, 1e-9)
	require.NotNil(t, first.SalesCount)
	assert.Equal(t, 2300, *first.SalesCount)
	assert.Equal(t, []string{srv.URL + "/img/1.jpg"}, first.ImageURLs)

	second := got[1]
	assert.Equal(t, "Coffee Beans 1kg", second.Name, "falls back to the link title")
	assert.Equal(t, "https://www.lazada.vn/products/beans-i2.html", second.URL)
	assert.Nil(t, second.Price)
}

func TestHTMLCrawl_Limit(t *testing.T) {
	srv := serveHTML(t, cardPage)
	got, err := NewHTMLCrawler(newTestFetcher(), model.PlatformLazada).Crawl(context.Background(), srv.URL, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestHTMLCrawl_EmptyPage(t *testing.T) {
	srv := serveHTML(t, `<html><body><p>captcha</p></body></html>`)
	got, err := NewHTMLCrawler(newTestFetcher(), model.PlatformLazada).Crawl(context.Background(), srv.URL, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
