// Package crawler fetches marketplace pages and APIs and maps them onto
// CollectedListing and Review records.
package crawler

import (
	"context"
	"net/url"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/resilience"
)

// Crawler collects listings from one URL.
type Crawler interface {
	Crawl(ctx context.Context, rawURL string, limit int) ([]model.CollectedListing, error)
}

// ReviewSource pulls customer reviews for a product page.
type ReviewSource interface {
	Reviews(ctx context.Context, productURL string, limit int) ([]model.Review, error)
}

// PlatformDetector maps a URL to its marketplace.
type PlatformDetector interface {
	DetectPlatform(rawURL string) (model.Platform, bool)
}

// Router dispatches to the crawler registered for the URL's platform and
// trips a per-host circuit breaker on repeated failures.
type Router struct {
	detector PlatformDetector
	breakers *resilience.Breakers
	crawlers map[model.Platform]Crawler
	reviews  map[model.Platform]ReviewSource
}

// NewRouter creates a Router. breakers may be nil.
func NewRouter(detector PlatformDetector, breakers *resilience.Breakers) *Router {
	return &Router{
		detector: detector,
		breakers: breakers,
		crawlers: make(map[model.Platform]Crawler),
		reviews:  make(map[model.Platform]ReviewSource),
	}
}

// Register binds c to platform p. If c also implements ReviewSource it is
// used for review collection too.
func (r *Router) Register(p model.Platform, c Crawler) *Router {
	r.crawlers[p] = c
	if rs, ok := c.(ReviewSource); ok {
		r.reviews[p] = rs
	}
	return r
}

// Crawl implements Crawler.
func (r *Router) Crawl(ctx context.Context, rawURL string, limit int) ([]model.CollectedListing, error) {
	p, c, err := r.route(rawURL)
	if err != nil {
		return nil, err
	}
	host := hostKey(rawURL)
	if r.breakers != nil {
		if err := r.breakers.Allow(host); err != nil {
			return nil, eris.Wrapf(err, "crawler: %s", host)
		}
	}

	listings, err := c.Crawl(ctx, rawURL, limit)
	if r.breakers != nil {
		r.breakers.Record(host, err)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "crawler: %s", p)
	}
	for i := range listings {
		if listings[i].Platform == "" {
			listings[i].Platform = p
		}
	}
	zap.L().Debug("crawler: collected",
		zap.String("platform", string(p)),
		zap.String("url", rawURL),
		zap.Int("listings", len(listings)),
	)
	return listings, nil
}

// Reviews implements ReviewSource for platforms that support it.
func (r *Router) Reviews(ctx context.Context, productURL string, limit int) ([]model.Review, error) {
	p, ok := r.detector.DetectPlatform(productURL)
	if !ok {
		return nil, eris.Errorf("crawler: unknown platform for %s", productURL)
	}
	rs, ok := r.reviews[p]
	if !ok {
		return nil, eris.Errorf("crawler: review collection not supported for %s", p)
	}
	return rs.Reviews(ctx, productURL, limit)
}

func (r *Router) route(rawURL string) (model.Platform, Crawler, error) {
	p, ok := r.detector.DetectPlatform(rawURL)
	if !ok {
		return "", nil, eris.Errorf("crawler: unknown platform for %s", rawURL)
	}
	c, ok := r.crawlers[p]
	if !ok {
		return "", nil, eris.Errorf("crawler: no crawler registered for %s", p)
	}
	return p, c, nil
}

func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
