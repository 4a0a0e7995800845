package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/product-scout/internal/crawler"
	"github.com/sells-group/product-scout/internal/model"
)

// CollectConfig bounds the collection stage.
type CollectConfig struct {
	Concurrency int
	MaxListings int
}

// CollectResult is the merged output of all candidate links.
type CollectResult struct {
	Listings []model.CollectedListing
	Failed   int
}

// Collect crawls every candidate concurrently and joins before returning.
// Listings keep candidate order and are capped at MaxListings. Per-link
// failures are logged and skipped; if every link fails the stage fails.
func Collect(ctx context.Context, c crawler.Crawler, candidates []model.CandidateItem, cfg CollectConfig) (*CollectResult, error) {
	if len(candidates) == 0 {
		return nil, model.NewStageError(model.ErrNoCandidatesFound, "no candidate links to collect", nil)
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxListings < 1 {
		cfg.MaxListings = len(candidates)
	}
	perLink := max(1, cfg.MaxListings/len(candidates))

	perCandidate := make([][]model.CollectedListing, len(candidates))
	errs := make([]error, len(candidates))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Concurrency)
	for i, cand := range candidates {
		g.Go(func() error {
			listings, err := c.Crawl(gCtx, cand.URL, perLink)
			if err != nil {
				errs[i] = err
				zap.L().Warn("pipeline: collection failed for link",
					zap.String("url", cand.URL),
					zap.String("platform", string(cand.Platform)),
					zap.Error(err),
				)
				return nil
			}
			perCandidate[i] = listings
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, model.NewStageError(model.ErrCollectionFailure, "collection was cancelled", err)
	}

	out := &CollectResult{}
	for i := range candidates {
		if errs[i] != nil {
			out.Failed++
			continue
		}
		for _, l := range perCandidate[i] {
			if len(out.Listings) == cfg.MaxListings {
				break
			}
			if l.Platform == "" {
				l.Platform = candidates[i].Platform
			}
			out.Listings = append(out.Listings, l)
		}
	}

	if out.Failed == len(candidates) {
		return nil, model.NewStageError(model.ErrCollectionFailure,
			fmt.Sprintf("all %d candidate links failed to load", len(candidates)), errs[0])
	}
	return out, nil
}
