// Package analysis classifies a product's pending reviews and refreshes its
// trust score once the batch is joined.
package analysis

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/product-scout/internal/crawler"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/pkg/classifier"
)

// Repository is the persistence the analyzer needs.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	SaveReviews(ctx context.Context, reviews []model.Review) (int, error)
	ListPendingReviews(ctx context.Context, productID string, limit int) ([]model.Review, error)
	SaveClassification(ctx context.Context, c *model.ReviewClassification) error
}

// Recomputer refreshes a product's trust score.
type Recomputer interface {
	Recompute(ctx context.Context, productID string) (*model.TrustScoreRecord, error)
}

// Config bounds one analysis batch.
type Config struct {
	Concurrency int
	BatchSize   int
}

// Result summarizes one AnalyzeProduct call.
type Result struct {
	ProductID  string                  `json:"product_id"`
	Pending    int                     `json:"pending"`
	Analyzed   int                     `json:"analyzed"`
	Failed     int                     `json:"failed"`
	TrustScore *model.TrustScoreRecord `json:"trust_score,omitempty"`
}

// Analyzer runs classification batches.
type Analyzer struct {
	cfg    Config
	repo   Repository
	cls    classifier.Client
	trust  Recomputer
	source crawler.ReviewSource
}

// New creates an Analyzer. source may be nil when reviews are only ingested.
func New(cfg Config, repo Repository, cls classifier.Client, trust Recomputer, source crawler.ReviewSource) *Analyzer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 200
	}
	return &Analyzer{cfg: cfg, repo: repo, cls: cls, trust: trust, source: source}
}

// AnalyzeProduct classifies up to BatchSize pending reviews concurrently,
// waits for every call, stores the successful classifications, then
// recomputes the trust score. Reviews that fail stay pending.
func (a *Analyzer) AnalyzeProduct(ctx context.Context, productID string) (*Result, error) {
	if _, err := a.repo.GetProduct(ctx, productID); err != nil {
		return nil, eris.Wrapf(err, "analysis: product %s", productID)
	}
	pending, err := a.repo.ListPendingReviews(ctx, productID, a.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "analysis: list pending reviews %s", productID)
	}

	start := time.Now()
	res := &Result{ProductID: productID, Pending: len(pending)}
	classified := make([]*model.ReviewClassification, len(pending))
	var failed atomic.Int32

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for i, r := range pending {
		g.Go(func() error {
			c, err := a.classify(gCtx, r)
			if err != nil {
				failed.Add(1)
				zap.L().Warn("analysis: review classification failed",
					zap.String("product_id", productID),
					zap.String("review_id", r.ID),
					zap.Error(err),
				)
				return nil
			}
			classified[i] = c
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "analysis: batch %s", productID)
	}

	res.Failed = int(failed.Load())
	for _, c := range classified {
		if c == nil {
			continue
		}
		if err := a.repo.SaveClassification(ctx, c); err != nil {
			res.Failed++
			zap.L().Warn("analysis: save classification failed",
				zap.String("review_id", c.ReviewID), zap.Error(err))
			continue
		}
		res.Analyzed++
	}

	rec, err := a.trust.Recompute(ctx, productID)
	if err != nil {
		return res, eris.Wrapf(err, "analysis: recompute %s", productID)
	}
	res.TrustScore = rec

	zap.L().Info("analysis: batch complete",
		zap.String("product_id", productID),
		zap.Int("pending", res.Pending),
		zap.Int("analyzed", res.Analyzed),
		zap.Int("failed", res.Failed),
		zap.Float64("trust_score", rec.TrustScore),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return res, nil
}

func (a *Analyzer) classify(ctx context.Context, r model.Review) (*model.ReviewClassification, error) {
	sent, err := a.cls.Sentiment(ctx, r.Content)
	if err != nil {
		return nil, err
	}
	spam, err := a.cls.Spam(ctx, r.Content)
	if err != nil {
		return nil, err
	}
	return &model.ReviewClassification{
		ReviewID:              r.ID,
		SentimentLabel:        sent.Label,
		SentimentScore:        sent.Score,
		SentimentConfidence:   sent.Confidence,
		IsSpam:                spam.IsSpam,
		SpamScore:             spam.Score,
		SpamConfidence:        spam.Confidence,
		SentimentModelVersion: sent.ModelVersion,
		SpamModelVersion:      spam.ModelVersion,
		AnalyzedAt:            time.Now().UTC(),
	}, nil
}

// IngestReviews stores reviews for productID and returns the number of rows
// written. Missing platforms default to the product's. A missing source id
// is derived from rating, content, collection time and the review's
// occurrence among identical reviews in the batch, so repeated short
// reviews stay distinct while re-ingesting the same batch is idempotent.
func (a *Analyzer) IngestReviews(ctx context.Context, productID string, reviews []model.Review) (int, error) {
	product, err := a.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, eris.Wrapf(err, "analysis: product %s", productID)
	}
	batch := make([]model.Review, 0, len(reviews))
	occurrences := make(map[string]int)
	for _, r := range reviews {
		r.ID = ""
		r.ProductID = productID
		if r.Platform == "" {
			r.Platform = product.Platform
		}
		r.Rating = model.ClampRating(r.Rating)
		if strings.TrimSpace(r.SourceReviewID) == "" {
			key := contentKey(r)
			occurrences[key]++
			r.SourceReviewID = fmt.Sprintf("%s-%d", key, occurrences[key])
		}
		batch = append(batch, r)
	}
	n, err := a.repo.SaveReviews(ctx, batch)
	if err != nil {
		return 0, eris.Wrapf(err, "analysis: save reviews %s", productID)
	}
	return n, nil
}

// CollectReviews pulls up to limit reviews from the product's marketplace
// page and ingests them.
func (a *Analyzer) CollectReviews(ctx context.Context, productID string, limit int) (int, error) {
	if a.source == nil {
		return 0, eris.New("analysis: no review source configured")
	}
	product, err := a.repo.GetProduct(ctx, productID)
	if err != nil {
		return 0, eris.Wrapf(err, "analysis: product %s", productID)
	}
	reviews, err := a.source.Reviews(ctx, product.URL, limit)
	if err != nil {
		return 0, eris.Wrapf(err, "analysis: collect reviews %s", productID)
	}
	n, err := a.IngestReviews(ctx, productID, reviews)
	if err != nil {
		return 0, err
	}
	zap.L().Info("analysis: reviews collected",
		zap.String("product_id", productID),
		zap.String("url", product.URL),
		zap.Int("count", n),
	)
	return n, nil
}

func contentKey(r model.Review) string {
	var collected string
	if !r.CollectedAt.IsZero() {
		collected = r.CollectedAt.UTC().Format(time.RFC3339Nano)
	}
	sum := sha256.Sum256(fmt.Appendf(nil, "%d|%s|%s", r.Rating, r.Content, collected))
	return fmt.Sprintf("h-%x", sum[:8])
}
