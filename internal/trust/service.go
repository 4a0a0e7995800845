package trust

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/store"
)

// Repository is the persistence the trust service needs.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProductIDs(ctx context.Context, projectID string) ([]string, error)
	ListProductsByTrustScore(ctx context.Context, filter store.ProductFilter) ([]model.RankedProduct, error)
	ListReviewSignals(ctx context.Context, productID string) ([]model.ReviewSignal, error)
	SaveTrustScore(ctx context.Context, rec *model.TrustScoreRecord) error
	GetTrustScore(ctx context.Context, productID string) (*model.TrustScoreRecord, error)
}

// Service recomputes and serves trust scores.
type Service struct {
	repo    Repository
	cfg     Config
	locker  Locker
	workers int
	now     func() time.Time
}

// NewService validates cfg and builds a Service. A nil locker means an
// in-process KeyedMutex.
func NewService(repo Repository, cfg Config, locker Locker, workers int) (*Service, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if workers < 1 {
		workers = 1
	}
	return &Service{
		repo:    repo,
		cfg:     cfg,
		locker:  locker,
		workers: workers,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Config returns the formula configuration in use.
func (s *Service) Config() Config { return s.cfg }

// Recompute rebuilds the trust score of productID from its current reviews
// and replaces the stored record. The read-aggregate-write cycle runs under
// the product's lock.
func (s *Service) Recompute(ctx context.Context, productID string) (*model.TrustScoreRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, eris.New("trust: product id is required")
	}
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, eris.Wrapf(err, "trust: recompute %s", productID)
	}

	unlock, err := s.locker.Lock(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	start := time.Now()
	signals, err := s.repo.ListReviewSignals(ctx, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "trust: load reviews %s", productID)
	}

	rec := Compute(productID, Aggregate(signals), s.cfg)
	rec.CalculatedAt = s.now()
	if err := s.repo.SaveTrustScore(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "trust: save %s", productID)
	}

	zap.L().Info("trust: score recomputed",
		zap.String("product_id", productID),
		zap.Float64("trust_score", rec.TrustScore),
		zap.Int("total_reviews", rec.TotalReviews),
		zap.Int("analyzed_reviews", rec.AnalyzedReviews),
		zap.String("formula_version", rec.Metadata.FormulaVersion),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return rec, nil
}

// Get returns the stored record, or a store.ErrNotFound wrap.
func (s *Service) Get(ctx context.Context, productID string) (*model.TrustScoreRecord, error) {
	rec, err := s.repo.GetTrustScore(ctx, productID)
	if err != nil {
		return nil, eris.Wrapf(err, "trust: get %s", productID)
	}
	return rec, nil
}

// ListByScore lists scored products of a project, highest score first.
func (s *Service) ListByScore(ctx context.Context, filter store.ProductFilter) ([]model.RankedProduct, error) {
	if filter.ProjectID == "" {
		return nil, eris.New("trust: project id is required")
	}
	if filter.MinScore != nil && filter.MaxScore != nil && *filter.MinScore > *filter.MaxScore {
		return nil, eris.Errorf("trust: min score %g > max score %g", *filter.MinScore, *filter.MaxScore)
	}
	out, err := s.repo.ListProductsByTrustScore(ctx, filter)
	if err != nil {
		return nil, eris.Wrapf(err, "trust: list project %s", filter.ProjectID)
	}
	return out, nil
}

// ProjectResult summarizes a project-wide recompute.
type ProjectResult struct {
	Total      int      `json:"total"`
	Recomputed int      `json:"recomputed"`
	Failed     []string `json:"failed,omitempty"`
}

// RecomputeProject recomputes every product of projectID in parallel.
// Per-product failures are logged and listed; they do not stop the others.
func (s *Service) RecomputeProject(ctx context.Context, projectID string) (*ProjectResult, error) {
	ids, err := s.repo.ListProductIDs(ctx, projectID)
	if err != nil {
		return nil, eris.Wrapf(err, "trust: list products of %s", projectID)
	}

	res := &ProjectResult{Total: len(ids)}
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range ids {
		g.Go(func() error {
			_, err := s.Recompute(gCtx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed = append(res.Failed, id)
				zap.L().Warn("trust: project recompute failed for product",
					zap.String("project_id", projectID),
					zap.String("product_id", id),
					zap.Error(err),
				)
				return nil
			}
			res.Recomputed++
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, eris.Wrapf(err, "trust: recompute project %s", projectID)
	}

	zap.L().Info("trust: project recomputed",
		zap.String("project_id", projectID),
		zap.Int("total", res.Total),
		zap.Int("recomputed", res.Recomputed),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}
