package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

// ErrNotFound is returned (wrapped) when a looked-up row does not exist.
var ErrNotFound = eris.New("not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RunFilter specifies criteria for listing discovery runs.
type RunFilter struct {
	ProjectID string          `json:"project_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// ProductFilter selects scored products of a project.
type ProductFilter struct {
	ProjectID string   `json:"project_id"`
	MinScore  *float64 `json:"min_score,omitempty"`
	MaxScore  *float64 `json:"max_score,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
}

// Store defines the persistence interface for discovery and trust scoring.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)

	// Products
	CreateProductIfAbsent(ctx context.Context, p *model.Product) (id string, created bool, err error)
	GetProduct(ctx context.Context, id string) (*model.Product, error)
	ListProductIDs(ctx context.Context, projectID string) ([]string, error)
	ListProductsByTrustScore(ctx context.Context, filter ProductFilter) ([]model.RankedProduct, error)

	// Reviews. SaveReviews returns the number of rows written after
	// collapsing repeated (product, source id) pairs in the batch.
	SaveReviews(ctx context.Context, reviews []model.Review) (int, error)
	ListPendingReviews(ctx context.Context, productID string, limit int) ([]model.Review, error)
	SaveClassification(ctx context.Context, c *model.ReviewClassification) error
	ListReviewSignals(ctx context.Context, productID string) ([]model.ReviewSignal, error)

	// Trust scores
	SaveTrustScore(ctx context.Context, rec *model.TrustScoreRecord) error
	GetTrustScore(ctx context.Context, productID string) (*model.TrustScoreRecord, error)

	// Runs
	CreateRun(ctx context.Context, projectID, query string) (*model.DiscoveryRun, error)
	CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.DiscoveryReport) error
	GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.DiscoveryRun, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const productColumns = `p.id, p.project_id, p.name, p.url, p.platform, p.price, p.currency, p.rating,
	p.review_count, p.sales_count, p.brand, p.image_urls, p.keywords, p.is_mall,
	p.is_verified_seller, p.seller_location, p.data_source, p.created_by, p.trust_score,
	p.created_at, p.updated_at`

const reviewColumns = `r.id, r.product_id, r.source_review_id, r.rating, r.content, r.platform,
	r.source_url, r.is_verified_purchase, r.collected_at`

const defaultListLimit = 100

// byTrustScoreQuery builds the ranked-product listing: scored products only,
// highest first, id as tie-breaker.
func byTrustScoreQuery(f ProductFilter, ph sq.PlaceholderFormat) (string, []any, error) {
	q := sq.Select(productColumns, "t.formula_version", "t.calculated_at").
		From("products p").
		Join("trust_scores t ON t.product_id = p.id").
		Where(sq.Eq{"p.project_id": f.ProjectID}).
		Where(sq.NotEq{"p.trust_score": nil})
	if f.MinScore != nil {
		q = q.Where(sq.GtOrEq{"p.trust_score": *f.MinScore})
	}
	if f.MaxScore != nil {
		q = q.Where(sq.LtOrEq{"p.trust_score": *f.MaxScore})
	}
	q = q.OrderBy("p.trust_score DESC", "p.id ASC").
		Limit(uint64(limitOrDefault(f.Limit)))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	sqlStr, args, err := q.PlaceholderFormat(ph).ToSql()
	return sqlStr, args, eris.Wrap(err, "build trust score query")
}

func listRunsQuery(f RunFilter, ph sq.PlaceholderFormat) (string, []any, error) {
	q := sq.Select("id", "project_id", "query", "status", "report", "created_at", "updated_at").
		From("discovery_runs")
	if f.ProjectID != "" {
		q = q.Where(sq.Eq{"project_id": f.ProjectID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	q = q.OrderBy("created_at DESC").Limit(uint64(limitOrDefault(f.Limit)))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}
	sqlStr, args, err := q.PlaceholderFormat(ph).ToSql()
	return sqlStr, args, eris.Wrap(err, "build list runs query")
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func encodeList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	return b, eris.Wrap(err, "encode list")
}

func decodeList(b []byte) ([]string, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, eris.Wrap(err, "decode list")
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// scanProduct scans productColumns followed by any extra destinations.
func scanProduct(row scannable, extra ...any) (*model.Product, error) {
	var p model.Product
	var platform string
	var imagesJSON, keywordsJSON []byte
	dest := []any{
		&p.ID, &p.ProjectID, &p.Name, &p.URL, &platform, &p.Price, &p.Currency, &p.Rating,
		&p.ReviewCount, &p.SalesCount, &p.Brand, &imagesJSON, &keywordsJSON, &p.IsMall,
		&p.IsVerifiedSeller, &p.SellerLocation, &p.DataSource, &p.CreatedBy, &p.TrustScore,
		&p.CreatedAt, &p.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	p.Platform = model.Platform(platform)
	var err error
	if p.ImageURLs, err = decodeList(imagesJSON); err != nil {
		return nil, err
	}
	if p.Keywords, err = decodeList(keywordsJSON); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanReview(row scannable, extra ...any) (*model.Review, error) {
	var r model.Review
	var platform string
	dest := []any{
		&r.ID, &r.ProductID, &r.SourceReviewID, &r.Rating, &r.Content, &platform,
		&r.SourceURL, &r.IsVerifiedPurchase, &r.CollectedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.Platform = model.Platform(platform)
	return &r, nil
}

// classificationCols receives the nullable LEFT JOIN side of a review signal.
type classificationCols struct {
	reviewID              *string
	sentimentLabel        *string
	sentimentScore        *float64
	sentimentConfidence   *float64
	isSpam                *bool
	spamScore             *float64
	spamConfidence        *float64
	sentimentModelVersion *string
	spamModelVersion      *string
	analyzedAt            *time.Time
}

func (c *classificationCols) dest() []any {
	return []any{
		&c.reviewID, &c.sentimentLabel, &c.sentimentScore, &c.sentimentConfidence,
		&c.isSpam, &c.spamScore, &c.spamConfidence, &c.sentimentModelVersion,
		&c.spamModelVersion, &c.analyzedAt,
	}
}

func (c *classificationCols) value() *model.ReviewClassification {
	if c.reviewID == nil {
		return nil
	}
	out := &model.ReviewClassification{ReviewID: *c.reviewID}
	if c.sentimentLabel != nil {
		out.SentimentLabel = *c.sentimentLabel
	}
	if c.sentimentScore != nil {
		out.SentimentScore = *c.sentimentScore
	}
	if c.sentimentConfidence != nil {
		out.SentimentConfidence = *c.sentimentConfidence
	}
	if c.isSpam != nil {
		out.IsSpam = *c.isSpam
	}
	if c.spamScore != nil {
		out.SpamScore = *c.spamScore
	}
	if c.spamConfidence != nil {
		out.SpamConfidence = *c.spamConfidence
	}
	if c.sentimentModelVersion != nil {
		out.SentimentModelVersion = *c.sentimentModelVersion
	}
	if c.spamModelVersion != nil {
		out.SpamModelVersion = *c.spamModelVersion
	}
	if c.analyzedAt != nil {
		out.AnalyzedAt = *c.analyzedAt
	}
	return out
}

const classificationColumns = `c.review_id, c.sentiment_label, c.sentiment_score, c.sentiment_confidence,
	c.is_spam, c.spam_score, c.spam_confidence, c.sentiment_model_version,
	c.spam_model_version, c.analyzed_at`

const trustScoreColumns = `product_id, trust_score, total_reviews, analyzed_reviews, verified_reviews,
	spam_reviews, spam_percentage, positive_count, negative_count, neutral_count,
	average_sentiment, formula_version, metadata, calculated_at`

func scanTrustScore(row scannable) (*model.TrustScoreRecord, error) {
	var rec model.TrustScoreRecord
	var version string
	var metadata []byte
	err := row.Scan(
		&rec.ProductID, &rec.TrustScore, &rec.TotalReviews, &rec.AnalyzedReviews, &rec.VerifiedReviews,
		&rec.SpamReviews, &rec.SpamPercentage, &rec.PositiveCount, &rec.NegativeCount, &rec.NeutralCount,
		&rec.AverageSentiment, &version, &metadata, &rec.CalculatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, eris.Wrap(err, "decode trust metadata")
		}
	}
	rec.Metadata.FormulaVersion = version
	return &rec, nil
}

func scanRun(row scannable) (*model.DiscoveryRun, error) {
	var r model.DiscoveryRun
	var status string
	var report []byte
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Query, &status, &report, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if len(report) > 0 {
		r.Report = &model.DiscoveryReport{}
		if err := json.Unmarshal(report, r.Report); err != nil {
			return nil, eris.Wrap(err, "decode run report")
		}
	}
	return &r, nil
}

// notFound maps a no-rows scan error to ErrNotFound.
func notFound(err error, op, id string) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "%s %s", op, id)
	}
	return eris.Wrapf(err, "%s %s", op, id)
}

// dedupeReviews keeps the last occurrence of each (product, source id) pair
// so a single batch never touches the same row twice.
func dedupeReviews(in []model.Review) []model.Review {
	type key struct{ product, source string }
	last := make(map[key]int, len(in))
	for i, r := range in {
		last[key{r.ProductID, r.SourceReviewID}] = i
	}
	out := make([]model.Review, 0, len(last))
	for i, r := range in {
		if last[key{r.ProductID, r.SourceReviewID}] == i {
			out = append(out, r)
		}
	}
	return out
}
