package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/db"
	"github.com/sells-group/product-scout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertProduct = `INSERT INTO products (id, project_id, name, url, platform, price, currency, rating, review_count,
	sales_count, brand, image_urls, keywords, is_mall, is_verified_seller, seller_location,
	data_source, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (project_id, url) DO NOTHING
RETURNING id`

	pgLookupProduct = `SELECT id FROM products WHERE project_id = $1 AND url = $2`

	pgMirrorScore = `UPDATE products SET trust_score = $1, updated_at = $2 WHERE id = $3`

	pgUpsertTrust = `INSERT INTO trust_scores (` + trustScoreColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (product_id) DO UPDATE SET
	trust_score = EXCLUDED.trust_score,
	total_reviews = EXCLUDED.total_reviews,
	analyzed_reviews = EXCLUDED.analyzed_reviews,
	verified_reviews = EXCLUDED.verified_reviews,
	spam_reviews = EXCLUDED.spam_reviews,
	spam_percentage = EXCLUDED.spam_percentage,
	positive_count = EXCLUDED.positive_count,
	negative_count = EXCLUDED.negative_count,
	neutral_count = EXCLUDED.neutral_count,
	average_sentiment = EXCLUDED.average_sentiment,
	formula_version = EXCLUDED.formula_version,
	metadata = EXCLUDED.metadata,
	calculated_at = EXCLUDED.calculated_at`

	pgGetTrust = `SELECT ` + trustScoreColumns + ` FROM trust_scores WHERE product_id = $1`

	pgReviewSignals = `SELECT ` + reviewColumns + `, ` + classificationColumns + ` FROM reviews r
LEFT JOIN review_classifications c ON c.review_id = r.id
WHERE r.product_id = $1
ORDER BY r.collected_at, r.id`

	pgInsertPhase = `INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`

	pgCompletePhase = `UPDATE run_phases SET status = $1, result = $2 WHERE id = $3`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the import and scoring hot paths.
var preparedStatements = map[string]string{
	"insert_product": pgInsertProduct,
	"lookup_product": pgLookupProduct,
	"mirror_score":   pgMirrorScore,
	"upsert_trust":   pgUpsertTrust,
	"get_trust":      pgGetTrust,
	"review_signals": pgReviewSignals,
	"insert_phase":   pgInsertPhase,
	"complete_phase": pgCompletePhase,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                TEXT NOT NULL,
	target_product_name TEXT NOT NULL DEFAULT '',
	target_category     TEXT NOT NULL DEFAULT '',
	budget              DOUBLE PRECISION,
	description         TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id         TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name               TEXT NOT NULL,
	url                TEXT NOT NULL,
	platform           TEXT NOT NULL,
	price              DOUBLE PRECISION,
	currency           TEXT NOT NULL DEFAULT 'VND',
	rating             DOUBLE PRECISION,
	review_count       INTEGER,
	sales_count        INTEGER,
	brand              TEXT NOT NULL DEFAULT '',
	image_urls         JSONB NOT NULL DEFAULT '[]',
	keywords           JSONB NOT NULL DEFAULT '[]',
	is_mall            BOOLEAN,
	is_verified_seller BOOLEAN,
	seller_location    TEXT NOT NULL DEFAULT '',
	data_source        TEXT NOT NULL DEFAULT 'auto_crawl',
	created_by         TEXT NOT NULL DEFAULT '',
	trust_score        DOUBLE PRECISION,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, url)
);

CREATE TABLE IF NOT EXISTS reviews (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id           TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	source_review_id     TEXT NOT NULL,
	rating               INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	content              TEXT NOT NULL DEFAULT '',
	platform             TEXT NOT NULL,
	source_url           TEXT NOT NULL DEFAULT '',
	is_verified_purchase BOOLEAN NOT NULL DEFAULT false,
	collected_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (product_id, source_review_id)
);

CREATE TABLE IF NOT EXISTS review_classifications (
	review_id               TEXT PRIMARY KEY REFERENCES reviews(id) ON DELETE CASCADE,
	sentiment_label         TEXT NOT NULL,
	sentiment_score         DOUBLE PRECISION NOT NULL,
	sentiment_confidence    DOUBLE PRECISION NOT NULL,
	is_spam                 BOOLEAN NOT NULL,
	spam_score              DOUBLE PRECISION NOT NULL,
	spam_confidence         DOUBLE PRECISION NOT NULL,
	sentiment_model_version TEXT NOT NULL DEFAULT '',
	spam_model_version      TEXT NOT NULL DEFAULT '',
	analyzed_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trust_scores (
	product_id        TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
	trust_score       DOUBLE PRECISION NOT NULL CHECK (trust_score BETWEEN 0 AND 100),
	total_reviews     INTEGER NOT NULL,
	analyzed_reviews  INTEGER NOT NULL,
	verified_reviews  INTEGER NOT NULL,
	spam_reviews      INTEGER NOT NULL,
	spam_percentage   DOUBLE PRECISION NOT NULL,
	positive_count    INTEGER NOT NULL,
	negative_count    INTEGER NOT NULL,
	neutral_count     INTEGER NOT NULL,
	average_sentiment DOUBLE PRECISION NOT NULL,
	formula_version   TEXT NOT NULL,
	metadata          JSONB NOT NULL,
	calculated_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id TEXT NOT NULL,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES discovery_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_products_project_score ON products(project_id, trust_score DESC);
CREATE INDEX IF NOT EXISTS idx_reviews_product_id ON reviews(product_id);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_project ON discovery_runs(project_id);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_status ON discovery_runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, target_product_name, target_category, budget, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.TargetProductName, p.TargetCategory, p.Budget, p.Description, p.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert project")
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, target_product_name, target_category, budget, description, created_at FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.TargetProductName, &p.TargetCategory, &p.Budget, &p.Description, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "postgres: get project", id)
	}
	return &p, nil
}

// --- Products ---

func (s *PostgresStore) CreateProductIfAbsent(ctx context.Context, p *model.Product) (string, bool, error) {
	now := time.Now().UTC()
	images, err := encodeList(p.ImageURLs)
	if err != nil {
		return "", false, err
	}
	keywords, err := encodeList(p.Keywords)
	if err != nil {
		return "", false, err
	}

	var id string
	err = s.pool.QueryRow(ctx, pgInsertProduct,
		uuid.New().String(), p.ProjectID, p.Name, p.URL, string(p.Platform), p.Price, p.Currency, p.Rating, p.ReviewCount,
		p.SalesCount, p.Brand, images, keywords, p.IsMall, p.IsVerifiedSeller, p.SellerLocation,
		p.DataSource, p.CreatedBy, now, now,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", false, eris.Wrapf(err, "postgres: insert product %s", p.URL)
	}

	// Conflict: the row already exists.
	if err := s.pool.QueryRow(ctx, pgLookupProduct, p.ProjectID, p.URL).Scan(&id); err != nil {
		return "", false, eris.Wrapf(err, "postgres: lookup product %s", p.URL)
	}
	return id, false, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		return nil, notFound(err, "postgres: get product", id)
	}
	return p, nil
}

func (s *PostgresStore) ListProductIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM products WHERE project_id = $1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list product ids")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrap(err, "postgres: collect product ids")
}

func (s *PostgresStore) ListProductsByTrustScore(ctx context.Context, filter ProductFilter) ([]model.RankedProduct, error) {
	query, args, err := byTrustScoreQuery(filter, sq.Dollar)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products by trust score")
	}
	defer rows.Close()

	var out []model.RankedProduct
	for rows.Next() {
		var rp model.RankedProduct
		p, err := scanProduct(rows, &rp.FormulaVersion, &rp.CalculatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ranked product")
		}
		rp.Product = *p
		out = append(out, rp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ranked products")
}

// --- Reviews ---

var reviewUpsert = db.UpsertConfig{
	Table: "reviews",
	Columns: []string{
		"id", "product_id", "source_review_id", "rating", "content", "platform",
		"source_url", "is_verified_purchase", "collected_at",
	},
	ConflictKeys: []string{"product_id", "source_review_id"},
	UpdateCols:   []string{"rating", "content", "source_url", "is_verified_purchase"},
}

func (s *PostgresStore) SaveReviews(ctx context.Context, reviews []model.Review) (int, error) {
	reviews = dedupeReviews(reviews)
	rows := make([][]any, 0, len(reviews))
	for i := range reviews {
		r := normalizeReview(&reviews[i])
		rows = append(rows, []any{
			r.ID, r.ProductID, r.SourceReviewID, r.Rating, r.Content, string(r.Platform),
			r.SourceURL, r.IsVerifiedPurchase, r.CollectedAt,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, reviewUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save reviews")
	}
	return int(n), nil
}

func (s *PostgresStore) ListPendingReviews(ctx context.Context, productID string, limit int) ([]model.Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews r
		 LEFT JOIN review_classifications c ON c.review_id = r.id
		 WHERE r.product_id = $1 AND c.review_id IS NULL
		 ORDER BY r.collected_at, r.id LIMIT $2`,
		productID, limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending reviews")
	}
	defer rows.Close()

	var out []model.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate pending reviews")
}

func (s *PostgresStore) SaveClassification(ctx context.Context, c *model.ReviewClassification) error {
	if c.AnalyzedAt.IsZero() {
		c.AnalyzedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_classifications (review_id, sentiment_label, sentiment_score, sentiment_confidence,
			is_spam, spam_score, spam_confidence, sentiment_model_version, spam_model_version, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (review_id) DO UPDATE SET
			sentiment_label = EXCLUDED.sentiment_label,
			sentiment_score = EXCLUDED.sentiment_score,
			sentiment_confidence = EXCLUDED.sentiment_confidence,
			is_spam = EXCLUDED.is_spam,
			spam_score = EXCLUDED.spam_score,
			spam_confidence = EXCLUDED.spam_confidence,
			sentiment_model_version = EXCLUDED.sentiment_model_version,
			spam_model_version = EXCLUDED.spam_model_version,
			analyzed_at = EXCLUDED.analyzed_at`,
		c.ReviewID, c.SentimentLabel, c.SentimentScore, c.SentimentConfidence,
		c.IsSpam, c.SpamScore, c.SpamConfidence, c.SentimentModelVersion, c.SpamModelVersion, c.AnalyzedAt,
	)
	return eris.Wrapf(err, "postgres: save classification %s", c.ReviewID)
}

func (s *PostgresStore) ListReviewSignals(ctx context.Context, productID string) ([]model.ReviewSignal, error) {
	rows, err := s.pool.Query(ctx, pgReviewSignals, productID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review signals")
	}
	defer rows.Close()

	var out []model.ReviewSignal
	for rows.Next() {
		var cc classificationCols
		r, err := scanReview(rows, cc.dest()...)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review signal")
		}
		out = append(out, model.ReviewSignal{Review: *r, Classification: cc.value()})
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate review signals")
}

// --- Trust scores ---

func (s *PostgresStore) SaveTrustScore(ctx context.Context, rec *model.TrustScoreRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal trust metadata")
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, pgMirrorScore, rec.TrustScore, time.Now().UTC(), rec.ProductID)
		if err != nil {
			return eris.Wrapf(err, "postgres: mirror trust score %s", rec.ProductID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "product %s", rec.ProductID)
		}
		_, err = tx.Exec(ctx, pgUpsertTrust,
			rec.ProductID, rec.TrustScore, rec.TotalReviews, rec.AnalyzedReviews, rec.VerifiedReviews,
			rec.SpamReviews, rec.SpamPercentage, rec.PositiveCount, rec.NegativeCount, rec.NeutralCount,
			rec.AverageSentiment, rec.Metadata.FormulaVersion, metadata, rec.CalculatedAt,
		)
		return eris.Wrapf(err, "postgres: upsert trust score %s", rec.ProductID)
	})
}

func (s *PostgresStore) GetTrustScore(ctx context.Context, productID string) (*model.TrustScoreRecord, error) {
	rec, err := scanTrustScore(s.pool.QueryRow(ctx, pgGetTrust, productID))
	if err != nil {
		return nil, notFound(err, "postgres: get trust score", productID)
	}
	return rec, nil
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, projectID, query string) (*model.DiscoveryRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO discovery_runs (id, project_id, query, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, projectID, query, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.DiscoveryRun{
		ID:        id,
		ProjectID: projectID,
		Query:     query,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.DiscoveryReport) error {
	var reportJSON []byte
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal report")
		}
		reportJSON = b
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE discovery_runs SET status = $1, report = $2, updated_at = $3 WHERE id = $4`,
		string(status), reportJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, query, status, report, created_at, updated_at FROM discovery_runs WHERE id = $1`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, "postgres: get run", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DiscoveryRun, error) {
	query, args, err := listRunsQuery(filter, sq.Dollar)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.DiscoveryRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

// --- Phases ---

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	if _, err := s.pool.Exec(ctx, pgInsertPhase, id, runID, name, string(model.PhaseStatusRunning), now); err != nil {
		return nil, eris.Wrap(err, "postgres: insert phase")
	}
	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal phase result")
	}
	tag, err := s.pool.Exec(ctx, pgCompletePhase, string(result.Status), resultJSON, phaseID)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "phase %s", phaseID)
	}
	return nil
}
