package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/product-scout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// sqlitePragmas are applied by the driver on every pooled connection.
// Transactions begin IMMEDIATE so concurrent writers queue on busy_timeout
// instead of failing a read-to-write lock upgrade.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(10000)",
	"_pragma=foreign_keys(1)",
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_txlock=immediate",
}

// sqliteDSN appends the connection pragmas to dsn unless it sets its own.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(sqlitePragmas, "&")
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	target_product_name TEXT NOT NULL DEFAULT '',
	target_category     TEXT NOT NULL DEFAULT '',
	budget              REAL,
	description         TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	id                 TEXT PRIMARY KEY,
	project_id         TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name               TEXT NOT NULL,
	url                TEXT NOT NULL,
	platform           TEXT NOT NULL,
	price              REAL,
	currency           TEXT NOT NULL DEFAULT 'VND',
	rating             REAL,
	review_count       INTEGER,
	sales_count        INTEGER,
	brand              TEXT NOT NULL DEFAULT '',
	image_urls         TEXT NOT NULL DEFAULT '[]',
	keywords           TEXT NOT NULL DEFAULT '[]',
	is_mall            BOOLEAN,
	is_verified_seller BOOLEAN,
	seller_location    TEXT NOT NULL DEFAULT '',
	data_source        TEXT NOT NULL DEFAULT 'auto_crawl',
	created_by         TEXT NOT NULL DEFAULT '',
	trust_score        REAL,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (project_id, url)
);

CREATE TABLE IF NOT EXISTS reviews (
	id                   TEXT PRIMARY KEY,
	product_id           TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	source_review_id     TEXT NOT NULL,
	rating               INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
	content              TEXT NOT NULL DEFAULT '',
	platform             TEXT NOT NULL,
	source_url           TEXT NOT NULL DEFAULT '',
	is_verified_purchase BOOLEAN NOT NULL DEFAULT 0,
	collected_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (product_id, source_review_id)
);

CREATE TABLE IF NOT EXISTS review_classifications (
	review_id               TEXT PRIMARY KEY REFERENCES reviews(id) ON DELETE CASCADE,
	sentiment_label         TEXT NOT NULL,
	sentiment_score         REAL NOT NULL,
	sentiment_confidence    REAL NOT NULL,
	is_spam                 BOOLEAN NOT NULL,
	spam_score              REAL NOT NULL,
	spam_confidence         REAL NOT NULL,
	sentiment_model_version TEXT NOT NULL DEFAULT '',
	spam_model_version      TEXT NOT NULL DEFAULT '',
	analyzed_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS trust_scores (
	product_id        TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
	trust_score       REAL NOT NULL,
	total_reviews     INTEGER NOT NULL,
	analyzed_reviews  INTEGER NOT NULL,
	verified_reviews  INTEGER NOT NULL,
	spam_reviews      INTEGER NOT NULL,
	spam_percentage   REAL NOT NULL,
	positive_count    INTEGER NOT NULL,
	negative_count    INTEGER NOT NULL,
	neutral_count     INTEGER NOT NULL,
	average_sentiment REAL NOT NULL,
	formula_version   TEXT NOT NULL,
	metadata          TEXT NOT NULL,
	calculated_at     DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS discovery_runs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES discovery_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_products_project_score ON products(project_id, trust_score DESC);
CREATE INDEX IF NOT EXISTS idx_reviews_product_id ON reviews(product_id);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_project ON discovery_runs(project_id);
CREATE INDEX IF NOT EXISTS idx_discovery_runs_status ON discovery_runs(status);
CREATE INDEX IF NOT EXISTS idx_run_phases_run_id ON run_phases(run_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, target_product_name, target_category, budget, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.TargetProductName, p.TargetCategory, p.Budget, p.Description, p.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert project")
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, target_product_name, target_category, budget, description, created_at FROM projects WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.Name, &p.TargetProductName, &p.TargetCategory, &p.Budget, &p.Description, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err, "sqlite: get project", id)
	}
	return &p, nil
}

// --- Products ---

func (s *SQLiteStore) CreateProductIfAbsent(ctx context.Context, p *model.Product) (string, bool, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	images, err := encodeList(p.ImageURLs)
	if err != nil {
		return "", false, err
	}
	keywords, err := encodeList(p.Keywords)
	if err != nil {
		return "", false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, project_id, name, url, platform, price, currency, rating, review_count,
			sales_count, brand, image_urls, keywords, is_mall, is_verified_seller, seller_location,
			data_source, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, url) DO NOTHING`,
		id, p.ProjectID, p.Name, p.URL, string(p.Platform), p.Price, p.Currency, p.Rating, p.ReviewCount,
		p.SalesCount, p.Brand, string(images), string(keywords), p.IsMall, p.IsVerifiedSeller, p.SellerLocation,
		p.DataSource, p.CreatedBy, now, now,
	)
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: insert product %s", p.URL)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, eris.Wrap(err, "rows affected")
	}
	if n == 1 {
		return id, true, nil
	}

	var existing string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM products WHERE project_id = ? AND url = ?`, p.ProjectID, p.URL,
	).Scan(&existing)
	if err != nil {
		return "", false, eris.Wrapf(err, "sqlite: lookup product %s", p.URL)
	}
	return existing, false, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = ?`, id)
	p, err := scanProduct(row)
	if err != nil {
		return nil, notFound(err, "sqlite: get product", id)
	}
	return p, nil
}

func (s *SQLiteStore) ListProductIDs(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM products WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list product ids")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: iterate product ids")
}

func (s *SQLiteStore) ListProductsByTrustScore(ctx context.Context, filter ProductFilter) ([]model.RankedProduct, error) {
	query, args, err := byTrustScoreQuery(filter, sq.Question)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products by trust score")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RankedProduct
	for rows.Next() {
		var rp model.RankedProduct
		p, err := scanProduct(rows, &rp.FormulaVersion, &rp.CalculatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ranked product")
		}
		rp.Product = *p
		out = append(out, rp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ranked products")
}

// --- Reviews ---

func (s *SQLiteStore) SaveReviews(ctx context.Context, reviews []model.Review) (int, error) {
	reviews = dedupeReviews(reviews)
	if len(reviews) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin reviews tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reviews (id, product_id, source_review_id, rating, content, platform, source_url,
			is_verified_purchase, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (product_id, source_review_id) DO UPDATE SET
			rating = excluded.rating,
			content = excluded.content,
			source_url = excluded.source_url,
			is_verified_purchase = excluded.is_verified_purchase`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare review upsert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range reviews {
		r := normalizeReview(&reviews[i])
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.ProductID, r.SourceReviewID, r.Rating, r.Content, string(r.Platform), r.SourceURL,
			r.IsVerifiedPurchase, r.CollectedAt,
		); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert review %s", r.SourceReviewID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit reviews")
	}
	return len(reviews), nil
}

func (s *SQLiteStore) ListPendingReviews(ctx context.Context, productID string, limit int) ([]model.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews r
		 LEFT JOIN review_classifications c ON c.review_id = r.id
		 WHERE r.product_id = ? AND c.review_id IS NULL
		 ORDER BY r.collected_at, r.id LIMIT ?`,
		productID, limitOrDefault(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending reviews")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Review
	for rows.Next() {
		r, err := scanReview(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate pending reviews")
}

func (s *SQLiteStore) SaveClassification(ctx context.Context, c *model.ReviewClassification) error {
	if c.AnalyzedAt.IsZero() {
		c.AnalyzedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_classifications (review_id, sentiment_label, sentiment_score, sentiment_confidence,
			is_spam, spam_score, spam_confidence, sentiment_model_version, spam_model_version, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (review_id) DO UPDATE SET
			sentiment_label = excluded.sentiment_label,
			sentiment_score = excluded.sentiment_score,
			sentiment_confidence = excluded.sentiment_confidence,
			is_spam = excluded.is_spam,
			spam_score = excluded.spam_score,
			spam_confidence = excluded.spam_confidence,
			sentiment_model_version = excluded.sentiment_model_version,
			spam_model_version = excluded.spam_model_version,
			analyzed_at = excluded.analyzed_at`,
		c.ReviewID, c.SentimentLabel, c.SentimentScore, c.SentimentConfidence,
		c.IsSpam, c.SpamScore, c.SpamConfidence, c.SentimentModelVersion, c.SpamModelVersion, c.AnalyzedAt,
	)
	return eris.Wrapf(err, "sqlite: save classification %s", c.ReviewID)
}

func (s *SQLiteStore) ListReviewSignals(ctx context.Context, productID string) ([]model.ReviewSignal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reviewColumns+`, `+classificationColumns+` FROM reviews r
		 LEFT JOIN review_classifications c ON c.review_id = r.id
		 WHERE r.product_id = ?
		 ORDER BY r.collected_at, r.id`,
		productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review signals")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ReviewSignal
	for rows.Next() {
		var cc classificationCols
		r, err := scanReview(rows, cc.dest()...)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review signal")
		}
		out = append(out, model.ReviewSignal{Review: *r, Classification: cc.value()})
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate review signals")
}

// --- Trust scores ---

func (s *SQLiteStore) SaveTrustScore(ctx context.Context, rec *model.TrustScoreRecord) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal trust metadata")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin trust tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE products SET trust_score = ?, updated_at = ? WHERE id = ?`,
		rec.TrustScore, time.Now().UTC(), rec.ProductID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mirror trust score %s", rec.ProductID)
	}
	if err := checkRowsAffected(res, "product", rec.ProductID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trust_scores (`+trustScoreColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (product_id) DO UPDATE SET
			trust_score = excluded.trust_score,
			total_reviews = excluded.total_reviews,
			analyzed_reviews = excluded.analyzed_reviews,
			verified_reviews = excluded.verified_reviews,
			spam_reviews = excluded.spam_reviews,
			spam_percentage = excluded.spam_percentage,
			positive_count = excluded.positive_count,
			negative_count = excluded.negative_count,
			neutral_count = excluded.neutral_count,
			average_sentiment = excluded.average_sentiment,
			formula_version = excluded.formula_version,
			metadata = excluded.metadata,
			calculated_at = excluded.calculated_at`,
		rec.ProductID, rec.TrustScore, rec.TotalReviews, rec.AnalyzedReviews, rec.VerifiedReviews,
		rec.SpamReviews, rec.SpamPercentage, rec.PositiveCount, rec.NegativeCount, rec.NeutralCount,
		rec.AverageSentiment, rec.Metadata.FormulaVersion, string(metadata), rec.CalculatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert trust score %s", rec.ProductID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit trust score")
}

func (s *SQLiteStore) GetTrustScore(ctx context.Context, productID string) (*model.TrustScoreRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trustScoreColumns+` FROM trust_scores WHERE product_id = ?`, productID)
	rec, err := scanTrustScore(row)
	if err != nil {
		return nil, notFound(err, "sqlite: get trust score", productID)
	}
	return rec, nil
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, projectID, query string) (*model.DiscoveryRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO discovery_runs (id, project_id, query, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, projectID, query, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status model.RunStatus, report *model.DiscoveryReport) error {
	var reportJSON any
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal report")
		}
		reportJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE discovery_runs SET status = ?, report = ?, updated_at = ? WHERE id = ?`,
		string(status), reportJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.DiscoveryRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, query, status, report, created_at, updated_at FROM discovery_runs WHERE id = ?`,
		runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, notFound(err, "sqlite: get run", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DiscoveryRun, error) {
	query, args, err := listRunsQuery(filter, sq.Question)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.DiscoveryRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

// --- Phases ---

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert phase")
	}
	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal phase result")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_phases SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// normalizeReview fills defaults in place and returns r.
func normalizeReview(r *model.Review) *model.Review {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CollectedAt.IsZero() {
		r.CollectedAt = time.Now().UTC()
	}
	r.Rating = model.ClampRating(r.Rating)
	return r
}
