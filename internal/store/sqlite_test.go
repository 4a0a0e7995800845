package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func ptr[T any](v T) *T { return &v }

func seedProject(t *testing.T, st Store) *model.Project {
	t.Helper()
	p := &model.Project{Name: "Audio", TargetProductName: "tai nghe bluetooth", Budget: ptr(500000.0)}
	require.NoError(t, st.CreateProject(context.Background(), p))
	return p
}

func seedProduct(t *testing.T, st Store, projectID, url string) string {
	t.Helper()
	id, created, err := st.CreateProductIfAbsent(context.Background(), &model.Product{
		ProjectID:  projectID,
		Name:       "Tai nghe " + url,
		URL:        url,
		Platform:   model.PlatformTiki,
		Price:      ptr(299000.0),
		Currency:   "VND",
		Rating:     ptr(4.6),
		Keywords:   []string{"tai", "nghe"},
		IsMall:     ptr(true),
		DataSource: model.DataSourceAutoCrawl,
	})
	require.NoError(t, err)
	require.True(t, created)
	return id
}

// --- Projects ---

func TestSQLite_Project_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	p := seedProject(t, st)
	assert.NotEmpty(t, p.ID)

	got, err := st.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "tai nghe bluetooth", got.TargetProductName)
	require.NotNil(t, got.Budget)
	assert.InDelta(t, 500000, *got.Budget, 1e-9)
}

func TestSQLite_Project_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetProject(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

// --- Products ---

func TestSQLite_CreateProductIfAbsent_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	proj := seedProject(t, st)

	first := seedProduct(t, st, proj.ID, "https://tiki.vn/tai-nghe-a-p1.html")

	id, created, err := st.CreateProductIfAbsent(ctx, &model.Product{
		ProjectID: proj.ID, Name: "dup", URL: "https://tiki.vn/tai-nghe-a-p1.html", Platform: model.PlatformTiki,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, id)

	ids, err := st.ListProductIDs(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first}, ids)
}

func TestSQLite_GetProduct_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	proj := seedProject(t, st)
	id := seedProduct(t, st, proj.ID, "https://tiki.vn/p2.html")

	got, err := st.GetProduct(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.PlatformTiki, got.Platform)
	assert.Equal(t, []string{"tai", "nghe"}, got.Keywords)
	assert.Nil(t, got.ImageURLs)
	assert.Nil(t, got.ReviewCount)
	assert.Nil(t, got.TrustScore)
	require.NotNil(t, got.IsMall)
	assert.True(t, *got.IsMall)
	assert.Nil(t, got.IsVerifiedSeller)
}

// --- Reviews ---

func TestSQLite_Reviews_SaveAndClassify(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	proj := seedProject(t, st)
	pid := seedProduct(t, st, proj.ID, "https://tiki.vn/p3.html")

	n, err := st.SaveReviews(ctx, []model.Review{
		{ProductID: pid, SourceReviewID: "a", Rating: 5, Content: "tốt", Platform: model.PlatformTiki, IsVerifiedPurchase: true},
		{ProductID: pid, SourceReviewID: "b", Rating: 9, Content: "ok", Platform: model.PlatformTiki},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-ingesting the same source id updates in place.
	_, err = st.SaveReviews(ctx, []model.Review{
		{ProductID: pid, SourceReviewID: "a", Rating: 4, Content: "khá tốt", Platform: model.PlatformTiki, IsVerifiedPurchase: true},
	})
	require.NoError(t, err)

	pending, err := st.ListPendingReviews(ctx, pid, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, st.SaveClassification(ctx, &model.ReviewClassification{
		ReviewID:       pending[0].ID,
		SentimentLabel: model.SentimentPositive,
		SentimentScore: 0.9,
		SpamScore:      0.1,
	}))

	pending, err = st.ListPendingReviews(ctx, pid, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	signals, err := st.ListReviewSignals(ctx, pid)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	var classified, unclassified int
	for _, s := range signals {
		if s.Classification != nil {
			classified++
			assert.Equal(t, model.SentimentPositive, s.Classification.SentimentLabel)
		} else {
			unclassified++
		}
		assert.GreaterOrEqual(t, s.Review.Rating, 1)
		assert.LessOrEqual(t, s.Review.Rating, 5)
	}
	assert.Equal(t, 1, classified)
	assert.Equal(t, 1, unclassified)
}

// --- Trust scores ---

func TestSQLite_TrustScore_UpsertMirrorsProduct(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	proj := seedProject(t, st)
	pid := seedProduct(t, st, proj.ID, "https://tiki.vn/p4.html")

	rec := &model.TrustScoreRecord{
		ProductID:    pid,
		TrustScore:   75.86,
		TotalReviews: 10,
		Metadata:     model.TrustMetadata{FormulaVersion: "1.0+abcd1234"},
		CalculatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.SaveTrustScore(ctx, rec))

	rec.TrustScore = 60
	require.NoError(t, st.SaveTrustScore(ctx, rec))

	got, err := st.GetTrustScore(ctx, pid)
	require.NoError(t, err)
	assert.InDelta(t, 60, got.TrustScore, 1e-9)
	assert.Equal(t, "1.0+abcd1234", got.Metadata.FormulaVersion)

	p, err := st.GetProduct(ctx, pid)
	require.NoError(t, err)
	require.NotNil(t, p.TrustScore)
	assert.InDelta(t, 60, *p.TrustScore, 1e-9)
}

func TestSQLite_TrustScore_MissingProduct(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.SaveTrustScore(context.Background(), &model.TrustScoreRecord{ProductID: "nope", CalculatedAt: time.Now()})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = st.GetTrustScore(context.Background(), "nope")
	assert.True(t, IsNotFound(err))
}

func TestSQLite_ListProductsByTrustScore(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	proj := seedProject(t, st)

	scores := map[string]float64{"a": 40, "b": 90, "c": 65}
	for _, key := range []string{"a", "b", "c"} {
		pid := seedProduct(t, st, proj.ID, "https://tiki.vn/"+key+".html")
		require.NoError(t, st.SaveTrustScore(ctx, &model.TrustScoreRecord{
			ProductID:    pid,
			TrustScore:   scores[key],
			Metadata:     model.TrustMetadata{FormulaVersion: "1.0"},
			CalculatedAt: time.Now().UTC(),
		}))
	}
	seedProduct(t, st, proj.ID, "https://tiki.vn/unscored.html")

	all, err := st.ListProductsByTrustScore(ctx, ProductFilter{ProjectID: proj.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.InDelta(t, 90, *all[0].TrustScore, 1e-9)
	assert.InDelta(t, 65, *all[1].TrustScore, 1e-9)
	assert.InDelta(t, 40, *all[2].TrustScore, 1e-9)
	assert.Equal(t, "1.0", all[0].FormulaVersion)

	ranged, err := st.ListProductsByTrustScore(ctx, ProductFilter{ProjectID: proj.ID, MinScore: ptr(50.0), MaxScore: ptr(80.0)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.InDelta(t, 65, *ranged[0].TrustScore, 1e-9)

	paged, err := st.ListProductsByTrustScore(ctx, ProductFilter{ProjectID: proj.ID, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.InDelta(t, 65, *paged[0].TrustScore, 1e-9)
}

// --- Runs and phases ---

func TestSQLite_Runs_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "proj-1", "tai nghe")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	phase, err := st.CreatePhase(ctx, run.ID, "intent")
	require.NoError(t, err)
	require.NoError(t, st.CompletePhase(ctx, phase.ID, &model.PhaseResult{
		Name: "intent", Status: model.PhaseStatusComplete, Duration: 12,
	}))

	report := &model.DiscoveryReport{Status: model.ReportSuccess, ProductsImported: 3, RunID: run.ID}
	require.NoError(t, st.CompleteRun(ctx, run.ID, model.RunStatusComplete, report))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, 3, got.Report.ProductsImported)

	runs, err := st.ListRuns(ctx, RunFilter{ProjectID: "proj-1", Status: model.RunStatusComplete})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	runs, err = st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestSQLite_CompleteRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.CompleteRun(context.Background(), "missing", model.RunStatusFailed, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/scout.db")
	assert.True(t, strings.HasPrefix(dsn, "/tmp/scout.db?"))
	assert.Contains(t, dsn, "_pragma=busy_timeout(10000)")
	assert.Contains(t, dsn, "_pragma=foreign_keys(1)")
	assert.Contains(t, dsn, "_txlock=immediate")

	assert.Contains(t, sqliteDSN("file:scout.db?mode=rwc"), "mode=rwc&_pragma=")
	assert.Equal(t, "x.db?_pragma=foreign_keys(0)", sqliteDSN("x.db?_pragma=foreign_keys(0)"))
}

func TestSQLite_ForeignKeysOnEveryConnection(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	st.db.SetMaxIdleConns(8)

	conns := make([]*sql.Conn, 4)
	for i := range conns {
		c, err := st.db.Conn(ctx)
		require.NoError(t, err)
		conns[i] = c
	}
	for _, c := range conns {
		var fk, timeout int
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
		require.NoError(t, c.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 1, fk)
		assert.Equal(t, 10000, timeout)
		require.NoError(t, c.Close())
	}
}

func TestSQLite_SaveReviews_CollapsesRepeatedSourceIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProject(t, st)
	pid := seedProduct(t, st, p.ID, "https://tiki.vn/tai-nghe-p9.html")

	n, err := st.SaveReviews(ctx, []model.Review{
		{ProductID: pid, SourceReviewID: "a", Rating: 5, Content: "hay", Platform: model.PlatformTiki},
		{ProductID: pid, SourceReviewID: "a", Rating: 3, Content: "tam", Platform: model.PlatformTiki},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	signals, err := st.ListReviewSignals(ctx, pid)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "tam", signals[0].Review.Content)
}
