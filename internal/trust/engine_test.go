package trust

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/product-scout/internal/model"
)

// signals builds total reviews; the first analyzed are classified with
// sentiment score avg, the first spam of those flagged, the first verified
// marked as verified purchases.
func signals(total, analyzed, spam, verified int, avg float64) []model.ReviewSignal {
	out := make([]model.ReviewSignal, total)
	for i := range total {
		out[i].Review = model.Review{
			ID:                 fmt.Sprintf("r%d", i),
			Rating:             5,
			IsVerifiedPurchase: i < verified,
		}
		if i < analyzed {
			out[i].Classification = &model.ReviewClassification{
				ReviewID:       out[i].Review.ID,
				SentimentLabel: model.SentimentPositive,
				SentimentScore: avg,
				IsSpam:         i < spam,
			}
		}
	}
	return out
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ValidateConfig(cfg))
	assert.InDelta(t, 1.0, cfg.Weights.Sum(), 1e-12)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"negative weight", func(c *Config) { c.Weights.Spam = -0.1; c.Weights.Sentiment = 0.8 }, "spam weight"},
		{"sum too low", func(c *Config) { c.Weights.Verification = 0 }, "sum to 1.0"},
		{"sum too high", func(c *Config) { c.Weights.Volume = 0.5 }, "sum to 1.0"},
		{"zero saturation", func(c *Config) { c.VolumeSaturation = 0 }, "saturation"},
		{"no version", func(c *Config) { c.FormulaVersion = "" }, "formula version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestVersionTag(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.Equal(t, a.VersionTag(), b.VersionTag())
	assert.Regexp(t, `^1\.0\+[0-9a-f]{8}$`, a.VersionTag())

	b.Weights.Sentiment, b.Weights.Spam = 0.3, 0.4
	assert.NotEqual(t, a.VersionTag(), b.VersionTag())

	c := DefaultConfig()
	c.VolumeSaturation = 500
	assert.NotEqual(t, a.VersionTag(), c.VersionTag())
}

func TestCompute_ZeroReviews(t *testing.T) {
	rec := Compute("p1", Aggregate(nil), DefaultConfig())

	assert.Equal(t, 50.00, rec.TrustScore)
	assert.Equal(t, "p1", rec.ProductID)
	assert.Equal(t, 0, rec.TotalReviews)
	assert.Equal(t, 0.5, rec.AverageSentiment)
	assert.Equal(t, 0.0, rec.SpamPercentage)

	c := rec.Metadata.Components
	assert.Equal(t, 0.5, c.Sentiment)
	assert.Equal(t, 1.0, c.Spam)
	assert.Equal(t, 0.0, c.Volume)
	assert.Equal(t, 0.0, c.Verification)
}

func TestCompute_WorkedExample(t *testing.T) {
	rec := Compute("p1", Aggregate(signals(100, 100, 5, 40, 0.75)), DefaultConfig())

	assert.Equal(t, 75.86, rec.TrustScore)
	assert.Equal(t, 100, rec.TotalReviews)
	assert.Equal(t, 100, rec.AnalyzedReviews)
	assert.Equal(t, 5, rec.SpamReviews)
	assert.Equal(t, 40, rec.VerifiedReviews)
	assert.Equal(t, 5.0, rec.SpamPercentage)
	assert.Equal(t, 100, rec.PositiveCount)
	assert.InDelta(t, 0.75, rec.AverageSentiment, 1e-9)

	c := rec.Metadata.Components
	assert.InDelta(t, 0.75, c.Sentiment, 1e-9)
	assert.InDelta(t, 0.95, c.Spam, 1e-9)
	assert.InDelta(t, 0.668, c.Volume, 1e-9)
	assert.InDelta(t, 0.40, c.Verification, 1e-9)

	assert.Equal(t, DefaultConfig().Weights, rec.Metadata.Weights)
	assert.Equal(t, DefaultConfig().VersionTag(), rec.Metadata.FormulaVersion)

	b := rec.Metadata.Breakdown
	assert.Equal(t, 30.0, b.Sentiment.Contribution)
	assert.Equal(t, 28.5, b.Spam.Contribution)
	assert.Equal(t, 13.36, b.Volume.Contribution)
	assert.Equal(t, 4.0, b.Verification.Contribution)
	assert.Equal(t, 0.4, b.Sentiment.Weight)
	assert.Contains(t, b.Spam.Details, "5 of 100")
	assert.Contains(t, b.Verification.Details, "40 of 100")
}

func TestAggregate_UnanalyzedCountTowardTotals(t *testing.T) {
	sigs := signals(10, 4, 1, 6, 0.5)
	s := Aggregate(sigs)

	assert.Equal(t, 10, s.TotalReviews)
	assert.Equal(t, 4, s.AnalyzedReviews)
	assert.Equal(t, 6, s.VerifiedReviews)
	assert.Equal(t, 1, s.SpamReviews)

	c := Components(s, DefaultConfig())
	assert.InDelta(t, 0.75, c.Spam, 1e-9)
	assert.InDelta(t, 0.6, c.Verification, 1e-9)
	assert.InDelta(t, math.Log(11)/math.Log(1001), c.Volume, 1e-12)
}

func TestAggregate_SentimentLabels(t *testing.T) {
	sigs := []model.ReviewSignal{
		{Classification: &model.ReviewClassification{SentimentLabel: model.SentimentPositive, SentimentScore: 0.9}},
		{Classification: &model.ReviewClassification{SentimentLabel: model.SentimentNegative, SentimentScore: 0.1}},
		{Classification: &model.ReviewClassification{SentimentLabel: model.SentimentNeutral, SentimentScore: 0.5}},
		{Classification: &model.ReviewClassification{SentimentLabel: "mixed", SentimentScore: 0.5}},
		{},
	}
	s := Aggregate(sigs)

	assert.Equal(t, 1, s.PositiveCount)
	assert.Equal(t, 1, s.NegativeCount)
	assert.Equal(t, 2, s.NeutralCount)
	assert.InDelta(t, 0.5, s.AverageSentiment(), 1e-9)
}

func TestAggregate_OutOfRangeScoresClamped(t *testing.T) {
	sigs := []model.ReviewSignal{
		{Classification: &model.ReviewClassification{SentimentScore: 1.7}},
		{Classification: &model.ReviewClassification{SentimentScore: -3}},
	}
	assert.InDelta(t, 0.5, Aggregate(sigs).AverageSentiment(), 1e-9)
}

func TestComponents_VolumeSaturates(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1.0, Components(Stats{TotalReviews: 1000}, cfg).Volume)
	assert.Equal(t, 1.0, Components(Stats{TotalReviews: 50000}, cfg).Volume)
	assert.Less(t, Components(Stats{TotalReviews: 999}, cfg).Volume, 1.0)
}

func TestCompute_Idempotent(t *testing.T) {
	sigs := signals(37, 30, 7, 11, 0.62)
	a := Compute("p1", Aggregate(sigs), DefaultConfig())
	b := Compute("p1", Aggregate(sigs), DefaultConfig())
	assert.Equal(t, a, b)
}

func TestCompute_BoundsProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	cfg := DefaultConfig()
	for range 500 {
		total := rng.IntN(3000)
		analyzed := 0
		if total > 0 {
			analyzed = rng.IntN(total + 1)
		}
		spam := 0
		if analyzed > 0 {
			spam = rng.IntN(analyzed + 1)
		}
		verified := 0
		if total > 0 {
			verified = rng.IntN(total + 1)
		}
		s := Stats{
			TotalReviews:    total,
			AnalyzedReviews: analyzed,
			SpamReviews:     spam,
			VerifiedReviews: verified,
			SentimentSum:    rng.Float64() * float64(analyzed),
		}
		rec := Compute("p", s, cfg)
		require.GreaterOrEqual(t, rec.TrustScore, 0.0)
		require.LessOrEqual(t, rec.TrustScore, 100.0)
		assert.InDelta(t, 1.0, rec.Metadata.Weights.Sum(), 1e-9)
		assert.Equal(t, rec.TrustScore, math.Round(rec.TrustScore*100)/100)
	}
}

func TestScore_ExtremeFactors(t *testing.T) {
	w := DefaultConfig().Weights
	assert.Equal(t, 100.0, Score(model.TrustComponents{Sentiment: 1, Spam: 1, Volume: 1, Verification: 1}, w))
	assert.Equal(t, 0.0, Score(model.TrustComponents{}, w))
}
