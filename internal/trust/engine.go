// Package trust computes, persists, and serves product trust scores.
//
// A trust score blends four factors drawn from a product's reviews and their
// sentiment/spam classifications. The formula is pure (Aggregate + Compute);
// Service adds per-product locking and persistence on top.
package trust

import (
	"crypto/sha256"
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

// Factor defaults for products without analyzed reviews.
const (
	NeutralSentiment = 0.5
	NoSpamFactor     = 1.0
)

// Config is the immutable formula configuration.
type Config struct {
	FormulaVersion   string
	Weights          model.TrustWeights
	VolumeSaturation int
}

// DefaultConfig returns the 0.4/0.3/0.2/0.1 formula saturating at 1000 reviews.
func DefaultConfig() Config {
	return Config{
		FormulaVersion: "1.0",
		Weights: model.TrustWeights{
			Sentiment:    0.4,
			Spam:         0.3,
			Volume:       0.2,
			Verification: 0.1,
		},
		VolumeSaturation: 1000,
	}
}

// ValidateConfig checks that weights are non-negative and sum to 1.
func ValidateConfig(cfg Config) error {
	w := cfg.Weights
	for name, v := range map[string]float64{
		"sentiment":    w.Sentiment,
		"spam":         w.Spam,
		"volume":       w.Volume,
		"verification": w.Verification,
	} {
		if v < 0 || math.IsNaN(v) {
			return eris.Errorf("trust: %s weight must be >= 0, got %g", name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > 1e-9 {
		return eris.Errorf("trust: weights must sum to 1.0, got %g", sum)
	}
	if cfg.VolumeSaturation < 1 {
		return eris.Errorf("trust: volume saturation must be >= 1, got %d", cfg.VolumeSaturation)
	}
	if cfg.FormulaVersion == "" {
		return eris.New("trust: formula version is required")
	}
	return nil
}

// VersionTag is the formula version plus a short hash of the weights and
// saturation, so records computed under different settings are told apart.
func (c Config) VersionTag() string {
	w := c.Weights
	sum := sha256.Sum256(fmt.Appendf(nil, "%g|%g|%g|%g|%d",
		w.Sentiment, w.Spam, w.Volume, w.Verification, c.VolumeSaturation))
	return fmt.Sprintf("%s+%x", c.FormulaVersion, sum[:4])
}

// Stats are the raw review statistics of one product.
type Stats struct {
	TotalReviews    int
	AnalyzedReviews int
	VerifiedReviews int
	SpamReviews     int
	PositiveCount   int
	NegativeCount   int
	NeutralCount    int
	SentimentSum    float64
}

// AverageSentiment is the mean sentiment of analyzed reviews, or neutral.
func (s Stats) AverageSentiment() float64 {
	if s.AnalyzedReviews == 0 {
		return NeutralSentiment
	}
	return s.SentimentSum / float64(s.AnalyzedReviews)
}

// SpamPercentage is the share of analyzed reviews flagged as spam, 0..100.
func (s Stats) SpamPercentage() float64 {
	if s.AnalyzedReviews == 0 {
		return 0
	}
	return round2(float64(s.SpamReviews) / float64(s.AnalyzedReviews) * 100)
}

// Aggregate folds review signals into Stats. Every review counts toward the
// total and verified counts; only classified reviews feed sentiment and spam.
func Aggregate(signals []model.ReviewSignal) Stats {
	var s Stats
	for _, sig := range signals {
		s.TotalReviews++
		if sig.Review.IsVerifiedPurchase {
			s.VerifiedReviews++
		}
		c := sig.Classification
		if c == nil {
			continue
		}
		s.AnalyzedReviews++
		s.SentimentSum += clamp01(c.SentimentScore)
		if c.IsSpam {
			s.SpamReviews++
		}
		switch c.SentimentLabel {
		case model.SentimentPositive:
			s.PositiveCount++
		case model.SentimentNegative:
			s.NegativeCount++
		default:
			s.NeutralCount++
		}
	}
	return s
}

// Components returns the four factors, each in [0,1].
func Components(s Stats, cfg Config) model.TrustComponents {
	out := model.TrustComponents{
		Sentiment: clamp01(s.AverageSentiment()),
		Spam:      NoSpamFactor,
	}
	if s.AnalyzedReviews > 0 {
		out.Spam = clamp01(1 - float64(s.SpamReviews)/float64(s.AnalyzedReviews))
	}
	if s.TotalReviews > 0 {
		sat := float64(max(cfg.VolumeSaturation, 1))
		out.Volume = math.Min(math.Log(float64(s.TotalReviews)+1)/math.Log(sat+1), 1)
		out.Verification = clamp01(float64(s.VerifiedReviews) / float64(s.TotalReviews))
	}
	return out
}

// Score is the weighted composite, scaled to 0..100 and rounded to cents.
func Score(c model.TrustComponents, w model.TrustWeights) float64 {
	raw := (c.Sentiment*w.Sentiment + c.Spam*w.Spam + c.Volume*w.Volume + c.Verification*w.Verification) * 100
	return math.Max(0, math.Min(100, round2(raw)))
}

// Compute builds the full record for productID. It does not set CalculatedAt.
func Compute(productID string, s Stats, cfg Config) *model.TrustScoreRecord {
	comps := Components(s, cfg)
	w := cfg.Weights
	return &model.TrustScoreRecord{
		ProductID:        productID,
		TrustScore:       Score(comps, w),
		TotalReviews:     s.TotalReviews,
		AnalyzedReviews:  s.AnalyzedReviews,
		VerifiedReviews:  s.VerifiedReviews,
		SpamReviews:      s.SpamReviews,
		SpamPercentage:   s.SpamPercentage(),
		PositiveCount:    s.PositiveCount,
		NegativeCount:    s.NegativeCount,
		NeutralCount:     s.NeutralCount,
		AverageSentiment: round4(s.AverageSentiment()),
		Metadata: model.TrustMetadata{
			FormulaVersion: cfg.VersionTag(),
			Weights:        w,
			Components: model.TrustComponents{
				Sentiment:    round4(comps.Sentiment),
				Spam:         round4(comps.Spam),
				Volume:       round4(comps.Volume),
				Verification: round4(comps.Verification),
			},
			Breakdown: breakdown(s, comps, w),
		},
	}
}

func breakdown(s Stats, c model.TrustComponents, w model.TrustWeights) model.TrustBreakdown {
	part := func(factor, weight float64, details string) model.ComponentBreakdown {
		return model.ComponentBreakdown{
			Factor:       round4(factor),
			Weight:       weight,
			Contribution: round2(factor * weight * 100),
			Details:      details,
		}
	}
	return model.TrustBreakdown{
		Sentiment: part(c.Sentiment, w.Sentiment, fmt.Sprintf(
			"%d positive, %d negative, %d neutral; average %.4f over %d analyzed",
			s.PositiveCount, s.NegativeCount, s.NeutralCount, s.AverageSentiment(), s.AnalyzedReviews)),
		Spam: part(c.Spam, w.Spam, fmt.Sprintf(
			"%d of %d analyzed flagged as spam (%.2f%%)",
			s.SpamReviews, s.AnalyzedReviews, s.SpamPercentage())),
		Volume: part(c.Volume, w.Volume, fmt.Sprintf(
			"%d total reviews", s.TotalReviews)),
		Verification: part(c.Verification, w.Verification, fmt.Sprintf(
			"%d of %d verified purchases", s.VerifiedReviews, s.TotalReviews)),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
