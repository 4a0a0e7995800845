package model

import "time"

// TrustWeights is the weight set of the composite trust score.
type TrustWeights struct {
	Sentiment    float64 `json:"sentiment" yaml:"sentiment" mapstructure:"sentiment"`
	Spam         float64 `json:"spam" yaml:"spam" mapstructure:"spam"`
	Volume       float64 `json:"volume" yaml:"volume" mapstructure:"volume"`
	Verification float64 `json:"verification" yaml:"verification" mapstructure:"verification"`
}

// Sum returns the total of all weights.
func (w TrustWeights) Sum() float64 {
	return w.Sentiment + w.Spam + w.Volume + w.Verification
}

// TrustComponents holds the four factor values, each in [0,1].
type TrustComponents struct {
	Sentiment    float64 `json:"sentiment"`
	Spam         float64 `json:"spam"`
	Volume       float64 `json:"volume"`
	Verification float64 `json:"verification"`
}

// ComponentBreakdown explains one factor's share of the score.
type ComponentBreakdown struct {
	Factor       float64 `json:"factor"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	Details      string  `json:"details"`
}

// TrustBreakdown is keyed by component name.
type TrustBreakdown struct {
	Sentiment    ComponentBreakdown `json:"sentiment"`
	Spam         ComponentBreakdown `json:"spam"`
	Volume       ComponentBreakdown `json:"volume"`
	Verification ComponentBreakdown `json:"verification"`
}

// TrustMetadata records how a score was produced.
type TrustMetadata struct {
	FormulaVersion string          `json:"formula_version"`
	Weights        TrustWeights    `json:"weights"`
	Components     TrustComponents `json:"component_scores"`
	Breakdown      TrustBreakdown  `json:"breakdown"`
}

// TrustScoreRecord is the single current trust score of a product.
type TrustScoreRecord struct {
	ProductID        string        `json:"product_id"`
	TrustScore       float64       `json:"trust_score"`
	TotalReviews     int           `json:"total_reviews"`
	AnalyzedReviews  int           `json:"analyzed_reviews"`
	VerifiedReviews  int           `json:"verified_reviews_count"`
	SpamReviews      int           `json:"spam_reviews_count"`
	SpamPercentage   float64       `json:"spam_percentage"`
	PositiveCount    int           `json:"positive_count"`
	NegativeCount    int           `json:"negative_count"`
	NeutralCount     int           `json:"neutral_count"`
	AverageSentiment float64       `json:"average_sentiment_score"`
	Metadata         TrustMetadata `json:"calculation_metadata"`
	CalculatedAt     time.Time     `json:"calculated_at"`
}

// RankedProduct is a product row ordered by trust score.
type RankedProduct struct {
	Product
	FormulaVersion string    `json:"formula_version,omitempty"`
	CalculatedAt   time.Time `json:"calculated_at,omitempty"`
}
