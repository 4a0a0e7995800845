package model

import "time"

// Sentiment labels emitted by the sentiment classifier.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Review is a single customer review owned by a product.
type Review struct {
	ID                 string    `json:"id"`
	ProductID          string    `json:"product_id"`
	SourceReviewID     string    `json:"source_review_id"`
	Rating             int       `json:"rating"`
	Content            string    `json:"content"`
	Platform           Platform  `json:"platform"`
	SourceURL          string    `json:"source_url,omitempty"`
	IsVerifiedPurchase bool      `json:"is_verified_purchase"`
	CollectedAt        time.Time `json:"collected_at"`
}

// ClampRating bounds a marketplace rating to 1..5.
func ClampRating(r int) int {
	if r < 1 {
		return 1
	}
	if r > 5 {
		return 5
	}
	return r
}

// ReviewClassification holds sentiment and spam model output for one review.
type ReviewClassification struct {
	ReviewID              string    `json:"review_id"`
	SentimentLabel        string    `json:"sentiment_label"`
	SentimentScore        float64   `json:"sentiment_score"`
	SentimentConfidence   float64   `json:"sentiment_confidence"`
	IsSpam                bool      `json:"is_spam"`
	SpamScore             float64   `json:"spam_score"`
	SpamConfidence        float64   `json:"spam_confidence"`
	SentimentModelVersion string    `json:"sentiment_model_version,omitempty"`
	SpamModelVersion      string    `json:"spam_model_version,omitempty"`
	AnalyzedAt            time.Time `json:"analyzed_at"`
}

// ReviewSignal pairs a review with its classification. Classification is nil
// for reviews that have not been analyzed yet.
type ReviewSignal struct {
	Review         Review                `json:"review"`
	Classification *ReviewClassification `json:"classification,omitempty"`
}
