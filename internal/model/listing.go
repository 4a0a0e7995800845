package model

// CandidateItem is a discovery-produced search link not yet verified by collection.
type CandidateItem struct {
	Platform Platform `json:"platform"`
	URL      string   `json:"url"`
	Idea     string   `json:"idea,omitempty"`
}

// CollectedListing holds the raw fields extracted from a marketplace page.
// Pointer fields are nil when the source did not expose the value.
type CollectedListing struct {
	Name             string   `json:"name"`
	URL              string   `json:"url"`
	Platform         Platform `json:"platform"`
	Price            *float64 `json:"price,omitempty"`
	Currency         string   `json:"currency,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
	ReviewCount      *int     `json:"review_count,omitempty"`
	SalesCount       *int     `json:"sales_count,omitempty"`
	IsMall           *bool    `json:"is_mall,omitempty"`
	IsVerifiedSeller *bool    `json:"is_verified_seller,omitempty"`
	Brand            string   `json:"brand,omitempty"`
	SellerLocation   string   `json:"seller_location,omitempty"`
	TrustScore       *float64 `json:"trust_score,omitempty"`
	ImageURLs        []string `json:"image_urls,omitempty"`
	Keywords         []string `json:"keywords,omitempty"`
	SourceID         string   `json:"source_id,omitempty"`
}
