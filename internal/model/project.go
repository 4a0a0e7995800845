package model

import "time"

// Project scopes a discovery effort and owns the imported products.
type Project struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	TargetProductName string    `json:"target_product_name"`
	TargetCategory    string    `json:"target_category,omitempty"`
	Budget            *float64  `json:"budget,omitempty"`
	Description       string    `json:"description,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// DataSourceAutoCrawl marks products created by the discovery pipeline.
const DataSourceAutoCrawl = "auto_crawl"

// Product is a persisted catalog item. URL is unique within a project.
type Product struct {
	ID               string    `json:"id"`
	ProjectID        string    `json:"project_id"`
	Name             string    `json:"name"`
	URL              string    `json:"url"`
	Platform         Platform  `json:"platform"`
	Price            *float64  `json:"price,omitempty"`
	Currency         string    `json:"currency"`
	Rating           *float64  `json:"rating,omitempty"`
	ReviewCount      *int      `json:"review_count,omitempty"`
	SalesCount       *int      `json:"sales_count,omitempty"`
	Brand            string    `json:"brand,omitempty"`
	ImageURLs        []string  `json:"image_urls,omitempty"`
	Keywords         []string  `json:"keywords,omitempty"`
	IsMall           *bool     `json:"is_mall,omitempty"`
	IsVerifiedSeller *bool     `json:"is_verified_seller,omitempty"`
	SellerLocation   string    `json:"seller_location,omitempty"`
	DataSource       string    `json:"data_source"`
	CreatedBy        string    `json:"created_by,omitempty"`
	TrustScore       *float64  `json:"trust_score,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
