package model

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// FilterCriteria holds structured constraints compiled from user intent.
// A nil pointer or empty slice means the field is unconstrained.
type FilterCriteria struct {
	MinRating        *float64   `json:"min_rating,omitempty"`
	MaxRating        *float64   `json:"max_rating,omitempty"`
	MinReviewCount   *int       `json:"min_review_count,omitempty"`
	MaxReviewCount   *int       `json:"max_review_count,omitempty"`
	MinPrice         *float64   `json:"min_price,omitempty"`
	MaxPrice         *float64   `json:"max_price,omitempty"`
	Platforms        []Platform `json:"platforms,omitempty"`
	IsMall           *bool      `json:"is_mall,omitempty"`
	IsVerifiedSeller *bool      `json:"is_verified_seller,omitempty"`
	RequiredKeywords []string   `json:"required_keywords,omitempty"`
	ExcludedKeywords []string   `json:"excluded_keywords,omitempty"`
	MinSalesCount    *int       `json:"min_sales_count,omitempty"`
	MinTrustScore    *float64   `json:"min_trust_score,omitempty"`
	RequiredBrands   []string   `json:"required_brands,omitempty"`
	ExcludedBrands   []string   `json:"excluded_brands,omitempty"`
	SellerLocations  []string   `json:"seller_locations,omitempty"`
}

// IsEmpty reports whether no field is populated.
func (c *FilterCriteria) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.MinRating == nil && c.MaxRating == nil &&
		c.MinReviewCount == nil && c.MaxReviewCount == nil &&
		c.MinPrice == nil && c.MaxPrice == nil &&
		len(c.Platforms) == 0 &&
		c.IsMall == nil && c.IsVerifiedSeller == nil &&
		len(c.RequiredKeywords) == 0 && len(c.ExcludedKeywords) == 0 &&
		c.MinSalesCount == nil && c.MinTrustScore == nil &&
		len(c.RequiredBrands) == 0 && len(c.ExcludedBrands) == 0 &&
		len(c.SellerLocations) == 0
}

// Validate checks value ranges and that every min/max pair satisfies min <= max.
func (c *FilterCriteria) Validate() error {
	if c == nil {
		return nil
	}
	var errs []string

	checkRange := func(name string, v *float64, lo, hi float64) {
		if v != nil && (*v < lo || *v > hi) {
			errs = append(errs, fmt.Sprintf("%s must be between %g and %g", name, lo, hi))
		}
	}
	checkNonNegInt := func(name string, v *int) {
		if v != nil && *v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}

	checkRange("min_rating", c.MinRating, 0, 5)
	checkRange("max_rating", c.MaxRating, 0, 5)
	checkRange("min_trust_score", c.MinTrustScore, 0, 100)
	if c.MinPrice != nil && *c.MinPrice < 0 {
		errs = append(errs, "min_price must be >= 0")
	}
	if c.MaxPrice != nil && *c.MaxPrice < 0 {
		errs = append(errs, "max_price must be >= 0")
	}
	checkNonNegInt("min_review_count", c.MinReviewCount)
	checkNonNegInt("max_review_count", c.MaxReviewCount)
	checkNonNegInt("min_sales_count", c.MinSalesCount)

	if c.MinRating != nil && c.MaxRating != nil && *c.MinRating > *c.MaxRating {
		errs = append(errs, fmt.Sprintf("min_rating (%g) > max_rating (%g)", *c.MinRating, *c.MaxRating))
	}
	if c.MinReviewCount != nil && c.MaxReviewCount != nil && *c.MinReviewCount > *c.MaxReviewCount {
		errs = append(errs, fmt.Sprintf("min_review_count (%d) > max_review_count (%d)", *c.MinReviewCount, *c.MaxReviewCount))
	}
	if c.MinPrice != nil && c.MaxPrice != nil && *c.MinPrice > *c.MaxPrice {
		errs = append(errs, fmt.Sprintf("min_price (%g) > max_price (%g)", *c.MinPrice, *c.MaxPrice))
	}

	if len(errs) > 0 {
		return eris.Errorf("invalid filter criteria: %s", strings.Join(errs, "; "))
	}
	return nil
}

// WithPlatforms returns a copy of c restricted to platforms.
func (c *FilterCriteria) WithPlatforms(platforms []Platform) *FilterCriteria {
	var out FilterCriteria
	if c != nil {
		out = *c
	}
	out.Platforms = append([]Platform(nil), platforms...)
	return &out
}
