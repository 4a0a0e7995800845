// Package filter evaluates FilterCriteria against collected listings.
package filter

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/product-scout/internal/model"
)

// Rejection records why a listing did not survive.
type Rejection struct {
	Listing model.CollectedListing `json:"listing"`
	Reasons []string               `json:"reasons"`
}

// Apply returns the listings that satisfy every populated predicate of c, in
// input order, plus the rejected ones with the predicates they failed. A nil
// or empty c keeps everything.
func Apply(listings []model.CollectedListing, c *model.FilterCriteria) ([]model.CollectedListing, []Rejection) {
	survivors := make([]model.CollectedListing, 0, len(listings))
	var rejected []Rejection
	for _, l := range listings {
		if reasons := Check(l, c); len(reasons) > 0 {
			rejected = append(rejected, Rejection{Listing: l, Reasons: reasons})
			continue
		}
		survivors = append(survivors, l)
	}
	return survivors, rejected
}

// Check evaluates every populated predicate of c independently and returns
// the failures. An empty result means l passes.
func Check(l model.CollectedListing, c *model.FilterCriteria) []string {
	if c.IsEmpty() {
		return nil
	}
	var reasons []string
	fail := func(format string, args ...any) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if c.MinRating != nil && (l.Rating == nil || *l.Rating < *c.MinRating) {
		fail("rating %s below minimum %g", floatOrUnknown(l.Rating), *c.MinRating)
	}
	if c.MaxRating != nil && l.Rating != nil && *l.Rating > *c.MaxRating {
		fail("rating %g above maximum %g", *l.Rating, *c.MaxRating)
	}
	if c.MinReviewCount != nil && (l.ReviewCount == nil || *l.ReviewCount < *c.MinReviewCount) {
		fail("review count %s below minimum %d", intOrUnknown(l.ReviewCount), *c.MinReviewCount)
	}
	if c.MaxReviewCount != nil && l.ReviewCount != nil && *l.ReviewCount > *c.MaxReviewCount {
		fail("review count %d above maximum %d", *l.ReviewCount, *c.MaxReviewCount)
	}
	// Price is always expected on a listing, so an unknown price fails both bounds.
	if c.MinPrice != nil && (l.Price == nil || *l.Price < *c.MinPrice) {
		fail("price %s below minimum %g", floatOrUnknown(l.Price), *c.MinPrice)
	}
	if c.MaxPrice != nil && (l.Price == nil || *l.Price > *c.MaxPrice) {
		fail("price %s above maximum %g", floatOrUnknown(l.Price), *c.MaxPrice)
	}
	if c.MinSalesCount != nil && (l.SalesCount == nil || *l.SalesCount < *c.MinSalesCount) {
		fail("sales count %s below minimum %d", intOrUnknown(l.SalesCount), *c.MinSalesCount)
	}
	if c.MinTrustScore != nil && l.TrustScore != nil && *l.TrustScore < *c.MinTrustScore {
		fail("trust score %g below minimum %g", *l.TrustScore, *c.MinTrustScore)
	}

	if len(c.Platforms) > 0 && !slices.Contains(c.Platforms, l.Platform) {
		fail("platform %q not allowed", l.Platform)
	}
	if c.IsMall != nil && (l.IsMall == nil || *l.IsMall != *c.IsMall) {
		fail("mall seller requirement (%t) not met", *c.IsMall)
	}
	if c.IsVerifiedSeller != nil && (l.IsVerifiedSeller == nil || *l.IsVerifiedSeller != *c.IsVerifiedSeller) {
		fail("verified seller requirement (%t) not met", *c.IsVerifiedSeller)
	}

	name := fold(l.Name)
	for _, kw := range c.RequiredKeywords {
		if k := fold(kw); k != "" && !strings.Contains(name, k) {
			fail("missing required keyword %q", kw)
		}
	}
	for _, kw := range c.ExcludedKeywords {
		if k := fold(kw); k != "" && strings.Contains(name, k) {
			fail("contains excluded keyword %q", kw)
		}
	}

	brand := fold(l.Brand)
	if len(c.RequiredBrands) > 0 && !slices.ContainsFunc(c.RequiredBrands, func(b string) bool { return fold(b) == brand }) {
		fail("brand %q not in required brands", l.Brand)
	}
	if brand != "" && slices.ContainsFunc(c.ExcludedBrands, func(b string) bool { return fold(b) == brand }) {
		fail("brand %q is excluded", l.Brand)
	}

	if len(c.SellerLocations) > 0 {
		loc := fold(l.SellerLocation)
		matched := loc != "" && slices.ContainsFunc(c.SellerLocations, func(want string) bool {
			w := fold(want)
			return w != "" && strings.Contains(loc, w)
		})
		if !matched {
			fail("seller location %q not in allowed locations", l.SellerLocation)
		}
	}
	return reasons
}

// Summarize joins up to n rejection reasons for user-facing messages.
func Summarize(rejected []Rejection, n int) string {
	var parts []string
	for _, r := range rejected {
		if len(parts) == n {
			break
		}
		parts = append(parts, fmt.Sprintf("%s: %s", r.Listing.Name, strings.Join(r.Reasons, ", ")))
	}
	return strings.Join(parts, "; ")
}

// fold builds a Caser per call; Casers are not safe for concurrent use.
func fold(s string) string {
	return strings.TrimSpace(cases.Fold().String(norm.NFC.String(s)))
}

func floatOrUnknown(v *float64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%g", *v)
}

func intOrUnknown(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *v)
}
