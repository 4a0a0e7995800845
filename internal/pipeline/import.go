package pipeline

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
)

// marketplaceHosts have tracking parameters stripped before dedupe.
var marketplaceHosts = []string{"shopee.vn", "lazada.vn", "tiki.vn"}

// ProductCreator is the persistence the import stage needs.
type ProductCreator interface {
	CreateProductIfAbsent(ctx context.Context, p *model.Product) (id string, created bool, err error)
}

// ImportResult summarizes the import stage.
type ImportResult struct {
	IDs     []string
	Created int
	Matched int
	Failed  int
}

// Import persists listings under projectID, deduplicating by cleaned URL.
// Existing products count as matched. Per-item errors are logged and
// skipped; the stage fails only when nothing was created or matched.
func Import(ctx context.Context, st ProductCreator, projectID, userID string, listings []model.CollectedListing) (*ImportResult, error) {
	out := &ImportResult{IDs: []string{}}
	seen := make(map[string]bool, len(listings))

	for _, l := range listings {
		if err := ctx.Err(); err != nil {
			break
		}
		p := toProduct(l, projectID, userID)
		if p.URL == "" || seen[p.URL] {
			continue
		}
		seen[p.URL] = true

		id, created, err := st.CreateProductIfAbsent(ctx, p)
		if err != nil {
			out.Failed++
			zap.L().Warn("pipeline: import failed for listing",
				zap.String("url", p.URL),
				zap.String("project_id", projectID),
				zap.Error(err),
			)
			continue
		}
		if created {
			out.Created++
		} else {
			out.Matched++
		}
		out.IDs = append(out.IDs, id)
	}

	if len(out.IDs) == 0 {
		return out, model.NewStageError(model.ErrImportFailure, "no products could be imported", ctx.Err())
	}
	return out, nil
}

func toProduct(l model.CollectedListing, projectID, userID string) *model.Product {
	currency := l.Currency
	if currency == "" {
		currency = "VND"
	}
	return &model.Product{
		ProjectID:        projectID,
		Name:             strings.TrimSpace(l.Name),
		URL:              CleanURL(l.URL),
		Platform:         l.Platform,
		Price:            l.Price,
		Currency:         currency,
		Rating:           l.Rating,
		ReviewCount:      l.ReviewCount,
		SalesCount:       l.SalesCount,
		Brand:            l.Brand,
		ImageURLs:        l.ImageURLs,
		Keywords:         l.Keywords,
		IsMall:           l.IsMall,
		IsVerifiedSeller: l.IsVerifiedSeller,
		SellerLocation:   l.SellerLocation,
		DataSource:       model.DataSourceAutoCrawl,
		CreatedBy:        userID,
	}
}

// CleanURL normalizes a listing URL for deduplication: marketplace links lose
// their query and fragment, and trailing slashes are trimmed.
func CleanURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range marketplaceHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			u.RawQuery = ""
			u.ForceQuery = false
			u.Fragment = ""
			break
		}
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
