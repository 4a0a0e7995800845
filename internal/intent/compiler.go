package intent

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

// Compiler converts constraint prose into FilterCriteria.
type Compiler struct {
	llm anthropic.Client
	cfg Config
}

// NewCompiler creates a Compiler.
func NewCompiler(llm anthropic.Client, cfg Config) *Compiler {
	return &Compiler{llm: llm, cfg: cfg}
}

// rawCriteria mirrors FilterCriteria with platforms left as strings so they
// can be checked against the known set.
type rawCriteria struct {
	MinRating        *float64 `json:"min_rating"`
	MaxRating        *float64 `json:"max_rating"`
	MinReviewCount   *int     `json:"min_review_count"`
	MaxReviewCount   *int     `json:"max_review_count"`
	MinPrice         *float64 `json:"min_price"`
	MaxPrice         *float64 `json:"max_price"`
	Platforms        []string `json:"platforms"`
	IsMall           *bool    `json:"is_mall"`
	IsVerifiedSeller *bool    `json:"is_verified_seller"`
	RequiredKeywords []string `json:"required_keywords"`
	ExcludedKeywords []string `json:"excluded_keywords"`
	MinSalesCount    *int     `json:"min_sales_count"`
	MinTrustScore    *float64 `json:"min_trust_score"`
	RequiredBrands   []string `json:"required_brands"`
	ExcludedBrands   []string `json:"excluded_brands"`
	SellerLocations  []string `json:"seller_locations"`
}

// Compile returns nil criteria when filterText is empty or states nothing
// the filter understands.
func (c *Compiler) Compile(ctx context.Context, filterText string) (*model.FilterCriteria, error) {
	filterText = strings.TrimSpace(filterText)
	if filterText == "" {
		return nil, nil
	}

	req := anthropic.MessageRequest{
		Model:     c.cfg.FastModel,
		MaxTokens: c.cfg.MaxTokens,
		System:    anthropic.CachedSystem(compileSystem),
		Messages:  []anthropic.Message{{Role: "user", Content: sprintf(compileUser, filterText)}},
	}

	var raw rawCriteria
	if err := anthropic.AskJSON(ctx, c.llm, req, "criteria", &raw); err != nil {
		return nil, classify(err, "could not interpret the filter criteria")
	}

	criteria, err := raw.toCriteria()
	if err != nil {
		return nil, model.ValidationFailure(err.Error(), err)
	}
	if criteria.IsEmpty() {
		return nil, nil
	}
	if err := criteria.Validate(); err != nil {
		return nil, model.ValidationFailure(err.Error(), err)
	}

	zap.L().Debug("criteria: compiled", zap.Any("criteria", criteria))
	return criteria, nil
}

func (r rawCriteria) toCriteria() (*model.FilterCriteria, error) {
	c := &model.FilterCriteria{
		MinRating:        r.MinRating,
		MaxRating:        r.MaxRating,
		MinReviewCount:   r.MinReviewCount,
		MaxReviewCount:   r.MaxReviewCount,
		MinPrice:         r.MinPrice,
		MaxPrice:         r.MaxPrice,
		IsMall:           r.IsMall,
		IsVerifiedSeller: r.IsVerifiedSeller,
		RequiredKeywords: cleanList(r.RequiredKeywords),
		ExcludedKeywords: cleanList(r.ExcludedKeywords),
		MinSalesCount:    r.MinSalesCount,
		MinTrustScore:    r.MinTrustScore,
		RequiredBrands:   cleanList(r.RequiredBrands),
		ExcludedBrands:   cleanList(r.ExcludedBrands),
		SellerLocations:  cleanList(r.SellerLocations),
	}
	seen := make(map[model.Platform]bool)
	for _, s := range cleanList(r.Platforms) {
		p, err := model.ParsePlatform(s)
		if err != nil {
			return nil, eris.Wrap(err, "criteria: platforms")
		}
		if !seen[p] {
			seen[p] = true
			c.Platforms = append(c.Platforms, p)
		}
	}
	return c, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
