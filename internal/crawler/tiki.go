package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

var tikiProductIDRe = regexp.MustCompile(`-p(\d+)\.html`)

var tikiHeaders = map[string]string{
	"Accept":  "application/json",
	"Referer": "https://tiki.vn/",
}

const tikiReviewPageSize = 20

// TikiCrawler reads Tiki's public listing and review JSON APIs.
type TikiCrawler struct {
	fetcher *Fetcher
	apiURL  string
	siteURL string
}

// NewTikiCrawler creates a TikiCrawler. apiURL is the API base, e.g.
// https://tiki.vn/api/v2.
func NewTikiCrawler(fetcher *Fetcher, apiURL string) *TikiCrawler {
	return &TikiCrawler{
		fetcher: fetcher,
		apiURL:  strings.TrimRight(apiURL, "/"),
		siteURL: "https://tiki.vn",
	}
}

type tikiProduct struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	URLPath       string  `json:"url_path"`
	URLKey        string  `json:"url_key"`
	Price         float64 `json:"price"`
	RatingAverage float64 `json:"rating_average"`
	ReviewCount   int     `json:"review_count"`
	ThumbnailURL  string  `json:"thumbnail_url"`
	BrandName     string  `json:"brand_name"`
	Brand         *struct {
		Name string `json:"name"`
	} `json:"brand"`
	QuantitySold *struct {
		Text  string `json:"text"`
		Value int    `json:"value"`
	} `json:"quantity_sold"`
	Images []struct {
		BaseURL string `json:"base_url"`
	} `json:"images"`
	CurrentSeller *struct {
		Name         string `json:"name"`
		IsBestStore  bool   `json:"is_best_store"`
		IsOfficial   bool   `json:"is_official"`
		StoreLevel   string `json:"store_level"`
		SellerLocale string `json:"seller_locale"`
	} `json:"current_seller"`
	IsAuthentic any `json:"is_authentic"`
}

type tikiListResponse struct {
	Data []tikiProduct `json:"data"`
}

type tikiReviewResponse struct {
	Data []struct {
		ID        int64  `json:"id"`
		Rating    int    `json:"rating"`
		Content   string `json:"content"`
		Title     string `json:"title"`
		CreatedAt int64  `json:"created_at"`
		CreatedBy *struct {
			Purchased bool `json:"purchased"`
		} `json:"created_by"`
	} `json:"data"`
	Paging struct {
		CurrentPage int `json:"current_page"`
		LastPage    int `json:"last_page"`
	} `json:"paging"`
}

// Crawl handles search URLs (tiki.vn/search?q=...) and product pages
// (...-p<id>.html).
func (t *TikiCrawler) Crawl(ctx context.Context, rawURL string, limit int) ([]model.CollectedListing, error) {
	if limit < 1 {
		limit = 1
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "tiki: parse url")
	}

	if id := tikiProductID(u.Path); id != "" {
		var p tikiProduct
		if err := t.getJSON(ctx, fmt.Sprintf("%s/products/%s", t.apiURL, id), &p); err != nil {
			return nil, err
		}
		return []model.CollectedListing{t.toListing(p)}, nil
	}

	q := u.Query().Get("q")
	if q == "" {
		return nil, eris.Errorf("tiki: unsupported url %s", rawURL)
	}
	var resp tikiListResponse
	endpoint := fmt.Sprintf("%s/products?limit=%d&q=%s", t.apiURL, limit, url.QueryEscape(q))
	if err := t.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	out := make([]model.CollectedListing, 0, min(limit, len(resp.Data)))
	for _, p := range resp.Data {
		if strings.TrimSpace(p.Name) == "" {
			continue
		}
		out = append(out, t.toListing(p))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Reviews pages through the review API until limit reviews are read or the
// last page is reached.
func (t *TikiCrawler) Reviews(ctx context.Context, productURL string, limit int) ([]model.Review, error) {
	u, err := url.Parse(productURL)
	if err != nil {
		return nil, eris.Wrap(err, "tiki: parse url")
	}
	id := tikiProductID(u.Path)
	if id == "" {
		id = u.Query().Get("spid")
	}
	if id == "" {
		return nil, eris.Errorf("tiki: no product id in %s", productURL)
	}

	var out []model.Review
	now := time.Now().UTC()
	for page := 1; len(out) < limit; page++ {
		var resp tikiReviewResponse
		endpoint := fmt.Sprintf("%s/reviews?product_id=%s&limit=%d&page=%d", t.apiURL, id, tikiReviewPageSize, page)
		if err := t.getJSON(ctx, endpoint, &resp); err != nil {
			if len(out) > 0 {
				break
			}
			return nil, err
		}
		for _, r := range resp.Data {
			content := strings.TrimSpace(r.Content)
			if content == "" {
				content = strings.TrimSpace(r.Title)
			}
			collected := now
			if r.CreatedAt > 0 {
				collected = time.Unix(r.CreatedAt, 0).UTC()
			}
			out = append(out, model.Review{
				SourceReviewID:     strconv.FormatInt(r.ID, 10),
				Rating:             model.ClampRating(r.Rating),
				Content:            content,
				Platform:           model.PlatformTiki,
				SourceURL:          productURL,
				IsVerifiedPurchase: r.CreatedBy != nil && r.CreatedBy.Purchased,
				CollectedAt:        collected,
			})
			if len(out) == limit {
				break
			}
		}
		if len(resp.Data) == 0 || resp.Paging.LastPage <= page {
			break
		}
	}
	return out, nil
}

func (t *TikiCrawler) getJSON(ctx context.Context, endpoint string, out any) error {
	body, err := t.fetcher.Get(ctx, endpoint, tikiHeaders)
	if err != nil {
		return eris.Wrap(err, "tiki: fetch")
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "tiki: decode %s", endpoint)
	}
	return nil
}

func (t *TikiCrawler) toListing(p tikiProduct) model.CollectedListing {
	l := model.CollectedListing{
		Name:     strings.TrimSpace(p.Name),
		Platform: model.PlatformTiki,
		Currency: "VND",
		Brand:    p.BrandName,
		Keywords: ExtractKeywords(p.Name),
		SourceID: strconv.FormatInt(p.ID, 10),
	}

	path := p.URLPath
	if path == "" && p.URLKey != "" {
		path = fmt.Sprintf("%s-p%d.html", p.URLKey, p.ID)
	}
	if path != "" {
		l.URL = t.siteURL + "/" + strings.TrimLeft(path, "/")
	}
	if l.Brand == "" && p.Brand != nil {
		l.Brand = p.Brand.Name
	}
	if p.Price > 0 {
		price := p.Price
		l.Price = &price
	}
	if p.RatingAverage > 0 || p.ReviewCount > 0 {
		rating := p.RatingAverage
		l.Rating = &rating
	}
	reviews := p.ReviewCount
	l.ReviewCount = &reviews
	if p.QuantitySold != nil {
		if p.QuantitySold.Value > 0 {
			sold := p.QuantitySold.Value
			l.SalesCount = &sold
		} else {
			l.SalesCount = ParseSales(p.QuantitySold.Text)
		}
	}
	if p.ThumbnailURL != "" {
		l.ImageURLs = append(l.ImageURLs, p.ThumbnailURL)
	}
	for _, img := range p.Images {
		if img.BaseURL != "" {
			l.ImageURLs = append(l.ImageURLs, img.BaseURL)
		}
	}
	if s := p.CurrentSeller; s != nil {
		official := s.IsOfficial || s.StoreLevel == "OFFICIAL_STORE"
		l.IsMall = &official
		verified := official || s.IsBestStore
		l.IsVerifiedSeller = &verified
		l.SellerLocation = s.SellerLocale
	}
	return l
}

func tikiProductID(path string) string {
	if m := tikiProductIDRe.FindStringSubmatch(path); m != nil {
		return m[1]
	}
	return ""
}
