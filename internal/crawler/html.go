package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/product-scout/internal/model"
)

// cardSelectors are tried in order; the first that matches anything wins.
var cardSelectors = []string{
	"[data-qa-locator=product-item]",
	"[data-testid=product-card]",
	"div[data-component-type=s-search-result]",
	".product-item",
	".product-card",
}

// HTMLCrawler extracts listings from server-rendered marketplace pages:
// JSON-LD Product data first, then product cards.
type HTMLCrawler struct {
	fetcher  *Fetcher
	platform model.Platform
}

// NewHTMLCrawler creates an HTMLCrawler that tags listings with platform.
func NewHTMLCrawler(fetcher *Fetcher, platform model.Platform) *HTMLCrawler {
	return &HTMLCrawler{fetcher: fetcher, platform: platform}
}

// Crawl implements Crawler.
func (h *HTMLCrawler) Crawl(ctx context.Context, rawURL string, limit int) ([]model.CollectedListing, error) {
	if limit < 1 {
		limit = 1
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrap(err, "html: parse url")
	}
	body, err := h.fetcher.Get(ctx, rawURL, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, eris.Wrap(err, "html: fetch")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "html: parse document")
	}

	listings := h.fromJSONLD(doc, base)
	if len(listings) == 0 {
		listings = h.fromCards(doc, base)
	}

	seen := make(map[string]bool, len(listings))
	out := make([]model.CollectedListing, 0, min(limit, len(listings)))
	for _, l := range listings {
		if l.Name == "" || l.URL == "" || seen[l.URL] {
			continue
		}
		seen[l.URL] = true
		l.Keywords = ExtractKeywords(l.Name)
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type ldOffer struct {
	Price         json.RawMessage `json:"price"`
	LowPrice      json.RawMessage `json:"lowPrice"`
	PriceCurrency string          `json:"priceCurrency"`
}

type ldNode struct {
	Type     json.RawMessage `json:"@type"`
	Graph    []ldNode        `json:"@graph"`
	Name     string          `json:"name"`
	URL      string          `json:"url"`
	Image    json.RawMessage `json:"image"`
	Brand    json.RawMessage `json:"brand"`
	Offers   json.RawMessage `json:"offers"`
	Item     *ldNode         `json:"item"`
	Elements []ldNode        `json:"itemListElement"`
	Rating   *struct {
		RatingValue json.RawMessage `json:"ratingValue"`
		ReviewCount json.RawMessage `json:"reviewCount"`
		RatingCount json.RawMessage `json:"ratingCount"`
	} `json:"aggregateRating"`
}

func (h *HTMLCrawler) fromJSONLD(doc *goquery.Document, base *url.URL) []model.CollectedListing {
	var out []model.CollectedListing
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		var nodes []ldNode
		if strings.HasPrefix(raw, "[") {
			if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
				return
			}
		} else {
			var n ldNode
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				return
			}
			nodes = []ldNode{n}
		}
		for _, n := range nodes {
			out = h.collectNode(out, n, base)
		}
	})
	return out
}

func (h *HTMLCrawler) collectNode(out []model.CollectedListing, n ldNode, base *url.URL) []model.CollectedListing {
	for _, g := range n.Graph {
		out = h.collectNode(out, g, base)
	}
	for _, e := range n.Elements {
		if e.Item != nil {
			out = h.collectNode(out, *e.Item, base)
			continue
		}
		out = h.collectNode(out, e, base)
	}
	if !hasType(n.Type, "Product") {
		return out
	}

	l := model.CollectedListing{
		Name:     strings.TrimSpace(n.Name),
		URL:      resolveURL(base, n.URL),
		Platform: h.platform,
		Brand:    ldName(n.Brand),
	}
	if l.URL == "" {
		l.URL = base.String()
	}
	l.ImageURLs = ldStrings(n.Image)
	if offer, ok := firstOffer(n.Offers); ok {
		price := offer.Price
		if len(price) == 0 || string(price) == "null" {
			price = offer.LowPrice
		}
		if v := ldNumber(price); v != nil {
			l.Price = v
			l.Currency = offer.PriceCurrency
		}
	}
	if n.Rating != nil {
		l.Rating = ldNumber(n.Rating.RatingValue)
		count := n.Rating.ReviewCount
		if len(count) == 0 {
			count = n.Rating.RatingCount
		}
		if v := ldNumber(count); v != nil {
			c := int(*v)
			l.ReviewCount = &c
		}
	}
	if l.Currency == "" {
		l.Currency = "VND"
	}
	return append(out, l)
}

func (h *HTMLCrawler) fromCards(doc *goquery.Document, base *url.URL) []model.CollectedListing {
	var cards *goquery.Selection
	for _, sel := range cardSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			cards = found
			break
		}
	}
	if cards == nil {
		return nil
	}

	var out []model.CollectedListing
	cards.Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a[href]").First()
		href, _ := link.Attr("href")
		name := firstText(card, "[data-qa-locator=product-name]", ".product-name", ".name", "h2", "h3")
		if name == "" {
			name, _ = link.Attr("title")
		}
		l := model.CollectedListing{
			Name:     strings.TrimSpace(name),
			URL:      resolveURL(base, href),
			Platform: h.platform,
		}
		if price, currency := ParsePrice(firstText(card, ".price", ".product-price", ".a-price .a-offscreen", "[class*=price]")); price != nil {
			l.Price = price
			l.Currency = currency
		}
		if v, err := strconv.ParseFloat(strings.Replace(firstText(card, ".rating", "[class*=rating]"), ",", ".", 1), 64); err == nil && v >= 0 && v <= 5 {
			l.Rating = &v
		}
		l.SalesCount = ParseSales(firstText(card, ".sold", "[class*=sold]"))
		if src, ok := card.Find("img").First().Attr("src"); ok && src != "" {
			l.ImageURLs = []string{resolveURL(base, src)}
		}
		if l.Currency == "" {
			l.Currency = "VND"
		}
		out = append(out, l)
	})
	return out
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if t := strings.TrimSpace(s.Find(sel).First().Text()); t != "" {
			return t
		}
	}
	return ""
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func hasType(raw json.RawMessage, want string) bool {
	for _, t := range ldStrings(raw) {
		if t == want {
			return true
		}
	}
	return false
}

// ldStrings accepts a string, an array of strings, or objects with a url.
func ldStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []json.RawMessage
	if err := json.Unmarshal(raw, &many); err == nil {
		var out []string
		for _, m := range many {
			out = append(out, ldStrings(m)...)
		}
		return out
	}
	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.URL != "" {
		return []string{obj.URL}
	}
	return nil
}

func ldName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Name)
	}
	return ""
}

func ldNumber(raw json.RawMessage) *float64 {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return &v
		}
	}
	return nil
}

func firstOffer(raw json.RawMessage) (ldOffer, bool) {
	if len(raw) == 0 {
		return ldOffer{}, false
	}
	var one ldOffer
	if err := json.Unmarshal(raw, &one); err == nil {
		return one, true
	}
	var many []ldOffer
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return many[0], true
	}
	return ldOffer{}, false
}
