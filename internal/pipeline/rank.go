package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

// Ranking is the output of the ranking stage.
type Ranking struct {
	Selected []model.CollectedListing
	Analysis string
	// Fallback is set when the input order was used instead of the model's.
	Fallback bool
}

// Ranker picks the top-K survivors with the language model.
type Ranker struct {
	llm       anthropic.Client
	model     string
	maxTokens int64
}

// NewRanker creates a Ranker.
func NewRanker(llm anthropic.Client, modelName string, maxTokens int64) *Ranker {
	return &Ranker{llm: llm, model: modelName, maxTokens: maxTokens}
}

type rankedItem struct {
	Name   string `json:"product_name"`
	URL    string `json:"product_url"`
	Reason string `json:"reason"`
}

type rankResponse struct {
	Analysis string       `json:"analysis"`
	Top      []rankedItem `json:"top_products"`
	Rejected []rankedItem `json:"rejected_products"`
}

// Rank returns exactly min(k, len(survivors)) listings drawn from survivors.
// It never fails: a model error, an unparseable reply or an empty match falls
// back to the first k survivors in input order.
func (r *Ranker) Rank(ctx context.Context, survivors []model.CollectedListing, query string, criteria *model.FilterCriteria, k int) *Ranking {
	if k < 1 {
		k = 1
	}
	if len(survivors) <= k {
		return &Ranking{Selected: survivors}
	}

	req := anthropic.MessageRequest{
		Model:     r.model,
		MaxTokens: r.maxTokens,
		System:    []anthropic.SystemBlock{{Text: fmt.Sprintf(rankSystem, k)}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(rankUser, query, criteriaText(criteria), describeListings(survivors)),
		}},
	}

	var resp rankResponse
	if err := anthropic.AskJSON(ctx, r.llm, req, "rank", &resp); err != nil {
		zap.L().Warn("pipeline: ranking failed, using input order", zap.Error(err))
		return fallback(survivors, k)
	}

	selected := matchRanked(resp.Top, survivors, k)
	if len(selected) == 0 {
		zap.L().Warn("pipeline: ranking matched no survivors, using input order",
			zap.Int("returned", len(resp.Top)),
		)
		return fallback(survivors, k)
	}
	return &Ranking{Selected: selected, Analysis: resp.Analysis}
}

func fallback(survivors []model.CollectedListing, k int) *Ranking {
	return &Ranking{Selected: survivors[:min(k, len(survivors))], Fallback: true}
}

// matchRanked maps the model's picks back onto survivors: exact URL first,
// then normalized name. Each survivor is used at most once and unmatched
// picks are dropped. Short results are topped up from survivors in input
// order so the output always holds min(k, len(survivors)) items.
func matchRanked(picks []rankedItem, survivors []model.CollectedListing, k int) []model.CollectedListing {
	byURL := make(map[string]int, len(survivors))
	byName := make(map[string]int, len(survivors))
	for i := len(survivors) - 1; i >= 0; i-- {
		byURL[survivors[i].URL] = i
		byName[normalizeName(survivors[i].Name)] = i
	}

	used := make([]bool, len(survivors))
	var out []model.CollectedListing
	for _, p := range picks {
		if len(out) == k {
			break
		}
		idx, ok := byURL[strings.TrimSpace(p.URL)]
		if !ok || used[idx] {
			idx, ok = byName[normalizeName(p.Name)]
		}
		if !ok || used[idx] {
			continue
		}
		used[idx] = true
		out = append(out, survivors[idx])
	}
	if len(out) == 0 {
		return nil
	}

	for i := range survivors {
		if len(out) == k {
			break
		}
		if !used[i] {
			used[i] = true
			out = append(out, survivors[i])
		}
	}
	return out
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(norm.NFC.String(s))), " ")
}

func describeListings(listings []model.CollectedListing) string {
	var b strings.Builder
	for i, l := range listings {
		fmt.Fprintf(&b, "%d. %s\n   url: %s\n   platform: %s", i+1, l.Name, l.URL, l.Platform)
		if l.Price != nil {
			fmt.Fprintf(&b, " | price: %.0f %s", *l.Price, l.Currency)
		}
		if l.Rating != nil {
			fmt.Fprintf(&b, " | rating: %.1f", *l.Rating)
		}
		if l.ReviewCount != nil {
			fmt.Fprintf(&b, " | reviews: %d", *l.ReviewCount)
		}
		if l.SalesCount != nil {
			fmt.Fprintf(&b, " | sold: %d", *l.SalesCount)
		}
		if l.Brand != "" {
			fmt.Fprintf(&b, " | brand: %s", l.Brand)
		}
		if l.IsMall != nil && *l.IsMall {
			b.WriteString(" | mall")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func criteriaText(c *model.FilterCriteria) string {
	if c.IsEmpty() {
		return "-"
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "-"
	}
	return string(raw)
}
