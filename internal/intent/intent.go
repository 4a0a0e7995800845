// Package intent turns free-text requests into a search query and validated
// FilterCriteria: extraction, compilation, and a second-opinion sanity check.
package intent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

// Config holds model and limit settings shared by the three stages.
type Config struct {
	Model              string
	FastModel          string
	MaxTokens          int64
	MaxQueryLength     int
	DefaultMaxProducts int
	MaxMaxProducts     int
}

// Intent is the Extractor's output.
type Intent struct {
	Query          string
	FilterText     string
	RequestedCount *int
}

// Extractor derives a search plan from user text.
type Extractor struct {
	llm anthropic.Client
	cfg Config
}

// NewExtractor creates an Extractor.
func NewExtractor(llm anthropic.Client, cfg Config) *Extractor {
	return &Extractor{llm: llm, cfg: cfg}
}

type extractResponse struct {
	SearchQuery    *string `json:"search_query"`
	FilterCriteria *string `json:"filter_criteria"`
	MaxProducts    *int    `json:"max_products"`
}

// CheckInput validates raw user text before any model call.
func CheckInput(text string, maxLen int) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", model.ValidationFailure("request text is empty", nil)
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", model.ValidationFailure(fmt.Sprintf("request text exceeds %d characters", maxLen), nil)
	}
	return text, nil
}

// Extract returns the search query, the constraint prose (may be empty), and
// the requested count if the user stated one.
func (e *Extractor) Extract(ctx context.Context, text string, pc model.ProjectContext) (*Intent, error) {
	text, err := CheckInput(text, e.cfg.MaxQueryLength)
	if err != nil {
		return nil, err
	}

	req := anthropic.MessageRequest{
		Model:     e.cfg.FastModel,
		MaxTokens: e.cfg.MaxTokens,
		System:    anthropic.CachedSystem(extractSystem),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(extractUser, orDash(pc.Name), orDash(pc.TargetProductName), orDash(pc.TargetCategory), budgetText(pc.Budget), orDash(pc.Description), text),
		}},
	}

	var resp extractResponse
	if err := anthropic.AskJSON(ctx, e.llm, req, "intent", &resp); err != nil {
		return nil, classify(err, "could not understand the request")
	}

	if resp.SearchQuery == nil || strings.TrimSpace(*resp.SearchQuery) == "" {
		return nil, model.ParsingFailure("could not derive a search query from the request", nil)
	}

	out := &Intent{Query: strings.TrimSpace(*resp.SearchQuery)}
	if resp.FilterCriteria != nil {
		out.FilterText = strings.TrimSpace(*resp.FilterCriteria)
	}
	if resp.MaxProducts != nil && *resp.MaxProducts > 0 {
		n := *resp.MaxProducts
		out.RequestedCount = &n
	}

	zap.L().Debug("intent: extracted",
		zap.String("query", out.Query),
		zap.Bool("has_filter", out.FilterText != ""),
	)
	return out, nil
}

// ResolveCount picks the requested count: explicit, then extracted, then the
// default, clamped to [1, MaxMaxProducts].
func (c Config) ResolveCount(explicit, extracted *int) int {
	n := c.DefaultMaxProducts
	switch {
	case explicit != nil && *explicit > 0:
		n = *explicit
	case extracted != nil && *extracted > 0:
		n = *extracted
	}
	if n < 1 {
		n = 1
	}
	if c.MaxMaxProducts > 0 && n > c.MaxMaxProducts {
		n = c.MaxMaxProducts
	}
	return n
}

// classify maps a collaborator failure onto the error taxonomy.
func classify(err error, msg string) error {
	if anthropic.IsDecodeError(err) {
		return model.ParsingFailure(msg, err)
	}
	return model.NewStageError(model.ErrExecutionError, "language model is unavailable", err)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func budgetText(b *float64) string {
	if b == nil {
		return "-"
	}
	return strconv.FormatFloat(*b, 'f', 0, 64)
}
