// Package discovery turns a search query into candidate marketplace links
// through a two-call protocol: market analysis, then link synthesis.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

// Config controls discovery behavior.
type Config struct {
	Model               string
	MaxTokens           int64
	CandidateMultiplier int
	StrictPlatforms     bool
}

// Request is the input to Discover.
type Request struct {
	Query    string
	Project  model.ProjectContext
	Criteria *model.FilterCriteria
	Count    int
}

// Result is the output of Discover.
type Result struct {
	Analysis   string
	Ideas      []Idea
	Candidates []model.CandidateItem
	Platforms  []model.Platform
	Notice     string
	// Criteria is the filter to apply downstream; it differs from the request
	// criteria only when unsupported platforms were substituted.
	Criteria *model.FilterCriteria
}

// Idea is one named product idea from the analysis call.
type Idea struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Service runs discovery against the language model.
type Service struct {
	llm     anthropic.Client
	catalog *Catalog
	cfg     Config
}

// NewService creates a discovery Service.
func NewService(llm anthropic.Client, catalog *Catalog, cfg Config) *Service {
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 1
	}
	return &Service{llm: llm, catalog: catalog, cfg: cfg}
}

type analyzeResponse struct {
	Analysis     string `json:"analysis"`
	ProductIdeas []Idea `json:"product_ideas"`
}

type linksResponse struct {
	Ideas []struct {
		Name  string            `json:"name"`
		Links map[string]string `json:"links"`
	} `json:"ideas"`
}

// Discover resolves platforms, asks for product ideas, then for per-platform
// links, and returns at most Count × CandidateMultiplier candidates.
func (s *Service) Discover(ctx context.Context, req Request) (*Result, error) {
	var requested []model.Platform
	if req.Criteria != nil {
		requested = req.Criteria.Platforms
	}
	res, err := s.catalog.ResolvePlatforms(requested, s.cfg.StrictPlatforms)
	if err != nil {
		return nil, err
	}

	out := &Result{Platforms: res.Platforms, Notice: res.Notice, Criteria: req.Criteria}
	if len(res.Removed) > 0 && req.Criteria != nil {
		out.Criteria = req.Criteria.WithPlatforms(res.Platforms)
	}
	if res.Notice != "" {
		zap.L().Info("discovery: platforms resolved",
			zap.Strings("removed", platformStrings(res.Removed)),
			zap.Strings("using", platformStrings(res.Platforms)),
		)
	}

	limit := req.Count * s.cfg.CandidateMultiplier
	if limit < 1 {
		limit = 1
	}

	analysis, err := s.analyze(ctx, req, limit)
	if err != nil {
		return nil, err
	}
	out.Analysis = analysis.Analysis
	out.Ideas = cleanIdeas(analysis.ProductIdeas)
	if len(out.Ideas) == 0 {
		return nil, model.NewStageError(model.ErrNoCandidatesFound, "no product ideas matched the request", nil)
	}

	links, err := s.synthesize(ctx, out.Ideas, res.Platforms)
	if err != nil {
		return nil, err
	}

	out.Candidates = s.buildCandidates(out.Ideas, links, res.Platforms, limit)
	if len(out.Candidates) == 0 {
		return nil, model.NewStageError(model.ErrNoCandidatesFound, "no searchable links were found for the request", nil)
	}

	zap.L().Info("discovery: candidates ready",
		zap.Int("ideas", len(out.Ideas)),
		zap.Int("candidates", len(out.Candidates)),
	)
	return out, nil
}

func (s *Service) analyze(ctx context.Context, req Request, maxIdeas int) (*analyzeResponse, error) {
	constraints := "-"
	if req.Criteria != nil {
		if b, err := json.Marshal(req.Criteria); err == nil {
			constraints = string(b)
		}
	}
	budget := "-"
	if req.Project.Budget != nil {
		budget = strconv.FormatFloat(*req.Project.Budget, 'f', 0, 64)
	}

	msg := anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    anthropic.CachedSystem(fmt.Sprintf(analyzeSystem, maxIdeas)),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(analyzeUser, req.Query, dash(req.Project.TargetCategory), budget, dash(req.Project.Description), constraints),
		}},
	}
	var resp analyzeResponse
	if err := anthropic.AskJSON(ctx, s.llm, msg, "discover_analyze", &resp); err != nil {
		return nil, stageErr(err, "could not analyze the market for the request")
	}
	return &resp, nil
}

// synthesize returns a map from normalized idea name to platform links.
func (s *Service) synthesize(ctx context.Context, ideas []Idea, platforms []model.Platform) (map[string]map[string]string, error) {
	var list strings.Builder
	for i, idea := range ideas {
		fmt.Fprintf(&list, "%d. %s\n", i+1, idea.Name)
	}

	msg := anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    anthropic.CachedSystem(fmt.Sprintf(linksSystem, strings.Join(platformStrings(platforms), ", "))),
		Messages:  []anthropic.Message{{Role: "user", Content: fmt.Sprintf(linksUser, list.String())}},
	}
	var resp linksResponse
	if err := anthropic.AskJSON(ctx, s.llm, msg, "discover_links", &resp); err != nil {
		return nil, stageErr(err, "could not build search links for the request")
	}

	out := make(map[string]map[string]string, len(resp.Ideas))
	for _, idea := range resp.Ideas {
		key := ideaKey(idea.Name)
		if key == "" {
			continue
		}
		if out[key] == nil {
			out[key] = make(map[string]string)
		}
		for platform, link := range idea.Links {
			out[key][strings.ToLower(strings.TrimSpace(platform))] = strings.TrimSpace(link)
		}
	}
	return out, nil
}

// buildCandidates walks ideas in order and, per idea, the allowed platforms in
// resolution order. Model links are kept only when they point at the
// platform's own domain; otherwise the catalog search template is used.
func (s *Service) buildCandidates(ideas []Idea, links map[string]map[string]string, platforms []model.Platform, limit int) []model.CandidateItem {
	var out []model.CandidateItem
	seen := make(map[string]bool)

	add := func(p model.Platform, link, idea string) {
		if link == "" || seen[link] {
			return
		}
		seen[link] = true
		out = append(out, model.CandidateItem{Platform: p, URL: link, Idea: idea})
	}

	for _, idea := range ideas {
		byPlatform := links[ideaKey(idea.Name)]
		for _, p := range platforms {
			if len(out) >= limit {
				return out
			}
			link := byPlatform[string(p)]
			if link != "" && !s.catalog.BelongsTo(link, p) {
				zap.L().Debug("discovery: dropping off-platform link",
					zap.String("platform", string(p)),
					zap.String("url", link),
				)
				link = ""
			}
			if link == "" {
				var err error
				if link, err = s.catalog.SearchLink(p, idea.Name); err != nil {
					continue
				}
			}
			add(p, link, idea.Name)
		}
	}
	return out
}

func cleanIdeas(in []Idea) []Idea {
	var out []Idea
	seen := make(map[string]bool)
	for _, idea := range in {
		idea.Name = strings.TrimSpace(idea.Name)
		key := ideaKey(idea.Name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, idea)
	}
	return out
}

func ideaKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func stageErr(err error, msg string) error {
	if anthropic.IsDecodeError(err) {
		return model.ParsingFailure(msg, err)
	}
	return model.NewStageError(model.ErrExecutionError, "language model is unavailable", err)
}

func platformStrings(ps []model.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
