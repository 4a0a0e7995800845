// Package pipeline orchestrates product discovery: intent extraction,
// criteria compilation and validation, discovery, collection, filtering,
// ranking and import.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/crawler"
	"github.com/sells-group/product-scout/internal/discovery"
	"github.com/sells-group/product-scout/internal/filter"
	"github.com/sells-group/product-scout/internal/intent"
	"github.com/sells-group/product-scout/internal/model"
	"github.com/sells-group/product-scout/internal/store"
	"github.com/sells-group/product-scout/pkg/anthropic"
)

// Phase names recorded on each run.
const (
	PhaseIntent   = "intent"
	PhaseCriteria = "criteria"
	PhaseValidate = "validate"
	PhaseDiscover = "discover"
	PhaseCollect  = "collect"
	PhaseFilter   = "filter"
	PhaseRank     = "rank"
	PhaseImport   = "import"
)

// Config holds the per-stage settings.
type Config struct {
	Intent  intent.Config
	Collect CollectConfig
}

// Discoverer produces candidate links for a query.
type Discoverer interface {
	Discover(ctx context.Context, req discovery.Request) (*discovery.Result, error)
}

// Pipeline runs the discovery stages in sequence.
type Pipeline struct {
	cfg       Config
	store     store.Store
	extractor *intent.Extractor
	compiler  *intent.Compiler
	validator *intent.Validator
	discovery Discoverer
	crawler   crawler.Crawler
	ranker    *Ranker
}

// New creates a Pipeline.
func New(cfg Config, st store.Store, llm anthropic.Client, disc Discoverer, cr crawler.Crawler) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		extractor: intent.NewExtractor(llm, cfg.Intent),
		compiler:  intent.NewCompiler(llm, cfg.Intent),
		validator: intent.NewValidator(llm, cfg.Intent),
		discovery: disc,
		crawler:   cr,
		ranker:    NewRanker(llm, cfg.Intent.Model, cfg.Intent.MaxTokens),
	}
}

// Run executes one discovery request and always returns a report. Failures
// are reported through Status, ErrorType and a caller-safe Message.
func (p *Pipeline) Run(ctx context.Context, req model.DiscoveryRequest) *model.DiscoveryReport {
	log := zap.L().With(zap.String("project_id", req.ProjectID))
	report := &model.DiscoveryReport{ImportedProductIDs: []string{}}

	fail := func(err error) *model.DiscoveryReport {
		log.Error("pipeline: discovery failed",
			zap.String("error_type", string(model.ErrorTypeOf(err))),
			zap.Error(err),
		)
		report.Status = model.ReportError
		report.ErrorType = model.ErrorTypeOf(err)
		report.Message = model.PublicMessage(err)
		return report
	}

	text, err := intent.CheckInput(req.UserQuery, p.cfg.Intent.MaxQueryLength)
	if err != nil {
		return fail(err)
	}
	project, err := p.loadProject(ctx, req.ProjectID)
	if err != nil {
		return fail(err)
	}

	run, err := p.store.CreateRun(ctx, project.ID, text)
	if err != nil {
		log.Warn("pipeline: failed to create run", zap.Error(err))
	} else {
		report.RunID = run.ID
		log = log.With(zap.String("run_id", run.ID))
	}

	finish := func(r *model.DiscoveryReport) *model.DiscoveryReport {
		if run == nil {
			return r
		}
		status := model.RunStatusComplete
		if r.Status != model.ReportSuccess {
			status = model.RunStatusFailed
		}
		// Recording the outcome must survive a cancelled request context.
		if err := p.store.CompleteRun(context.WithoutCancel(ctx), run.ID, status, r); err != nil {
			log.Warn("pipeline: failed to complete run", zap.Error(err))
		}
		return r
	}

	trackPhase := func(name string, fn func() (*model.PhaseResult, error)) error {
		var phase *model.RunPhase
		if run != nil {
			var phaseErr error
			phase, phaseErr = p.store.CreatePhase(ctx, run.ID, name)
			if phaseErr != nil {
				log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
			}
		}

		start := time.Now()
		phaseResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if phaseResult == nil {
			phaseResult = &model.PhaseResult{}
		}
		phaseResult.Name = name
		phaseResult.Duration = duration

		if fnErr != nil {
			phaseResult.Status = model.PhaseStatusFailed
			phaseResult.Error = model.PublicMessage(fnErr)
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			if phaseResult.Status == "" {
				phaseResult.Status = model.PhaseStatusComplete
			}
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			if err := p.store.CompletePhase(context.WithoutCancel(ctx), phase.ID, phaseResult); err != nil {
				log.Warn("pipeline: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		return fnErr
	}

	// 1. Intent
	var plan *intent.Intent
	err = trackPhase(PhaseIntent, func() (*model.PhaseResult, error) {
		var err error
		plan, err = p.extractor.Extract(ctx, text, model.ContextOf(project))
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{"query": plan.Query}}, nil
	})
	if err != nil {
		return finish(fail(err))
	}

	filterText := strings.TrimSpace(req.FilterCriteria)
	if filterText == "" {
		filterText = plan.FilterText
	}
	count := p.cfg.Intent.ResolveCount(req.MaxProducts, plan.RequestedCount)

	// 2. Criteria
	var criteria *model.FilterCriteria
	err = trackPhase(PhaseCriteria, func() (*model.PhaseResult, error) {
		if filterText == "" {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		var err error
		criteria, err = p.compiler.Compile(ctx, filterText)
		return nil, err
	})
	if err != nil {
		return finish(fail(err))
	}
	report.ExtractedCriteria = criteria

	// 3. Validate
	err = trackPhase(PhaseValidate, func() (*model.PhaseResult, error) {
		if criteria == nil {
			return &model.PhaseResult{Status: model.PhaseStatusSkipped}, nil
		}
		verdict, err := p.validator.Validate(ctx, validationText(text, req.FilterCriteria), criteria)
		if err != nil {
			return nil, err
		}
		return nil, verdict.Err()
	})
	if err != nil {
		return finish(fail(err))
	}

	// 4. Discover
	var found *discovery.Result
	err = trackPhase(PhaseDiscover, func() (*model.PhaseResult, error) {
		var err error
		found, err = p.discovery.Discover(ctx, discovery.Request{
			Query:    plan.Query,
			Project:  model.ContextOf(project),
			Criteria: criteria,
			Count:    count,
		})
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"ideas":      len(found.Ideas),
			"candidates": len(found.Candidates),
			"notice":     found.Notice,
		}}, nil
	})
	if err != nil {
		return finish(fail(err))
	}
	if found.Criteria != nil {
		report.ExtractedCriteria = found.Criteria
	}

	// 5. Collect
	var collected *CollectResult
	err = trackPhase(PhaseCollect, func() (*model.PhaseResult, error) {
		var err error
		collected, err = Collect(ctx, p.crawler, found.Candidates, p.cfg.Collect)
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"listings":     len(collected.Listings),
			"failed_links": collected.Failed,
		}}, nil
	})
	if err != nil {
		return finish(fail(err))
	}
	report.ProductsFound = len(collected.Listings)

	// 6. Filter
	var survivors []model.CollectedListing
	err = trackPhase(PhaseFilter, func() (*model.PhaseResult, error) {
		var rejected []filter.Rejection
		survivors, rejected = filter.Apply(collected.Listings, found.Criteria)
		if len(survivors) == 0 {
			msg := "no collected products matched the requested criteria"
			if summary := filter.Summarize(rejected, 5); summary != "" {
				msg += ": " + summary
			}
			return nil, model.NewStageError(model.ErrNoMatchingProducts, msg, nil)
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"survivors": len(survivors),
			"rejected":  len(rejected),
		}}, nil
	})
	if err != nil {
		return finish(fail(err))
	}
	report.ProductsFiltered = len(survivors)

	// 7. Rank
	selected := survivors
	if len(survivors) > count {
		_ = trackPhase(PhaseRank, func() (*model.PhaseResult, error) {
			ranking := p.ranker.Rank(ctx, survivors, plan.Query, found.Criteria, count)
			selected = ranking.Selected
			return &model.PhaseResult{Metadata: map[string]any{
				"selected": len(selected),
				"fallback": ranking.Fallback,
			}}, nil
		})
	}

	// 8. Import
	var imported *ImportResult
	err = trackPhase(PhaseImport, func() (*model.PhaseResult, error) {
		var err error
		imported, err = Import(ctx, p.store, project.ID, req.UserID, selected)
		if imported != nil {
			report.ImportedProductIDs = imported.IDs
			report.ProductsImported = len(imported.IDs)
		}
		if err != nil {
			return nil, err
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"created": imported.Created,
			"matched": imported.Matched,
			"failed":  imported.Failed,
		}}, nil
	})
	if err != nil {
		return finish(fail(err))
	}

	report.Status = model.ReportSuccess
	report.Message = successMessage(plan.Query, imported, found.Notice)
	log.Info("pipeline: discovery complete",
		zap.Int("found", report.ProductsFound),
		zap.Int("filtered", report.ProductsFiltered),
		zap.Int("imported", report.ProductsImported),
	)
	return finish(report)
}

func (p *Pipeline) loadProject(ctx context.Context, id string) (*model.Project, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.ValidationFailure("project_id is required", nil)
	}
	project, err := p.store.GetProject(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, model.ValidationFailure("project not found", err)
		}
		return nil, err
	}
	if strings.TrimSpace(project.TargetProductName) == "" {
		return nil, model.ValidationFailure("project has no target product", nil)
	}
	return project, nil
}

// validationText is what the validator compares the criteria against: the
// request plus any constraint text supplied separately.
func validationText(text, explicitFilter string) string {
	if f := strings.TrimSpace(explicitFilter); f != "" {
		return text + "\n" + f
	}
	return text
}

func successMessage(query string, imported *ImportResult, notice string) string {
	msg := fmt.Sprintf("Imported %d products for %q (%d new, %d already in the project).",
		len(imported.IDs), query, imported.Created, imported.Matched)
	if notice != "" {
		msg += " " + notice
	}
	return msg
}
