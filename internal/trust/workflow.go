package trust

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/product-scout/internal/store"
)

// Registered names of the recompute workflow and its activity.
const (
	WorkflowName      = "trust_score_recompute"
	ActivityRecompute = "trust_score_recompute_activity"
	SignalRecompute   = "trust_score_recompute_requested"
)

// maxRunsPerExecution bounds follow-up runs before the workflow continues as new.
const maxRunsPerExecution = 25

// WorkflowID is the workflow ID for productID's recompute.
func WorkflowID(productID string) string {
	return "trust-score-" + productID
}

// RecomputeOutput is the workflow result.
type RecomputeOutput struct {
	ProductID      string  `json:"product_id"`
	TrustScore     float64 `json:"trust_score"`
	FormulaVersion string  `json:"formula_version"`
}

// Activities hold the worker-side dependencies.
type Activities struct {
	Service Recomputer
}

// Recompute runs one synchronous recompute. Unknown products are not retried.
func (a *Activities) Recompute(ctx context.Context, productID string) (RecomputeOutput, error) {
	rec, err := a.Service.Recompute(ctx, productID)
	if err != nil {
		if store.IsNotFound(err) {
			return RecomputeOutput{}, temporal.NewNonRetryableApplicationError(err.Error(), "ProductNotFound", nil)
		}
		return RecomputeOutput{}, err
	}
	return RecomputeOutput{
		ProductID:      rec.ProductID,
		TrustScore:     rec.TrustScore,
		FormulaVersion: rec.Metadata.FormulaVersion,
	}, nil
}

// RecomputeTrustScoreWorkflow recomputes one product's trust score. Recompute
// signals received while the activity runs trigger one more run, so reviews
// ingested after the activity read its inputs are always scored.
func RecomputeTrustScoreWorkflow(ctx workflow.Context, productID string) (RecomputeOutput, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	requests := workflow.GetSignalChannel(ctx, SignalRecompute)
	drain := func() bool {
		got := false
		for requests.ReceiveAsync(nil) {
			got = true
		}
		return got
	}
	// The signal that started this run is already covered by the first pass.
	drain()

	var out RecomputeOutput
	for run := 1; ; run++ {
		if err := workflow.ExecuteActivity(ctx, ActivityRecompute, productID).Get(ctx, &out); err != nil {
			return RecomputeOutput{}, err
		}
		workflow.GetLogger(ctx).Info("trust score recomputed",
			"product_id", out.ProductID, "trust_score", out.TrustScore, "run", run)
		if !drain() {
			return out, nil
		}
		if run >= maxRunsPerExecution {
			return out, workflow.NewContinueAsNewError(ctx, WorkflowName, productID)
		}
	}
}

// Registrar is satisfied by worker.Worker and the workflow test environment.
type Registrar interface {
	RegisterWorkflowWithOptions(w any, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a any, options activity.RegisterOptions)
}

// Register binds the workflow and activity under their names.
func Register(r Registrar, acts *Activities) {
	r.RegisterWorkflowWithOptions(RecomputeTrustScoreWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.Recompute, activity.RegisterOptions{Name: ActivityRecompute})
}
