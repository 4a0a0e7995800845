package trust

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/product-scout/internal/model"
)

var (
	// ErrQueueFull is returned when the local queue cannot take another product.
	ErrQueueFull = eris.New("trust: recompute queue is full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = eris.New("trust: dispatcher is closed")
)

// Dispatcher triggers an asynchronous recompute.
type Dispatcher interface {
	Dispatch(ctx context.Context, productID string) error
}

// Recomputer is the synchronous recompute both dispatchers end up calling.
type Recomputer interface {
	Recompute(ctx context.Context, productID string) (*model.TrustScoreRecord, error)
}

// LocalDispatcher runs recomputes on a bounded in-process worker pool.
// A product already waiting in the queue is not queued twice.
type LocalDispatcher struct {
	rc      Recomputer
	timeout time.Duration
	queue   chan string

	mu      sync.Mutex
	pending map[string]bool
	closed  bool

	wg sync.WaitGroup
}

// NewLocalDispatcher starts workers goroutines draining a queue of queueSize.
func NewLocalDispatcher(rc Recomputer, workers, queueSize int) *LocalDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 64
	}
	d := &LocalDispatcher{
		rc:      rc,
		timeout: 2 * time.Minute,
		queue:   make(chan string, queueSize),
		pending: make(map[string]bool),
	}
	for range workers {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

// Dispatch queues productID without waiting for the recompute.
func (d *LocalDispatcher) Dispatch(_ context.Context, productID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	if d.pending[productID] {
		return nil
	}
	select {
	case d.queue <- productID:
		d.pending[productID] = true
		return nil
	default:
		return eris.Wrapf(ErrQueueFull, "product %s", productID)
	}
}

// Close stops accepting work and waits for queued recomputes to finish.
func (d *LocalDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *LocalDispatcher) work() {
	defer d.wg.Done()
	for id := range d.queue {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if _, err := d.rc.Recompute(ctx, id); err != nil {
			zap.L().Error("trust: async recompute failed", zap.String("product_id", id), zap.Error(err))
		}
		cancel()
	}
}

// workflowStarter is the subset of the Temporal client used for dispatch.
type workflowStarter interface {
	SignalWithStartWorkflow(ctx context.Context, workflowID string, signalName string, signalArg any,
		options temporalsdkclient.StartWorkflowOptions, workflow any, workflowArgs ...any) (temporalsdkclient.WorkflowRun, error)
}

// TemporalDispatcher runs one recompute workflow per product. A trigger
// either starts that workflow or signals the running one, which then
// recomputes again after its current pass.
type TemporalDispatcher struct {
	tc        workflowStarter
	taskQueue string
}

// NewTemporalDispatcher creates a TemporalDispatcher on taskQueue.
func NewTemporalDispatcher(tc workflowStarter, taskQueue string) *TemporalDispatcher {
	return &TemporalDispatcher{tc: tc, taskQueue: taskQueue}
}

// Dispatch signals RecomputeTrustScoreWorkflow for productID, starting it
// when no execution is running.
func (d *TemporalDispatcher) Dispatch(ctx context.Context, productID string) error {
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    WorkflowID(productID),
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	run, err := d.tc.SignalWithStartWorkflow(ctx, opts.ID, SignalRecompute, nil, opts, WorkflowName, productID)
	if err != nil {
		return eris.Wrapf(err, "trust: signal-with-start workflow for %s", productID)
	}
	fields := []zap.Field{zap.String("product_id", productID), zap.String("workflow_id", opts.ID)}
	if run != nil {
		fields = append(fields, zap.String("run_id", run.GetRunID()))
	}
	zap.L().Info("trust: recompute requested", fields...)
	return nil
}
