// Package dispatch implements the bounded worker pool that fans
// analysis units out to the model through the connection pool, isolating
// per-unit failures and aggregating batch throughput.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/mailsift/pkg/mailsift/cache"
	"github.com/jamesainslie/mailsift/pkg/mailsift/gate"
	"github.com/jamesainslie/mailsift/pkg/mailsift/inference"
	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
	"github.com/jamesainslie/mailsift/pkg/mailsift/perf"
	"github.com/jamesainslie/mailsift/pkg/mailsift/pool"
	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// Sentinel errors for upfront submission refusal. Per-unit failures are
// never returned from Submit; they land in that unit's result slot.
var (
	// ErrShuttingDown is returned when submitting during shutdown.
	ErrShuttingDown = errors.New("dispatcher is shutting down")

	// ErrMemoryPressure is returned while the memory monitor reports
	// critical pressure; callers should retry later.
	ErrMemoryPressure = errors.New("submission rejected: memory pressure critical")

	// ErrEmptyBatch is returned for a submission with no units.
	ErrEmptyBatch = errors.New("batch contains no units")
)

// ProgressFunc is invoked after each unit completes with the number of
// completed units and the batch total. Panics inside the callback are
// recovered and logged, never propagated.
type ProgressFunc func(completed, total int)

// PressureFunc reports the current memory pressure. Wired to the
// memwatch monitor by the engine; tests inject fakes.
type PressureFunc func() types.MemoryPressure

// Options configures a Dispatcher.
type Options struct {
	Gate     *gate.Gate
	Cache    cache.ResultCache
	Pool     *pool.Pool
	Recorder *perf.Recorder

	// Level is the security level applied to every unit.
	Level types.SecurityLevel

	// ModelVersion keys cache entries to the active model.
	ModelVersion string

	// UnitTimeout bounds each inference call. Zero means 30s.
	UnitTimeout time.Duration

	// AcquireTimeout bounds each pool acquisition. Zero means 10s.
	AcquireTimeout time.Duration

	// Params are the sampling parameters for inference calls.
	Params inference.Params

	// Pressure reports memory pressure. Nil means never throttle.
	Pressure PressureFunc
}

// Dispatcher processes batches with a worker pool sized to match the
// connection pool. Worker count is the sole concurrency knob.
type Dispatcher struct {
	opts    Options
	workers int
	logger  *logging.Logger

	shuttingDown atomic.Bool
	inFlight     sync.WaitGroup

	// cancels force-cancels straggling batches during shutdown.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New creates a Dispatcher. The worker count always equals the
// connection pool size so workers never outnumber handles.
func New(opts Options) *Dispatcher {
	if opts.UnitTimeout <= 0 {
		opts.UnitTimeout = 30 * time.Second
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 10 * time.Second
	}

	return &Dispatcher{
		opts:    opts,
		workers: opts.Pool.Size(),
		logger:  logging.Get("dispatch"),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit processes a batch and returns its aggregate result. A single
// unit's failure never aborts the batch: Total == Succeeded + Failed
// always holds. Results aggregate in completion order.
func (d *Dispatcher) Submit(ctx context.Context, units []types.AnalysisUnit, onProgress ProgressFunc) (*types.BatchResult, error) {
	if d.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}
	if d.opts.Pressure != nil && d.opts.Pressure() == types.PressureCritical {
		return nil, ErrMemoryPressure
	}
	if len(units) == 0 {
		return nil, ErrEmptyBatch
	}

	d.inFlight.Add(1)
	defer d.inFlight.Done()

	batchID := uuid.NewString()
	started := time.Now()

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.trackBatch(batchID, cancel)
	defer d.untrackBatch(batchID)

	d.logger.Info("batch started", "batch", batchID, "units", len(units), "workers", d.workers)

	jobs := make(chan types.AnalysisUnit)
	results := make(chan types.UnitResult)
	queueDone := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				// Throttle before pulling a unit so a parked worker
				// never holds work hostage: queued units keep flowing
				// to the active workers.
				d.waitWhileThrottled(batchCtx, worker, queueDone)
				unit, ok := <-jobs
				if !ok {
					return
				}
				results <- d.processUnit(batchCtx, unit)
			}
		}(i)
	}

	go func() {
		defer close(queueDone)
		defer close(jobs)
		for _, unit := range units {
			select {
			case jobs <- unit:
			case <-batchCtx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	result := &types.BatchResult{
		ID:          batchID,
		Total:       len(units),
		SubmittedAt: started,
		Results:     make([]types.UnitResult, 0, len(units)),
	}

	var completed int
	for unitResult := range results {
		result.Results = append(result.Results, unitResult)
		if unitResult.Failed() {
			result.Failed++
		} else {
			result.Succeeded++
		}

		completed++
		d.reportProgress(onProgress, completed, len(units))
	}

	// Units never handed to a worker (forced cancellation) still need
	// result slots so the batch accounting stays consistent.
	for len(result.Results) < result.Total {
		result.Results = append(result.Results, types.UnitResult{
			Err: &types.UnitError{Kind: types.ErrKindInference, Message: "batch cancelled"},
		})
		result.Failed++
	}

	result.Elapsed = time.Since(started)
	if minutes := result.Elapsed.Minutes(); minutes > 0 {
		result.Throughput = float64(result.Succeeded) / minutes
	}

	d.opts.Recorder.Log(perf.Record{
		Operation:  perf.OpBatch,
		Latency:    result.Elapsed,
		Throughput: result.Throughput,
	})

	d.logger.Info("batch finished",
		"batch", batchID, "succeeded", result.Succeeded, "failed", result.Failed,
		"elapsed", result.Elapsed)

	return result, nil
}

// processUnit runs the full per-unit pipeline: security gate, cache
// lookup, pool acquisition, inference, cache store, metrics.
func (d *Dispatcher) processUnit(ctx context.Context, unit types.AnalysisUnit) types.UnitResult {
	start := time.Now()
	result := types.UnitResult{IdentityKey: unit.IdentityKey}

	// Security gate runs before any cache lookup or inference call.
	verdict := d.opts.Gate.Evaluate(unit.IdentityKey, unit.TextBody, d.opts.Level)
	if verdict.Blocked() {
		result.Err = &types.UnitError{
			Kind:    types.ErrKindSecurityBlocked,
			Message: gate.BlockMessage(),
		}
		result.Latency = time.Since(start)
		return result
	}

	// Cache lookup. Store failures degrade to a miss.
	payload, err := d.opts.Cache.Get(unit.IdentityKey, d.opts.ModelVersion)
	if err == nil {
		d.opts.Recorder.Log(perf.Record{Operation: perf.OpCacheHit, Latency: time.Since(start)})
		result.Payload = payload
		result.FromCache = true
		result.Latency = time.Since(start)
		return result
	}
	if !errors.Is(err, cache.ErrNotFound) {
		d.logger.Warn("cache lookup failed, continuing via inference",
			"identity", unit.IdentityKey, "error", err)
	}
	d.opts.Recorder.Log(perf.Record{Operation: perf.OpCacheMiss, Latency: time.Since(start)})

	// Acquire a connection pool slot.
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, d.opts.AcquireTimeout)
	handle, err := d.opts.Pool.Acquire(acquireCtx)
	cancelAcquire()
	if err != nil {
		result.Err = &types.UnitError{
			Kind:    types.ErrKindPoolTimeout,
			Message: err.Error(),
		}
		result.Latency = time.Since(start)
		return result
	}
	defer d.opts.Pool.Release(handle)

	// Inference call under the per-unit timeout.
	callCtx, cancelCall := context.WithTimeout(ctx, d.opts.UnitTimeout)
	defer cancelCall()

	inferred, err := handle.Client.Analyze(callCtx, buildPrompt(unit), d.opts.Params)
	latency := time.Since(start)
	if err != nil {
		result.Err = &types.UnitError{
			Kind:    types.ErrKindInference,
			Message: err.Error(),
		}
		result.Latency = latency
		return result
	}

	if putErr := d.opts.Cache.Put(unit.IdentityKey, d.opts.ModelVersion, inferred.Text); putErr != nil {
		d.logger.Warn("failed to cache result", "identity", unit.IdentityKey, "error", putErr)
	}
	d.opts.Recorder.Log(perf.Record{Operation: perf.OpInference, Latency: latency})

	result.Payload = inferred.Text
	result.Latency = latency
	return result
}

// waitWhileThrottled parks the upper half of the workers while the
// memory monitor reports warning pressure, halving effective
// concurrency. A parked worker holds no unit, so the batch still drains
// through the active workers; the park ends when pressure clears, the
// batch is cancelled, or the job queue is exhausted.
func (d *Dispatcher) waitWhileThrottled(ctx context.Context, worker int, queueDone <-chan struct{}) {
	if d.opts.Pressure == nil {
		return
	}

	active := d.workers / 2
	if active < 1 {
		active = 1
	}

	for worker >= active && d.opts.Pressure() == types.PressureWarning {
		select {
		case <-ctx.Done():
			return
		case <-queueDone:
			return
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// reportProgress invokes the progress callback, recovering panics so a
// broken callback can never abort the batch.
func (d *Dispatcher) reportProgress(onProgress ProgressFunc, completed, total int) {
	if onProgress == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("progress callback panicked", "panic", fmt.Sprint(r))
		}
	}()

	onProgress(completed, total)
}

// Shutdown stops accepting submissions, drains in-flight batches until
// the context expires, then force-cancels stragglers.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.shuttingDown.Store(true)

	done := make(chan struct{})
	go func() {
		d.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("drain deadline reached, force-cancelling in-flight batches")
		d.cancelAll()
		<-done
		return ctx.Err()
	}
}

// trackBatch registers a batch cancel function for forced shutdown.
func (d *Dispatcher) trackBatch(id string, cancel context.CancelFunc) {
	d.mu.Lock()
	d.cancels[id] = cancel
	d.mu.Unlock()
}

// untrackBatch removes a finished batch.
func (d *Dispatcher) untrackBatch(id string) {
	d.mu.Lock()
	delete(d.cancels, id)
	d.mu.Unlock()
}

// cancelAll force-cancels every in-flight batch.
func (d *Dispatcher) cancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cancel := range d.cancels {
		cancel()
	}
}

// buildPrompt wraps a unit's text in the analysis instruction. Content
// is fenced so the model treats it strictly as data.
func buildPrompt(unit types.AnalysisUnit) string {
	return "Analyze the following email and respond with a JSON object containing " +
		"\"summary\", \"category\", \"priority\" (high/medium/low), and \"action_required\" (true/false).\n\n" +
		"Email content:\n---\n" + unit.TextBody + "\n---\n"
}
