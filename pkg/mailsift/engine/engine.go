// Package engine wires the security gate, result cache, connection
// pool, dispatcher, memory monitor, and performance recorder into one
// explicitly constructed orchestrator. Nothing in here is a process-wide
// singleton: every collaborator is built here and injected.
package engine

import (
	"context"
	"time"

	"github.com/jamesainslie/mailsift/pkg/mailsift/cache"
	"github.com/jamesainslie/mailsift/pkg/mailsift/config"
	"github.com/jamesainslie/mailsift/pkg/mailsift/dispatch"
	"github.com/jamesainslie/mailsift/pkg/mailsift/gate"
	"github.com/jamesainslie/mailsift/pkg/mailsift/hardware"
	"github.com/jamesainslie/mailsift/pkg/mailsift/inference"
	"github.com/jamesainslie/mailsift/pkg/mailsift/logging"
	"github.com/jamesainslie/mailsift/pkg/mailsift/memwatch"
	"github.com/jamesainslie/mailsift/pkg/mailsift/perf"
	"github.com/jamesainslie/mailsift/pkg/mailsift/pool"
	"github.com/jamesainslie/mailsift/pkg/mailsift/types"
)

// notificationBuffer bounds the security notification channel. Sends
// never block; overflow drops the oldest-undelivered event.
const notificationBuffer = 64

// Options allows callers to override engine collaborators, mainly for
// testing. Zero values mean "build from config".
type Options struct {
	// ClientFactory builds the inference client for each pool slot.
	ClientFactory func(slot int) inference.Caller

	// Profile overrides hardware detection.
	Profile *types.HardwareProfile
}

// Engine is the top-level analysis orchestrator.
type Engine struct {
	cfg        *config.Config
	profile    types.HardwareProfile
	gate       *gate.Gate
	cache      cache.ResultCache
	pool       *pool.Pool
	dispatcher *dispatch.Dispatcher
	monitor    *memwatch.Monitor
	recorder   *perf.Recorder
	audit      *gate.Audit
	reloader   *gate.Reloader
	logger     *logging.Logger

	notifications chan types.SecurityNotification

	cancelBackground context.CancelFunc
}

// New constructs and starts an engine from configuration. Only upfront
// resource catastrophes fail construction; degraded collaborators
// (unreachable cache store, missing pattern file) fall back and warn.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Engine, error) {
	logger := logging.Get("engine")

	e := &Engine{
		cfg:           cfg,
		logger:        logger,
		notifications: make(chan types.SecurityNotification, notificationBuffer),
	}

	// Hardware profile: one-shot, never fails.
	if opts.Profile != nil {
		e.profile = *opts.Profile
	} else {
		e.profile = hardware.Detect(ctx)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = e.profile.PoolSize()
	}

	// Result cache: unreachable store degrades to always-miss.
	cachePath := cfg.CachePath
	if cachePath == "" {
		cachePath = config.DefaultCachePath()
	}
	if c, err := cache.Open(cachePath); err != nil {
		logger.Warn("result cache unavailable, degrading to always-miss", "path", cachePath, "error", err)
		e.cache = cache.NewNullCache()
	} else {
		e.cache = c
	}

	// Performance journal: unavailable store disables recording.
	perfPath := cfg.PerfPath
	if perfPath == "" {
		perfPath = config.DefaultPerfPath()
	}
	if r, err := perf.Open(perfPath); err != nil {
		logger.Warn("performance journal unavailable, metrics disabled", "path", perfPath, "error", err)
		e.recorder = perf.Disabled()
	} else {
		e.recorder = r
	}

	// Audit log for the security gate.
	auditDir := cfg.Security.AuditDir
	if auditDir == "" {
		auditDir = config.DefaultAuditDir()
	}
	if a, err := gate.NewAudit(auditDir); err == nil {
		if dirErr := a.EnsureDir(); dirErr != nil {
			logger.Warn("audit directory unavailable, auditing disabled", "dir", auditDir, "error", dirErr)
		} else {
			e.audit = a
			if cleanErr := a.Cleanup(cfg.Security.AuditRetentionDays); cleanErr != nil {
				logger.Warn("audit cleanup failed", "error", cleanErr)
			}
		}
	}

	e.gate = gate.New(gate.Options{
		Level:       types.SecurityLevel(cfg.Security.Level),
		PatternFile: cfg.Security.PatternFile,
		Audit:       e.audit,
		Notify:      e.publishNotification,
	})

	factory := opts.ClientFactory
	if factory == nil {
		factory = func(int) inference.Caller {
			return inference.New(cfg.Inference.BaseURL)
		}
	}
	e.pool = pool.New(poolSize, factory)

	capBytes := cfg.Memory.CapBytes
	if capBytes <= 0 {
		capBytes = e.profile.RAMTotal
	}
	e.monitor = memwatch.New(memwatch.Options{
		CapBytes:         capBytes,
		WarningFraction:  cfg.Memory.WarningFraction,
		CriticalFraction: cfg.Memory.CriticalFraction,
	})

	e.dispatcher = dispatch.New(dispatch.Options{
		Gate:           e.gate,
		Cache:          e.cache,
		Pool:           e.pool,
		Recorder:       e.recorder,
		Level:          types.SecurityLevel(cfg.Security.Level),
		ModelVersion:   cfg.Inference.ModelVersion,
		UnitTimeout:    time.Duration(cfg.Inference.UnitTimeoutSeconds) * time.Second,
		AcquireTimeout: config.DefaultAcquireTimeoutSeconds * time.Second,
		Params: inference.Params{
			Temperature: cfg.Inference.Temperature,
			TopP:        cfg.Inference.TopP,
			MaxTokens:   cfg.Inference.MaxTokens,
		},
		Pressure: e.monitor.Pressure,
	})

	e.startBackground()

	logger.Info("engine ready",
		"tier", string(e.profile.Tier), "pool_size", poolSize,
		"model_version", cfg.Inference.ModelVersion)
	return e, nil
}

// startBackground launches the memory monitor and, when configured, the
// pattern-file reloader.
func (e *Engine) startBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancelBackground = cancel

	go e.monitor.Run(ctx)

	if e.cfg.Security.HotReload && e.cfg.Security.PatternFile != "" {
		reloader, err := gate.NewReloader(e.gate)
		if err != nil {
			e.logger.Warn("pattern hot reload unavailable", "error", err)
			return
		}
		e.reloader = reloader
		go reloader.Run(ctx)
	}
}

// SubmitBatch is the primary entry point: it processes the units and
// returns an aggregate result. Per-unit failures are captured in the
// result; only upfront refusals (shutdown, critical memory pressure,
// empty batch) return an error.
func (e *Engine) SubmitBatch(ctx context.Context, units []types.AnalysisUnit, onProgress dispatch.ProgressFunc) (*types.BatchResult, error) {
	return e.dispatcher.Submit(ctx, units, onProgress)
}

// Override force-allows one blocked unit on its next evaluation.
// Unavailable at the strict security level.
func (e *Engine) Override(identityKey, reason string) error {
	return e.gate.Override(identityKey, reason)
}

// Profile returns the hardware profile detected at startup.
func (e *Engine) Profile() types.HardwareProfile {
	return e.profile
}

// PoolStats returns connection pool utilization.
func (e *Engine) PoolStats() pool.Stats {
	return e.pool.Stats()
}

// CacheStats returns result cache effectiveness counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// MemoryPressure returns the monitor's current assessment.
func (e *Engine) MemoryPressure() types.MemoryPressure {
	return e.monitor.Pressure()
}

// PerformanceSummary aggregates the metrics journal over the window.
func (e *Engine) PerformanceSummary(windowDays int) (*perf.Summary, error) {
	return e.recorder.Summary(windowDays)
}

// InvalidateModel drops cached results recorded under the given model
// version.
func (e *Engine) InvalidateModel(modelVersion string) error {
	return e.cache.Invalidate(modelVersion)
}

// ClearCache wipes all cached results.
func (e *Engine) ClearCache() error {
	return e.cache.Clear()
}

// AuditEvents lists recent security audit events, newest first.
func (e *Engine) AuditEvents(limit int) ([]gate.Event, error) {
	if e.audit == nil {
		return []gate.Event{}, nil
	}
	return e.audit.List(limit)
}

// Notifications exposes security-block events for display layers. The
// channel never blocks the engine; slow consumers lose oldest events.
func (e *Engine) Notifications() <-chan types.SecurityNotification {
	return e.notifications
}

// publishNotification delivers a block event without ever blocking.
func (e *Engine) publishNotification(n types.SecurityNotification) {
	for {
		select {
		case e.notifications <- n:
			return
		default:
			// Drop the oldest undelivered event to make room.
			select {
			case <-e.notifications:
			default:
			}
		}
	}
}

// Close drains in-flight batches until the context expires, then
// releases all resources.
func (e *Engine) Close(ctx context.Context) error {
	err := e.dispatcher.Shutdown(ctx)

	if e.cancelBackground != nil {
		e.cancelBackground()
	}
	if e.reloader != nil {
		_ = e.reloader.Close()
	}
	e.pool.Close()

	if closeErr := e.cache.Close(); closeErr != nil {
		e.logger.Warn("closing result cache", "error", closeErr)
	}
	if closeErr := e.recorder.Close(); closeErr != nil {
		e.logger.Warn("closing performance journal", "error", closeErr)
	}

	e.logger.Info("engine stopped")
	return err
}
