// Package dispatch routes decoded service requests to their handlers,
// generalizing dittofs's per-protocol procedure dispatch table
// (internal/protocol/nsm.NSMDispatchTable) to the Service trait named in
// the REDESIGN FLAGS.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/metrics"
)

// Handler processes one decoded request and returns a response value (or
// an error for a global failure, which the caller maps onto
// responseHeader.serviceResult per §7's propagation policy).
type Handler func(ctx context.Context, req any) (resp any, err error)

// Service describes one dispatch-table entry: the binary encoding id that
// selects it, whether it may run before ActivateSession, and the handler
// itself.
type Service struct {
	Name           string
	RequiresSession bool
	Handler        Handler
}

// Table maps binary request-type encoding ids to their Service entry.
type Table struct {
	mu       sync.RWMutex
	services map[uint32]*Service

	mismatchCount uint64
}

// NewTable returns an empty dispatch table.
func NewTable() *Table {
	return &Table{services: make(map[uint32]*Service)}
}

// Register adds a service under its binary encoding id. Panics on a
// duplicate id — that is a programming error, discovered at startup, not a
// runtime condition to recover from.
func (t *Table) Register(encodingId uint32, svc *Service) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.services[encodingId]; exists {
		panic(fmt.Sprintf("dispatch: duplicate registration for encoding id %d", encodingId))
	}
	t.services[encodingId] = svc
}

// SessionChecker reports whether a request's authentication token
// identifies an activated session; Dispatch uses it to enforce
// RequiresSession before invoking the handler.
type SessionChecker func(ctx context.Context) (activated bool)

// Dispatch looks up the handler for encodingId and invokes it, enforcing
// the RequiresSession gate and updating diagnostics counters generically
// (§2 item 4: "counters are updated generically by the dispatcher").
func (t *Table) Dispatch(ctx context.Context, encodingId uint32, req any, sessionActive SessionChecker) (any, error) {
	t.mu.RLock()
	svc, ok := t.services[encodingId]
	t.mu.RUnlock()

	if !ok {
		t.mu.Lock()
		t.mismatchCount++
		t.mu.Unlock()
		metrics.ServiceCalls.WithLabelValues("unknown", "bad").Inc()
		return nil, fmt.Errorf("dispatch: no service registered for encoding id %d", encodingId)
	}

	if svc.RequiresSession && !sessionActive(ctx) {
		metrics.ServiceCalls.WithLabelValues(svc.Name, "bad").Inc()
		return nil, fmt.Errorf("dispatch: %s requires an activated session", svc.Name)
	}

	resp, err := svc.Handler(ctx, req)
	result := "good"
	if err != nil {
		result = "bad"
		logger.WarnCtx(ctx, "service call failed", logger.Operation(svc.Name), logger.Err(err))
	}
	metrics.ServiceCalls.WithLabelValues(svc.Name, result).Inc()
	return resp, err
}

// Diagnostics is the snapshot exposed per SPEC_FULL.md §12's diagnostics
// supplement, beyond the bare per-service Prometheus counters.
type Diagnostics struct {
	UnknownServiceCalls uint64
}

// Snapshot returns the current diagnostics counters.
func (t *Table) Snapshot() Diagnostics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Diagnostics{UnknownServiceCalls: t.mismatchCount}
}

// WorkerPool runs a bounded number of goroutines pulling requests off jobs
// and dispatching them under an errgroup (SPEC_FULL.md §11:
// golang.org/x/sync/errgroup wiring). The pool stops when ctx is cancelled
// or jobs is closed, after waiting for in-flight jobs; a dispatch error is
// handed to the job's OnResult and does not stop the pool.
type WorkerPool struct {
	table       *Table
	concurrency int
}

// NewWorkerPool returns a pool that dispatches through table with the
// given concurrency.
func NewWorkerPool(table *Table, concurrency int) *WorkerPool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WorkerPool{table: table, concurrency: concurrency}
}

// Job is one request queued for dispatch.
type Job struct {
	EncodingId    uint32
	Request       any
	SessionActive SessionChecker
	OnResult      func(resp any, err error)
}

// Run drains jobs, dispatching up to p.concurrency at a time, until jobs is
// closed or ctx is cancelled.
func (p *WorkerPool) Run(ctx context.Context, jobs <-chan Job) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.concurrency)

	for {
		select {
		case <-gctx.Done():
			return g.Wait()
		case job, ok := <-jobs:
			if !ok {
				return g.Wait()
			}
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				resp, err := p.table.Dispatch(gctx, job.EncodingId, job.Request, job.SessionActive)
				if job.OnResult != nil {
					job.OnResult(resp, err)
				}
				return nil
			})
		}
	}
}
