// Package hooks provides injection points around trace ingestion.
// Hooks allow callers to wrap the input stream, observe normalized
// events before they are indexed, and intercept errors.
package hooks

import (
	"context"
	"io"
	"sync"

	"github.com/gridtrace/gridtrace/internal/model"
)

// HookManager manages all registered hooks.
type HookManager struct {
	mu sync.RWMutex

	preIngestHooks  []PreIngestHook
	postEventHooks  []PostEventHook
	postIngestHooks []PostIngestHook
	errorHooks      []ErrorHook
}

// NewHookManager creates a new hook manager.
func NewHookManager() *HookManager {
	return &HookManager{}
}

// PreIngestHook is called before a trace source is read.
// Use cases: decompression, validation, stream wrapping.
type PreIngestHook func(ctx context.Context, info *SourceInfo) (context.Context, error)

// SourceInfo contains information about the trace source.
type SourceInfo struct {
	Path      string
	SizeBytes int64
	Metadata  map[string]string
	Reader    io.Reader // May be wrapped by the hook
}

// PostEventHook is called for each normalized event before it reaches
// the store. Returning nil drops the event.
// Use cases: filtering, payload redaction, enrichment.
type PostEventHook func(ctx context.Context, ev *model.Event) (*model.Event, error)

// PostIngestHook is called after a full ingestion pass completes.
// Use cases: logging, notification, report generation.
type PostIngestHook func(ctx context.Context, result *IngestResult) error

// IngestResult contains the outcome of an ingestion pass.
type IngestResult struct {
	Path        string
	EventsKept  int64
	ParseFaults int64
	Duration    int64 // nanoseconds
	Metadata    map[string]string
}

// ErrorHook is called when an error occurs.
// Use cases: alerting, logging, recovery.
type ErrorHook func(ctx context.Context, err error, phase string) error

// RegisterPreIngest adds a pre-ingest hook.
func (m *HookManager) RegisterPreIngest(hook PreIngestHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preIngestHooks = append(m.preIngestHooks, hook)
}

// RegisterPostEvent adds a post-event hook.
func (m *HookManager) RegisterPostEvent(hook PostEventHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postEventHooks = append(m.postEventHooks, hook)
}

// RegisterPostIngest adds a post-ingest hook.
func (m *HookManager) RegisterPostIngest(hook PostIngestHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postIngestHooks = append(m.postIngestHooks, hook)
}

// RegisterError adds an error hook.
func (m *HookManager) RegisterError(hook ErrorHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorHooks = append(m.errorHooks, hook)
}

// RunPreIngest executes all pre-ingest hooks in registration order.
func (m *HookManager) RunPreIngest(ctx context.Context, info *SourceInfo) (context.Context, error) {
	m.mu.RLock()
	hooks := m.preIngestHooks
	m.mu.RUnlock()

	for _, hook := range hooks {
		var err error
		ctx, err = hook(ctx, info)
		if err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// RunPostEvent threads an event through all post-event hooks. A nil
// event short-circuits the chain: the event is dropped.
func (m *HookManager) RunPostEvent(ctx context.Context, ev *model.Event) (*model.Event, error) {
	m.mu.RLock()
	hooks := m.postEventHooks
	m.mu.RUnlock()

	for _, hook := range hooks {
		var err error
		ev, err = hook(ctx, ev)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			return nil, nil
		}
	}
	return ev, nil
}

// RunPostIngest executes all post-ingest hooks.
func (m *HookManager) RunPostIngest(ctx context.Context, result *IngestResult) error {
	m.mu.RLock()
	hooks := m.postIngestHooks
	m.mu.RUnlock()

	for _, hook := range hooks {
		if err := hook(ctx, result); err != nil {
			return err
		}
	}
	return nil
}

// RunError executes all error hooks. Hook errors are swallowed so an
// alerting failure never masks the original error.
func (m *HookManager) RunError(ctx context.Context, err error, phase string) {
	m.mu.RLock()
	hooks := m.errorHooks
	m.mu.RUnlock()

	for _, hook := range hooks {
		_ = hook(ctx, err, phase)
	}
}

// Count returns the number of registered hooks per phase.
func (m *HookManager) Count() (preIngest, postEvent, postIngest, errHooks int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.preIngestHooks), len(m.postEventHooks), len(m.postIngestHooks), len(m.errorHooks)
}
