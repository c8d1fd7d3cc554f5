// Dispatch orchestrator: resolves the model, selects and lazily starts
// the provider adapter, issues the call under a per-call timeout, and
// enforces schema-constrained output.

package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/dumitrescustefan/llm-serv/conversation"
	"github.com/dumitrescustefan/llm-serv/registry"
)

// UsageRecorder receives one entry per successful vendor call. Recording
// is best-effort and never fails a dispatch.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, modelID, provider string, tokens ModelTokens, duration time.Duration) error
}

// Dispatcher drives the end-to-end request lifecycle. Safe for concurrent
// dispatches; adapters are cached per model and reused across calls.
type Dispatcher struct {
	registry *registry.Registry
	factory  func(*registry.Model) (Adapter, error)
	recorder UsageRecorder

	mu       sync.Mutex
	adapters map[string]Adapter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder attaches a usage recorder.
func WithRecorder(r UsageRecorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithAdapterFactory overrides adapter construction. Used by tests and by
// callers embedding custom backends.
func WithAdapterFactory(factory func(*registry.Model) (Adapter, error)) Option {
	return func(d *Dispatcher) { d.factory = factory }
}

// NewDispatcher creates a dispatcher over an explicitly provided registry.
func NewDispatcher(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		factory:  NewAdapter,
		adapters: make(map[string]Adapter),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the catalog this dispatcher resolves against.
func (d *Dispatcher) Registry() *registry.Registry { return d.registry }

// adapter returns the started adapter for a model, constructing and
// credential-checking it on first use.
func (d *Dispatcher) adapter(ctx context.Context, m *registry.Model) (Adapter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if a, ok := d.adapters[m.ID]; ok {
		return a, nil
	}
	a, err := d.factory(m)
	if err != nil {
		return nil, err
	}
	if err := a.CheckCredentials(); err != nil {
		return nil, err
	}
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	d.adapters[m.ID] = a
	return a, nil
}

// Dispatch runs one request lifecycle against the model identified by
// modelID (PROVIDER/name or bare name).
//
// Structured-parse failures surface as *schema.ResponseError carrying the
// raw text and schema name; the dispatcher performs no automatic
// re-prompt. Repair is a caller policy layered above dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, modelID string, req *Request) (*Response, error) {
	m, err := d.registry.Resolve(modelID)
	if err != nil {
		return nil, err
	}

	a, err := d.adapter(ctx, m)
	if err != nil {
		return nil, err
	}

	// Parsing only succeeds when the rendered schema instructions were in
	// the prompt. Callers usually embed them; append when absent.
	if req.ResponseFormat() == FormatStructured && !hasSchemaInstructions(req) {
		augmented := *req
		augmented.Conversation.Messages = append(
			append([]conversation.Message(nil), req.Conversation.Messages...),
			conversation.Message{Role: conversation.RoleUser, Text: req.ResponseSchema.Instructions()},
		)
		req = &augmented
	}

	// The timeout is scoped to this one network call. Each dispatch gets
	// its own context so concurrent calls never observe another call's
	// deadline.
	timeout := ClampTimeout(req.Timeout)
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
	defer cancel()

	start := time.Now()
	raw, tokens, err := a.Call(callCtx, req)
	if err != nil {
		if dispatchTimedOut(callCtx, err) {
			return nil, &TimeoutError{Seconds: timeout}
		}
		return nil, err
	}

	if d.recorder != nil {
		_ = d.recorder.RecordUsage(ctx, m.ID, m.Provider.Name, tokens, time.Since(start))
	}

	resp := &Response{Output: raw, Tokens: tokens}
	if req.ResponseFormat() == FormatStructured {
		value, perr := req.ResponseSchema.Parse(raw)
		if perr != nil {
			return nil, perr
		}
		resp.Value = value
	}
	return resp, nil
}

// dispatchTimedOut decides whether a failed call is reported as a
// timeout. An error already classified by the adapter wins over a
// deadline that happens to have fired at the same moment.
func dispatchTimedOut(callCtx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if callCtx.Err() != context.DeadlineExceeded {
		return false
	}
	var (
		conversion  *ConversionError
		throttling  *ThrottlingError
		credentials *CredentialsError
		service     *ServiceCallError
	)
	switch {
	case errors.As(err, &conversion), errors.As(err, &throttling),
		errors.As(err, &credentials), errors.As(err, &service):
		return false
	}
	return true
}

func hasSchemaInstructions(req *Request) bool {
	marker := "<" + req.ResponseSchema.Name + ">"
	if strings.Contains(req.Conversation.System, marker) {
		return true
	}
	for _, msg := range req.Conversation.Messages {
		if strings.Contains(msg.Text, marker) {
			return true
		}
	}
	return false
}

// CheckCredentials verifies provider configuration for a model without
// issuing a generation call or starting the adapter.
func (d *Dispatcher) CheckCredentials(modelID string) error {
	m, err := d.registry.Resolve(modelID)
	if err != nil {
		return err
	}
	a, err := d.factory(m)
	if err != nil {
		return err
	}
	return a.CheckCredentials()
}

// Close stops all started adapters.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var first error
	for id, a := range d.adapters {
		if err := a.Stop(); err != nil && first == nil {
			first = err
		}
		delete(d.adapters, id)
	}
	return first
}
