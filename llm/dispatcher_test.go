package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dumitrescustefan/llm-serv/conversation"
	"github.com/dumitrescustefan/llm-serv/registry"
	"github.com/dumitrescustefan/llm-serv/schema"
)

const dispatcherDefinition = `
PROVIDERS:
  OPENAI:
    config: {}

MODELS:
  OPENAI/gpt-4.1-mini:
    internal_model_id: gpt-4.1-mini
    max_tokens: 1047576
    max_output_tokens: 4000
`

// fakeAdapter is a scriptable Adapter for exercising the dispatcher
// without any vendor SDK.
type fakeAdapter struct {
	model   *registry.Model
	credErr error
	onCall  func(ctx context.Context, req *Request) (string, ModelTokens, error)

	mu        sync.Mutex
	started   bool
	stopped   bool
	callCount int
	lastReq   *Request
	deadlines []time.Time
}

func (f *fakeAdapter) Kind() ProviderKind      { return ProviderOpenAI }
func (f *fakeAdapter) Model() *registry.Model  { return f.model }
func (f *fakeAdapter) CheckCredentials() error { return f.credErr }

func (f *fakeAdapter) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeAdapter) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) Call(ctx context.Context, req *Request) (string, ModelTokens, error) {
	f.mu.Lock()
	f.callCount++
	f.lastReq = req
	if deadline, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, deadline)
	}
	f.mu.Unlock()
	return f.onCall(ctx, req)
}

func newTestDispatcher(t *testing.T, fake *fakeAdapter, opts ...Option) *Dispatcher {
	t.Helper()
	reg, err := registry.Parse([]byte(dispatcherDefinition))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	opts = append(opts, WithAdapterFactory(func(m *registry.Model) (Adapter, error) {
		fake.model = m
		return fake, nil
	}))
	return NewDispatcher(reg, opts...)
}

func textRequest(prompt string) *Request {
	return &Request{Conversation: conversation.FromPrompt(prompt)}
}

func TestDispatchPlainText(t *testing.T) {
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "4", ModelTokens{InputTokens: 12, OutputTokens: 1, TotalTokens: 13}, nil
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	resp, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", textRequest("2+2="))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.Output != "4" {
		t.Errorf("Output = %q, want 4", resp.Output)
	}
	if resp.Value != nil {
		t.Error("Value should be nil for a plain text request")
	}
	if resp.Tokens.TotalTokens != 13 {
		t.Errorf("TotalTokens = %d, want 13", resp.Tokens.TotalTokens)
	}
	if !fake.started {
		t.Error("adapter was not started")
	}
}

func TestDispatchUnknownModel(t *testing.T) {
	fake := &fakeAdapter{}
	d := newTestDispatcher(t, fake)

	_, err := d.Dispatch(context.Background(), "FOO/bar", textRequest("hi"))
	var notFound *registry.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("got %T, want *registry.NotFoundError", err)
	}
	if fake.callCount != 0 {
		t.Error("adapter was called for an unknown model")
	}
}

func TestDispatchCredentialsCheckedBeforeCall(t *testing.T) {
	fake := &fakeAdapter{credErr: &CredentialsError{Provider: "OPENAI", Missing: []string{"OPENAI_API_KEY"}}}
	d := newTestDispatcher(t, fake)

	_, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", textRequest("hi"))
	var credErr *CredentialsError
	if !errors.As(err, &credErr) {
		t.Fatalf("got %T, want *CredentialsError", err)
	}
	if fake.started || fake.callCount != 0 {
		t.Error("adapter must not start or be called when credentials are missing")
	}
}

func TestDispatchReusesAdapter(t *testing.T) {
	constructed := 0
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "ok", ModelTokens{}, nil
		},
	}
	reg, err := registry.Parse([]byte(dispatcherDefinition))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	d := NewDispatcher(reg, WithAdapterFactory(func(m *registry.Model) (Adapter, error) {
		constructed++
		fake.model = m
		return fake, nil
	}))
	defer d.Close()

	for i := 0; i < 3; i++ {
		if _, err := d.Dispatch(context.Background(), "gpt-4.1-mini", textRequest("hi")); err != nil {
			t.Fatalf("Dispatch %d failed: %v", i, err)
		}
	}
	if constructed != 1 {
		t.Errorf("adapter constructed %d times, want 1", constructed)
	}
	if fake.callCount != 3 {
		t.Errorf("callCount = %d, want 3", fake.callCount)
	}
}

func TestDispatchAppendsSchemaInstructions(t *testing.T) {
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "<answer><value>42</value></answer>", ModelTokens{}, nil
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	s := &schema.Schema{Name: "answer", Fields: []schema.Field{{Name: "value", Kind: schema.Int}}}
	req := textRequest("what is six times seven?")
	req.ResponseSchema = s

	resp, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", req)
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if resp.Value["value"] != int64(42) {
		t.Errorf("Value[value] = %v, want 42", resp.Value["value"])
	}

	sent := fake.lastReq.Conversation.Messages
	if len(sent) != 2 {
		t.Fatalf("adapter saw %d messages, want prompt plus instructions", len(sent))
	}
	if !strings.Contains(sent[1].Text, "<answer>") {
		t.Errorf("appended message does not carry the schema skeleton: %q", sent[1].Text)
	}
	// The caller's request must not be mutated.
	if len(req.Conversation.Messages) != 1 {
		t.Errorf("caller request mutated: %d messages", len(req.Conversation.Messages))
	}
}

func TestDispatchSkipsInstructionsWhenPresent(t *testing.T) {
	s := &schema.Schema{Name: "answer", Fields: []schema.Field{{Name: "value", Kind: schema.Int}}}
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "<answer><value>7</value></answer>", ModelTokens{}, nil
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	req := textRequest("reply as instructed\n" + s.Instructions())
	req.ResponseSchema = s

	if _, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", req); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if len(fake.lastReq.Conversation.Messages) != 1 {
		t.Errorf("adapter saw %d messages, want 1 (instructions already embedded)", len(fake.lastReq.Conversation.Messages))
	}
}

func TestDispatchStructuredParseFailure(t *testing.T) {
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "I would rather not answer in XML.", ModelTokens{}, nil
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	req := textRequest("answer please")
	req.ResponseSchema = &schema.Schema{Name: "answer", Fields: []schema.Field{{Name: "value", Kind: schema.Int}}}

	_, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", req)
	re, ok := schema.AsResponseError(err)
	if !ok {
		t.Fatalf("got %T, want *schema.ResponseError", err)
	}
	if re.Raw != "I would rather not answer in XML." {
		t.Errorf("Raw = %q, want the vendor output unmodified", re.Raw)
	}
	if re.SchemaName != "answer" {
		t.Errorf("SchemaName = %q, want answer", re.SchemaName)
	}
}

func TestDispatchTimeoutCoercion(t *testing.T) {
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "", ModelTokens{}, context.DeadlineExceeded
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	req := textRequest("slow question")
	req.Timeout = 0 // coerced to the 5 second floor, never rejected

	_, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", req)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("got %T, want *TimeoutError", err)
	}
	if !strings.Contains(err.Error(), "5.0") {
		t.Errorf("message %q does not report the effective 5.0 second timeout", err.Error())
	}
}

func TestDispatchKeepsTypedErrorOnExpiredDeadline(t *testing.T) {
	// A vendor error classified by the adapter must survive even when the
	// call deadline fires at the same moment.
	throttled := &ThrottlingError{Provider: "OPENAI", Cause: errors.New("429 too many requests")}
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			<-ctx.Done()
			return "", ModelTokens{}, throttled
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Dispatch(ctx, "OPENAI/gpt-4.1-mini", textRequest("hi"))
	te, ok := AsThrottling(err)
	if !ok {
		t.Fatalf("got %T, want *ThrottlingError", err)
	}
	if te != throttled {
		t.Errorf("throttling error was rewritten: %v", te)
	}
}

func TestDispatchUntypedErrorOnExpiredDeadlineIsTimeout(t *testing.T) {
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			<-ctx.Done()
			return "", ModelTokens{}, errors.New("connection closed")
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Dispatch(ctx, "OPENAI/gpt-4.1-mini", textRequest("hi"))
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("got %T, want *TimeoutError", err)
	}
}

func TestDispatchTimeoutScopedPerCall(t *testing.T) {
	release := make(chan struct{})
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			<-release
			return "ok", ModelTokens{}, nil
		},
	}
	d := newTestDispatcher(t, fake)
	defer d.Close()

	// Warm the adapter so both dispatches below run Call concurrently.
	warm := textRequest("warm")
	go func() { release <- struct{}{} }()
	if _, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", warm); err != nil {
		t.Fatalf("warmup failed: %v", err)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, seconds := range []float64{10, 30} {
		wg.Add(1)
		go func(timeout float64) {
			defer wg.Done()
			req := textRequest("hi")
			req.Timeout = timeout
			_, _ = d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", req)
		}(seconds)
	}

	for {
		fake.mu.Lock()
		n := len(fake.deadlines)
		fake.mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	fake.mu.Lock()
	deadlines := append([]time.Time(nil), fake.deadlines[1:]...)
	fake.mu.Unlock()

	// Each concurrent call must observe its own deadline, not a shared one.
	var spans []float64
	for _, dl := range deadlines {
		spans = append(spans, dl.Sub(start).Seconds())
	}
	if len(spans) != 2 {
		t.Fatalf("observed %d deadlines, want 2", len(spans))
	}
	short, long := spans[0], spans[1]
	if short > long {
		short, long = long, short
	}
	if short < 8 || short > 12 {
		t.Errorf("short deadline %.1fs, want ~10s", short)
	}
	if long < 28 || long > 32 {
		t.Errorf("long deadline %.1fs, want ~30s", long)
	}
}

type recordedUsage struct {
	modelID  string
	provider string
	tokens   ModelTokens
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []recordedUsage
}

func (r *fakeRecorder) RecordUsage(ctx context.Context, modelID, provider string, tokens ModelTokens, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedUsage{modelID, provider, tokens})
	return nil
}

func TestDispatchRecordsUsage(t *testing.T) {
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "ok", ModelTokens{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}, nil
		},
	}
	rec := &fakeRecorder{}
	d := newTestDispatcher(t, fake, WithRecorder(rec))
	defer d.Close()

	if _, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", textRequest("hi")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if len(rec.entries) != 1 {
		t.Fatalf("recorded %d entries, want 1", len(rec.entries))
	}
	e := rec.entries[0]
	if e.modelID != "OPENAI/gpt-4.1-mini" || e.provider != "OPENAI" || e.tokens.TotalTokens != 5 {
		t.Errorf("unexpected usage entry: %+v", e)
	}
}

func TestCheckCredentialsDoesNotStartAdapter(t *testing.T) {
	fake := &fakeAdapter{}
	d := newTestDispatcher(t, fake)

	if err := d.CheckCredentials("OPENAI/gpt-4.1-mini"); err != nil {
		t.Fatalf("CheckCredentials failed: %v", err)
	}
	if fake.started {
		t.Error("credential check must not start the adapter")
	}
}

func TestCloseStopsAdapters(t *testing.T) {
	fake := &fakeAdapter{
		onCall: func(ctx context.Context, req *Request) (string, ModelTokens, error) {
			return "ok", ModelTokens{}, nil
		},
	}
	d := newTestDispatcher(t, fake)

	if _, err := d.Dispatch(context.Background(), "OPENAI/gpt-4.1-mini", textRequest("hi")); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !fake.stopped {
		t.Error("Close did not stop the adapter")
	}
}

func TestClampTimeout(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{0, 5},
		{-3, 5},
		{5, 5},
		{42.5, 42.5},
	}
	for _, c := range cases {
		if got := ClampTimeout(c.in); got != c.want {
			t.Errorf("ClampTimeout(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseProviderKind(t *testing.T) {
	for name, want := range map[string]ProviderKind{
		"OPENAI":    ProviderOpenAI,
		"anthropic": ProviderAnthropic,
		"Google":    ProviderGoogle,
	} {
		got, err := ParseProviderKind(name)
		if err != nil {
			t.Fatalf("ParseProviderKind(%q) failed: %v", name, err)
		}
		if got != want {
			t.Errorf("ParseProviderKind(%q) = %v, want %v", name, got, want)
		}
	}

	_, err := ParseProviderKind("AZURE")
	var unsupported *UnsupportedProviderError
	if !errors.As(err, &unsupported) {
		t.Fatalf("got %T, want *UnsupportedProviderError", err)
	}
}
