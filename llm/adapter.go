package llm

import (
	"context"
	"strings"

	"github.com/dumitrescustefan/llm-serv/registry"
)

// ProviderKind is the closed set of vendors with an adapter variant.
// Selection goes through a static lookup table so the provider set stays
// exhaustively checkable at compile time.
type ProviderKind int

const (
	ProviderOpenAI ProviderKind = iota
	ProviderAnthropic
	ProviderGoogle
)

func (k ProviderKind) String() string {
	switch k {
	case ProviderOpenAI:
		return "OPENAI"
	case ProviderAnthropic:
		return "ANTHROPIC"
	case ProviderGoogle:
		return "GOOGLE"
	default:
		return "UNKNOWN"
	}
}

// ParseProviderKind maps a registry provider name (case-insensitive) to
// its adapter variant.
func ParseProviderKind(name string) (ProviderKind, error) {
	switch strings.ToUpper(name) {
	case "OPENAI":
		return ProviderOpenAI, nil
	case "ANTHROPIC":
		return ProviderAnthropic, nil
	case "GOOGLE":
		return ProviderGoogle, nil
	default:
		return 0, &UnsupportedProviderError{Name: name}
	}
}

// Adapter is the per-vendor capability set: credentials check, lazy
// lifecycle, and a classified call that converts the request to the
// vendor wire format internally.
//
// Adapter instances are created per model and hold no cross-call state
// beyond the started client handle. Start and Stop are idempotent;
// callers serialize lifecycle transitions.
type Adapter interface {
	Kind() ProviderKind
	Model() *registry.Model

	// CheckCredentials fails with *CredentialsError listing missing
	// required configuration. Called before first use.
	CheckCredentials() error

	// Start lazily constructs the vendor client. No-op when already
	// started.
	Start(ctx context.Context) error

	// Stop releases the vendor client. No-op when not started.
	Stop() error

	// Call converts and issues the request, returning the raw output
	// text and token usage. Failures are always typed: *ConversionError,
	// *ThrottlingError or *ServiceCallError.
	Call(ctx context.Context, req *Request) (string, ModelTokens, error)
}

var adapterFactories = map[ProviderKind]func(*registry.Model) Adapter{
	ProviderOpenAI:    func(m *registry.Model) Adapter { return newOpenAIAdapter(m) },
	ProviderAnthropic: func(m *registry.Model) Adapter { return newAnthropicAdapter(m) },
	ProviderGoogle:    func(m *registry.Model) Adapter { return newGoogleAdapter(m) },
}

// NewAdapter selects the adapter variant for a model's provider.
func NewAdapter(m *registry.Model) (Adapter, error) {
	kind, err := ParseProviderKind(m.Provider.Name)
	if err != nil {
		return nil, err
	}
	return adapterFactories[kind](m), nil
}
