// Error taxonomy for the dispatch pipeline.
//
// Every failure path surfaces exactly one of these typed errors; vendor
// SDK errors never escape an adapter untyped. The transport layer maps
// them to wire-level status codes.

package llm

import (
	"errors"
	"fmt"
	"strings"
)

// UnsupportedProviderError means a registered model names a provider
// that has no adapter variant.
type UnsupportedProviderError struct {
	Name string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider: %s", e.Name)
}

// CredentialsError means required configuration for a provider is
// missing or invalid. Surfaced before any network call, never retried.
type CredentialsError struct {
	Provider string
	Missing  []string
	Message  string
}

func (e *CredentialsError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("%s: missing required environment variables: %s",
			e.Provider, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ConversionError means a conversation or its parameters could not be
// mapped to the vendor wire format. Indicates a caller-side data problem.
type ConversionError struct {
	Provider string
	Cause    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: request conversion failed: %v", e.Provider, e.Cause)
}

func (e *ConversionError) Unwrap() error { return e.Cause }

// ThrottlingError means the vendor signaled rate limiting. Surfaced
// distinctly so callers can apply backoff; the core does not retry.
type ThrottlingError struct {
	Provider string
	Cause    error
}

func (e *ThrottlingError) Error() string {
	return fmt.Sprintf("%s: service is throttling requests: %v", e.Provider, e.Cause)
}

func (e *ThrottlingError) Unwrap() error { return e.Cause }

// ServiceCallError is a generic vendor or network failure, including
// auth failures surfaced mid-call and empty responses.
type ServiceCallError struct {
	Provider string
	Message  string
	// CredentialsRelated marks auth/permission failures detected during
	// a call, as opposed to missing configuration caught up front.
	CredentialsRelated bool
	Cause              error
}

func (e *ServiceCallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ServiceCallError) Unwrap() error { return e.Cause }

// TimeoutError means the network call exceeded its scoped timeout.
type TimeoutError struct {
	Seconds float64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %.1f seconds", e.Seconds)
}

// AsThrottling unwraps err into a *ThrottlingError when possible.
func AsThrottling(err error) (*ThrottlingError, bool) {
	var te *ThrottlingError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Keyword sets used to classify otherwise-opaque vendor errors.
var (
	throttleKeywords = []string{"rate limit", "quota", "throttle", "too many requests", "429"}
	authKeywords     = []string{"permission denied", "unauthorized", "api key", "401", "403"}
)

// classifyVendorError maps an error returned by a vendor SDK into the
// taxonomy by inspecting its text.
func classifyVendorError(provider string, err error) error {
	message := strings.ToLower(err.Error())

	for _, kw := range throttleKeywords {
		if strings.Contains(message, kw) {
			return &ThrottlingError{Provider: provider, Cause: err}
		}
	}
	for _, kw := range authKeywords {
		if strings.Contains(message, kw) {
			return &ServiceCallError{Provider: provider, Message: "authentication error", CredentialsRelated: true, Cause: err}
		}
	}
	return &ServiceCallError{Provider: provider, Message: "service error", Cause: err}
}
