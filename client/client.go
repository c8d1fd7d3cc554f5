// Package client is the Go client for the llm-serv HTTP API.
//
// Per-request timeouts are scoped with a per-call context on a shared
// http.Client, so concurrent requests never observe each other's
// timeout.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dumitrescustefan/llm-serv/conversation"
	"github.com/dumitrescustefan/llm-serv/llm"
	"github.com/dumitrescustefan/llm-serv/registry"
	"github.com/dumitrescustefan/llm-serv/schema"
)

// ModelRef is one provider/name pair from list_models.
type ModelRef struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
}

// Client talks to one llm-serv server.
type Client struct {
	baseURL string
	http    *http.Client
	timeout float64

	provider string
	name     string
}

// New creates a client for the given host and port. timeoutSeconds is the
// default per-request timeout, floor-clamped to the allowed minimum.
func New(host string, port int, timeoutSeconds float64) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{},
		timeout: llm.ClampTimeout(timeoutSeconds),
	}
}

// SetModel selects the model used by subsequent Chat calls.
func (c *Client) SetModel(provider, name string) {
	c.provider = provider
	c.name = name
}

// HealthCheck probes the server itself, not any model.
func (c *Client) HealthCheck(ctx context.Context, timeoutSeconds float64) error {
	ctx, cancel := c.scopedContext(ctx, timeoutSeconds)
	defer cancel()

	var health struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, "/health", &health); err != nil {
		return err
	}
	if health.Status != "healthy" {
		return &llm.ServiceCallError{Provider: "server", Message: fmt.Sprintf("server reported unhealthy status %q", health.Status)}
	}
	return nil
}

// ListModels lists available models, optionally filtered by provider.
func (c *Client) ListModels(ctx context.Context, provider string) ([]ModelRef, error) {
	ctx, cancel := c.scopedContext(ctx, 0)
	defer cancel()

	path := "/list_models"
	if provider != "" {
		path += "?provider=" + provider
	}
	var refs []ModelRef
	if err := c.getJSON(ctx, path, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// ListProviders lists available provider names.
func (c *Client) ListProviders(ctx context.Context) ([]string, error) {
	ctx, cancel := c.scopedContext(ctx, 0)
	defer cancel()

	var names []string
	if err := c.getJSON(ctx, "/list_providers", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// CheckCredentials verifies provider configuration for a model without
// making a generation call.
func (c *Client) CheckCredentials(ctx context.Context, provider, name string) error {
	ctx, cancel := c.scopedContext(ctx, 0)
	defer cancel()

	var status struct {
		Status string `json:"status"`
	}
	return c.getJSON(ctx, fmt.Sprintf("/check_credentials/%s/%s", provider, name), &status)
}

// Chat sends one request to the currently set model. A Timeout on the
// request overrides the client default for this call only. When the
// request carries a schema, the returned response's Value is re-parsed
// locally from the raw output.
func (c *Client) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.provider == "" || c.name == "" {
		return nil, errors.New("model is not set, call SetModel(provider, name) first")
	}

	timeout := c.timeout
	if req.Timeout > 0 {
		timeout = llm.ClampTimeout(req.Timeout)
	}
	callCtx, cancel := context.WithTimeout(ctx, secondsToDuration(timeout))
	defer cancel()

	// The server clamps an absent timeout to its own floor, so the
	// effective timeout must ride on the wire request too.
	wire := *req
	wire.Timeout = timeout
	body, err := json.Marshal(&wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		fmt.Sprintf("%s/chat/%s/%s", c.baseURL, c.provider, c.name), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &llm.TimeoutError{Seconds: timeout}
		}
		return nil, &llm.ServiceCallError{Provider: "server", Message: "failed to connect to server", Cause: err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeWireError(httpResp)
	}

	var resp llm.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, &llm.ServiceCallError{Provider: "server", Message: "malformed response", Cause: err}
	}

	if req.ResponseSchema != nil && resp.Value == nil {
		value, perr := req.ResponseSchema.Parse(resp.Output)
		if perr != nil {
			return nil, perr
		}
		resp.Value = value
	}
	return &resp, nil
}

// ModelHealthCheck sends a minimal generation request to verify the
// currently set model end to end.
func (c *Client) ModelHealthCheck(ctx context.Context, timeoutSeconds float64) error {
	maxTokens := 5
	temperature := 0.0
	req := &llm.Request{
		Conversation:        conversation.FromPrompt("1+1="),
		MaxCompletionTokens: &maxTokens,
		Temperature:         &temperature,
		Timeout:             llm.ClampTimeout(timeoutSeconds),
	}
	_, err := c.Chat(ctx, req)
	return err
}

func (c *Client) scopedContext(ctx context.Context, timeoutSeconds float64) (context.Context, context.CancelFunc) {
	timeout := c.timeout
	if timeoutSeconds > 0 {
		timeout = llm.ClampTimeout(timeoutSeconds)
	}
	return context.WithTimeout(ctx, secondsToDuration(timeout))
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate")

	resp, err := c.http.Do(req)
	if err != nil {
		return &llm.ServiceCallError{Provider: "server", Message: "failed to connect to server", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeWireError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &llm.ServiceCallError{Provider: "server", Message: "malformed response", Cause: err}
	}
	return nil
}

type wireDetail struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	XML         string `json:"xml"`
	ReturnClass string `json:"return_class"`
}

// decodeWireError maps a non-200 response back into the typed taxonomy.
func decodeWireError(resp *http.Response) error {
	var payload struct {
		Detail wireDetail `json:"detail"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return &llm.ServiceCallError{Provider: "server",
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
	detail := payload.Detail

	switch detail.Error {
	case "model_not_found":
		return &registry.NotFoundError{ID: notFoundID(detail.Message)}
	case "unsupported_provider":
		return &llm.UnsupportedProviderError{Name: detail.Message}
	case "credentials_not_set":
		return &llm.CredentialsError{Provider: "server", Message: detail.Message}
	case "internal_conversion_error":
		return &llm.ConversionError{Provider: "server", Cause: errors.New(detail.Message)}
	case "service_throttling":
		return &llm.ThrottlingError{Provider: "server", Cause: errors.New(detail.Message)}
	case "structured_response_error":
		return &schema.ResponseError{SchemaName: detail.ReturnClass, Raw: detail.XML, Message: detail.Message}
	case "timeout_error":
		var seconds float64
		fmt.Sscanf(detail.Message, "request timed out after %f seconds", &seconds)
		return &llm.TimeoutError{Seconds: seconds}
	default:
		return &llm.ServiceCallError{Provider: "server", Message: detail.Message}
	}
}

// notFoundID pulls the quoted identifier out of a not-found message so
// the reconstructed error keeps the same text.
func notFoundID(message string) string {
	start := -1
	for i, r := range message {
		if r == '\'' {
			if start < 0 {
				start = i + 1
				continue
			}
			return message[start:i]
		}
	}
	return message
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
