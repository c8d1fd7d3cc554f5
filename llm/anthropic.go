// Anthropic adapter built on the official anthropic-sdk-go.

package llm

import (
	"context"
	"os"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dumitrescustefan/llm-serv/registry"
)

const anthropicKeyEnv = "ANTHROPIC_API_KEY"

type anthropicAdapter struct {
	model *registry.Model

	mu      sync.Mutex
	client  *anthropic.Client
	started bool
}

func newAnthropicAdapter(m *registry.Model) *anthropicAdapter {
	return &anthropicAdapter{model: m}
}

func (a *anthropicAdapter) Kind() ProviderKind     { return ProviderAnthropic }
func (a *anthropicAdapter) Model() *registry.Model { return a.model }

func (a *anthropicAdapter) CheckCredentials() error {
	if os.Getenv(anthropicKeyEnv) == "" {
		return &CredentialsError{Provider: "ANTHROPIC", Missing: []string{anthropicKeyEnv}}
	}
	return nil
}

func (a *anthropicAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}
	if err := a.CheckCredentials(); err != nil {
		return err
	}
	client := anthropic.NewClient(option.WithAPIKey(os.Getenv(anthropicKeyEnv)))
	a.client = &client
	a.started = true
	return nil
}

func (a *anthropicAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = nil
	a.started = false
	return nil
}

// convert maps the request onto the Messages API wire format. The system
// instruction moves to params.System; message roles pass through with
// their raw value.
func (a *anthropicAdapter) convert(req *Request) (anthropic.MessageNewParams, error) {
	var messages []anthropic.MessageParam
	for _, msg := range req.Conversation.Messages {
		var blocks []anthropic.ContentBlockParamUnion
		if msg.Text != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
		}
		for _, img := range msg.Images {
			blocks = append(blocks, anthropic.NewImageBlockBase64(img.MIMEType(), img.Base64()))
		}
		messages = append(messages, anthropic.MessageParam{
			Role:    anthropic.MessageParamRole(msg.Role),
			Content: blocks,
		})
	}

	maxTokens := a.model.MaxOutputTokens
	if req.MaxCompletionTokens != nil {
		maxTokens = *req.MaxCompletionTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model.InternalModelID),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if req.Conversation.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.Conversation.System}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}

	return params, nil
}

func (a *anthropicAdapter) Call(ctx context.Context, req *Request) (string, ModelTokens, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return "", ModelTokens{}, &ServiceCallError{Provider: "ANTHROPIC", Message: "adapter not started"}
	}

	params, err := a.convert(req)
	if err != nil {
		return "", ModelTokens{}, &ConversionError{Provider: "ANTHROPIC", Cause: err}
	}

	message, err := client.Messages.New(ctx, params)
	if err != nil {
		return "", ModelTokens{}, classifyVendorError("ANTHROPIC", err)
	}

	output := ""
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			output += variant.Text
		}
	}
	if output == "" {
		return "", ModelTokens{}, &ServiceCallError{Provider: "ANTHROPIC", Message: "returned empty response"}
	}

	// The Messages API reports input and output counts only.
	tokens := ModelTokens{
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
		TotalTokens:  int(message.Usage.InputTokens + message.Usage.OutputTokens),
	}
	return output, tokens, nil
}

var _ Adapter = (*anthropicAdapter)(nil)
