// OpenAI adapter built on the go-openai client.

package llm

import (
	"context"
	"os"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dumitrescustefan/llm-serv/registry"
)

const openAIKeyEnv = "OPENAI_API_KEY"

type openAIAdapter struct {
	model *registry.Model

	mu     sync.Mutex
	client *openai.Client
}

func newOpenAIAdapter(m *registry.Model) *openAIAdapter {
	return &openAIAdapter{model: m}
}

func (a *openAIAdapter) Kind() ProviderKind     { return ProviderOpenAI }
func (a *openAIAdapter) Model() *registry.Model { return a.model }

func (a *openAIAdapter) CheckCredentials() error {
	if os.Getenv(openAIKeyEnv) == "" {
		return &CredentialsError{Provider: "OPENAI", Missing: []string{openAIKeyEnv}}
	}
	return nil
}

func (a *openAIAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	if err := a.CheckCredentials(); err != nil {
		return err
	}
	a.client = openai.NewClient(os.Getenv(openAIKeyEnv))
	return nil
}

func (a *openAIAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = nil
	return nil
}

// convert maps the request onto the Chat Completions wire format.
// Unset optional parameters stay at their zero value, which go-openai
// omits from the payload.
func (a *openAIAdapter) convert(req *Request) (openai.ChatCompletionRequest, error) {
	var messages []openai.ChatCompletionMessage

	if req.Conversation.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Conversation.System,
		})
	}

	for _, msg := range req.Conversation.Messages {
		// Unrecognized roles pass through with their raw value.
		out := openai.ChatCompletionMessage{Role: string(msg.Role)}

		if len(msg.Images) == 0 {
			out.Content = msg.Text
		} else {
			var parts []openai.ChatMessagePart
			if msg.Text != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Text,
				})
			}
			for _, img := range msg.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: "data:" + img.MIMEType() + ";base64," + img.Base64(),
					},
				})
			}
			out.MultiContent = parts
		}
		messages = append(messages, out)
	}

	payload := openai.ChatCompletionRequest{
		Model:    a.model.InternalModelID,
		Messages: messages,
	}

	if req.MaxCompletionTokens != nil {
		payload.MaxTokens = *req.MaxCompletionTokens
	} else {
		payload.MaxTokens = a.model.MaxOutputTokens
	}
	if req.Temperature != nil {
		payload.Temperature = float32(*req.Temperature)
	}
	if req.TopP != nil {
		payload.TopP = float32(*req.TopP)
	}

	return payload, nil
}

func (a *openAIAdapter) Call(ctx context.Context, req *Request) (string, ModelTokens, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return "", ModelTokens{}, &ServiceCallError{Provider: "OPENAI", Message: "adapter not started"}
	}

	payload, err := a.convert(req)
	if err != nil {
		return "", ModelTokens{}, &ConversionError{Provider: "OPENAI", Cause: err}
	}

	resp, err := client.CreateChatCompletion(ctx, payload)
	if err != nil {
		return "", ModelTokens{}, classifyVendorError("OPENAI", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ModelTokens{}, &ServiceCallError{Provider: "OPENAI", Message: "returned empty response"}
	}

	tokens := ModelTokens{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, tokens, nil
}

var _ Adapter = (*openAIAdapter)(nil)
