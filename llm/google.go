// Google Vertex adapter built on the unified google.golang.org/genai SDK.
// Uses Application Default Credentials with required project/location
// environment variables.

package llm

import (
	"context"
	"os"
	"sync"

	"google.golang.org/genai"

	"github.com/dumitrescustefan/llm-serv/registry"
)

const (
	googleProjectEnv  = "GOOGLE_CLOUD_PROJECT"
	googleLocationEnv = "GOOGLE_CLOUD_LOCATION"
)

type googleAdapter struct {
	model *registry.Model

	mu     sync.Mutex
	client *genai.Client
}

func newGoogleAdapter(m *registry.Model) *googleAdapter {
	return &googleAdapter{model: m}
}

func (a *googleAdapter) Kind() ProviderKind     { return ProviderGoogle }
func (a *googleAdapter) Model() *registry.Model { return a.model }

func (a *googleAdapter) CheckCredentials() error {
	var missing []string
	for _, env := range []string{googleProjectEnv, googleLocationEnv} {
		if os.Getenv(env) == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return &CredentialsError{Provider: "GOOGLE", Missing: missing}
	}
	return nil
}

func (a *googleAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	if err := a.CheckCredentials(); err != nil {
		return err
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  os.Getenv(googleProjectEnv),
		Location: os.Getenv(googleLocationEnv),
	})
	if err != nil {
		return &ServiceCallError{Provider: "GOOGLE", Message: "client initialization failed", Cause: err}
	}
	a.client = client
	return nil
}

func (a *googleAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	// The genai client needs no explicit cleanup.
	a.client = nil
	return nil
}

// convert maps the request onto the GenerateContent wire format. The
// assistant role becomes Vertex's "model" label; unrecognized roles pass
// through with their raw value. Unset generation parameters stay nil and
// are omitted, never sent as zero.
func (a *googleAdapter) convert(req *Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var contents []*genai.Content
	for _, msg := range req.Conversation.Messages {
		role := string(msg.Role)
		switch msg.Role {
		case "user":
			role = string(genai.RoleUser)
		case "assistant":
			role = string(genai.RoleModel)
		}

		var parts []*genai.Part
		if msg.Text != "" {
			parts = append(parts, &genai.Part{Text: msg.Text})
		}
		for _, img := range msg.Images {
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: img.MIMEType(), Data: img.Data},
			})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	config := &genai.GenerateContentConfig{}
	if req.MaxCompletionTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxCompletionTokens)
	} else {
		config.MaxOutputTokens = int32(a.model.MaxOutputTokens)
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.TopP != nil {
		config.TopP = genai.Ptr(float32(*req.TopP))
	}
	if req.Conversation.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.Conversation.System, genai.RoleUser)
	}

	return contents, config, nil
}

func (a *googleAdapter) Call(ctx context.Context, req *Request) (string, ModelTokens, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	if client == nil {
		return "", ModelTokens{}, &ServiceCallError{Provider: "GOOGLE", Message: "adapter not started"}
	}

	contents, config, err := a.convert(req)
	if err != nil {
		return "", ModelTokens{}, &ConversionError{Provider: "GOOGLE", Cause: err}
	}

	resp, err := client.Models.GenerateContent(ctx, a.model.InternalModelID, contents, config)
	if err != nil {
		return "", ModelTokens{}, classifyVendorError("GOOGLE", err)
	}

	output := resp.Text()
	if output == "" {
		return "", ModelTokens{}, &ServiceCallError{Provider: "GOOGLE", Message: "returned empty response"}
	}

	var tokens ModelTokens
	if usage := resp.UsageMetadata; usage != nil {
		tokens = ModelTokens{
			InputTokens:  int(usage.PromptTokenCount),
			OutputTokens: int(usage.CandidatesTokenCount),
			TotalTokens:  int(usage.TotalTokenCount),
		}
	}
	return output, tokens, nil
}

var _ Adapter = (*googleAdapter)(nil)
