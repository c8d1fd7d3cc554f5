// Package registry holds the catalog of known models and their providers.
//
// The catalog is loaded once from a YAML definition with two top-level
// sections, PROVIDERS and MODELS, and is immutable afterwards. Callers
// construct a Registry explicitly and hand it to the dispatcher; there is
// no package-level singleton.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider is a named backend with arbitrary configuration.
// Many models reference one provider; providers are read-only after load.
type Provider struct {
	Name   string
	Config map[string]any
}

// Model describes one registered model.
type Model struct {
	ID              string // format: PROVIDER/name
	Name            string
	InternalModelID string
	Provider        *Provider

	MaxTokens       int
	MaxOutputTokens int

	Capabilities map[string]bool
	Config       map[string]any
}

// ImageSupport reports whether the model accepts image content.
func (m *Model) ImageSupport() bool { return m.Capabilities["image_support"] }

// DocumentSupport reports whether the model accepts document content.
func (m *Model) DocumentSupport() bool { return m.Capabilities["document_support"] }

// NotFoundError is returned when an identifier resolves to no model.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no model found for ID '%s'", e.ID)
}

// ConfigError reports an invalid registry definition. Not retried.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "registry config: " + e.Message
}

// YAML document shape. Bound directly to the domain types below.
type fileProvider struct {
	Config map[string]any `yaml:"config"`
}

type fileModel struct {
	InternalModelID string          `yaml:"internal_model_id"`
	MaxTokens       int             `yaml:"max_tokens"`
	MaxOutputTokens int             `yaml:"max_output_tokens"`
	Capabilities    map[string]bool `yaml:"capabilities"`
	Config          map[string]any  `yaml:"config"`
}

type fileRegistry struct {
	Providers map[string]fileProvider `yaml:"PROVIDERS"`
	Models    map[string]fileModel    `yaml:"MODELS"`
}

// Registry is the immutable model/provider catalog.
type Registry struct {
	providers []*Provider
	models    []*Model
}

// Load reads and parses a registry definition file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Registry from a YAML definition.
// Every model's referenced provider must be defined in PROVIDERS.
func Parse(data []byte) (*Registry, error) {
	var doc fileRegistry
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Message: err.Error()}
	}

	providers := make(map[string]*Provider)

	// YAML maps are unordered in Go; sort identifiers so listings and
	// bare-name resolution stay deterministic.
	ids := make([]string, 0, len(doc.Models))
	for id := range doc.Models {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var models []*Model
	for _, id := range ids {
		providerName, modelName, ok := strings.Cut(id, "/")
		if !ok {
			return nil, &ConfigError{Message: fmt.Sprintf("model %q: identifier must be PROVIDER/name", id)}
		}

		provider, exists := providers[providerName]
		if !exists {
			def, defined := doc.Providers[providerName]
			if !defined {
				return nil, &ConfigError{Message: fmt.Sprintf(
					"provider %q referenced in model %q but not defined in PROVIDERS section", providerName, id)}
			}
			provider = &Provider{Name: providerName, Config: def.Config}
			providers[providerName] = provider
		}

		md := doc.Models[id]
		models = append(models, &Model{
			ID:              id,
			Name:            modelName,
			InternalModelID: md.InternalModelID,
			Provider:        provider,
			MaxTokens:       md.MaxTokens,
			MaxOutputTokens: md.MaxOutputTokens,
			Capabilities:    md.Capabilities,
			Config:          md.Config,
		})
	}

	providerList := make([]*Provider, 0, len(providers))
	for _, p := range providers {
		providerList = append(providerList, p)
	}
	sort.Slice(providerList, func(i, j int) bool { return providerList[i].Name < providerList[j].Name })

	return &Registry{providers: providerList, models: models}, nil
}

// Resolve returns the model for an identifier in PROVIDER/name form
// (provider case-insensitive) or a bare name (first match by name).
func (r *Registry) Resolve(id string) (*Model, error) {
	if providerName, modelName, ok := strings.Cut(id, "/"); ok {
		for _, m := range r.models {
			if strings.EqualFold(m.Provider.Name, providerName) && m.Name == modelName {
				return m, nil
			}
		}
	} else {
		for _, m := range r.models {
			if m.Name == id {
				return m, nil
			}
		}
	}
	return nil, &NotFoundError{ID: id}
}

// Models lists registered models, optionally filtered by provider name
// (case-insensitive). An empty provider lists everything.
func (r *Registry) Models(provider string) []*Model {
	if provider == "" {
		out := make([]*Model, len(r.models))
		copy(out, r.models)
		return out
	}
	var out []*Model
	for _, m := range r.models {
		if strings.EqualFold(m.Provider.Name, provider) {
			out = append(out, m)
		}
	}
	return out
}

// Providers lists all defined providers that are referenced by models.
func (r *Registry) Providers() []*Provider {
	out := make([]*Provider, len(r.providers))
	copy(out, r.providers)
	return out
}
