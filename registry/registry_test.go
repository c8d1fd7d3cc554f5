package registry

import (
	"errors"
	"strings"
	"testing"
)

const testDefinition = `
PROVIDERS:
  OPENAI:
    config: {}
  ANTHROPIC:
    config:
      region: us-east-1

MODELS:
  OPENAI/gpt-4.1-mini:
    internal_model_id: gpt-4.1-mini
    max_tokens: 1047576
    max_output_tokens: 4000
    capabilities:
      image_support: true
  OPENAI/gpt-4o:
    internal_model_id: gpt-4o
    max_tokens: 128000
    max_output_tokens: 16384
  ANTHROPIC/claude-sonnet-4:
    internal_model_id: claude-sonnet-4-20250514
    max_tokens: 200000
    max_output_tokens: 64000
    capabilities:
      image_support: true
      document_support: true
`

func mustParse(t *testing.T) *Registry {
	t.Helper()
	reg, err := Parse([]byte(testDefinition))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return reg
}

func TestResolveReconstructsIdentifier(t *testing.T) {
	reg := mustParse(t)

	for _, id := range []string{"OPENAI/gpt-4.1-mini", "OPENAI/gpt-4o", "ANTHROPIC/claude-sonnet-4"} {
		m, err := reg.Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", id, err)
		}
		if got := m.Provider.Name + "/" + m.Name; got != id {
			t.Errorf("provider/name = %q, want %q", got, id)
		}
		if m.ID != id {
			t.Errorf("ID = %q, want %q", m.ID, id)
		}
	}
}

func TestResolveProviderCaseInsensitive(t *testing.T) {
	reg := mustParse(t)

	m, err := reg.Resolve("openai/gpt-4o")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if m.ID != "OPENAI/gpt-4o" {
		t.Errorf("ID = %q, want OPENAI/gpt-4o", m.ID)
	}
}

func TestResolveBareName(t *testing.T) {
	reg := mustParse(t)

	m, err := reg.Resolve("claude-sonnet-4")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if m.Provider.Name != "ANTHROPIC" {
		t.Errorf("provider = %q, want ANTHROPIC", m.Provider.Name)
	}
}

func TestResolveNotFound(t *testing.T) {
	reg := mustParse(t)

	_, err := reg.Resolve("FOO/bar")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "FOO/bar") {
		t.Errorf("message %q does not contain the requested identifier", err.Error())
	}
}

func TestUndefinedProviderFailsFast(t *testing.T) {
	const bad = `
MODELS:
  MISSING/some-model:
    internal_model_id: some-model
    max_tokens: 1000
    max_output_tokens: 100
`
	_, err := Parse([]byte(bad))
	var cfg *ConfigError
	if !errors.As(err, &cfg) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "MISSING") {
		t.Errorf("message %q does not name the undefined provider", err.Error())
	}
}

func TestModelsFilterAndOrder(t *testing.T) {
	reg := mustParse(t)

	all := reg.Models("")
	if len(all) != 3 {
		t.Fatalf("got %d models, want 3", len(all))
	}
	// Sorted by identifier.
	for i := 1; i < len(all); i++ {
		if all[i-1].ID > all[i].ID {
			t.Errorf("models out of order: %q before %q", all[i-1].ID, all[i].ID)
		}
	}

	openai := reg.Models("openai")
	if len(openai) != 2 {
		t.Fatalf("got %d OPENAI models, want 2", len(openai))
	}
}

func TestProvidersShareInstances(t *testing.T) {
	reg := mustParse(t)

	a, _ := reg.Resolve("OPENAI/gpt-4.1-mini")
	b, _ := reg.Resolve("OPENAI/gpt-4o")
	if a.Provider != b.Provider {
		t.Error("models of one provider should reference the same Provider instance")
	}

	providers := reg.Providers()
	if len(providers) != 2 {
		t.Fatalf("got %d providers, want 2", len(providers))
	}
}

func TestCapabilities(t *testing.T) {
	reg := mustParse(t)

	m, _ := reg.Resolve("ANTHROPIC/claude-sonnet-4")
	if !m.ImageSupport() || !m.DocumentSupport() {
		t.Error("expected image and document support")
	}

	plain, _ := reg.Resolve("OPENAI/gpt-4o")
	if plain.ImageSupport() {
		t.Error("expected no image support when capabilities are omitted")
	}
}
