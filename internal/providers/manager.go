package providers

import (
	"errors"
	"fmt"
	"strings"

	"coursesearch/internal/config"
)

// ErrMissingCredentials is returned by CheckCredentials when a configured
// provider has no API key.
var ErrMissingCredentials = errors.New("missing provider credentials")

type NamedEmbedProvider struct {
	Ref      ProviderRef
	Provider EmbeddingProvider
}

type Manager struct {
	embedProviders []NamedEmbedProvider
}

func NewManager(cfg config.Config) (*Manager, error) {
	m := &Manager{}
	for _, ref := range ParseProviderList(cfg.EmbedProviders) {
		p, err := buildProvider(ref, cfg)
		if err != nil {
			return nil, err
		}
		m.embedProviders = append(m.embedProviders, NamedEmbedProvider{Ref: ref, Provider: p})
	}
	return m, nil
}

func (m *Manager) EmbedProviderByIndex(i int) (EmbeddingProvider, ProviderRef) {
	if len(m.embedProviders) == 0 {
		return NewMockProvider(1536), ProviderRef{Raw: "mock", Name: "mock"}
	}
	if i < 0 || i >= len(m.embedProviders) {
		i = 0
	}
	return m.embedProviders[i].Provider, m.embedProviders[i].Ref
}

// Primary returns the first non-mock provider, or the mock when nothing else is configured.
func (m *Manager) Primary() (EmbeddingProvider, ProviderRef) {
	order := m.PreferredEmbedOrder()
	if len(order) == 0 {
		return m.EmbedProviderByIndex(0)
	}
	return m.EmbedProviderByIndex(order[0])
}

// Select returns the provider named by raw (as written in the provider list,
// its name, or name:alias). An empty raw falls back to Primary.
func (m *Manager) Select(raw string) (EmbeddingProvider, ProviderRef, error) {
	if strings.TrimSpace(raw) == "" {
		p, ref := m.Primary()
		return p, ref, nil
	}
	i := m.FindEmbedProviderIndex(raw)
	if i < 0 {
		return nil, ProviderRef{}, fmt.Errorf("embed provider %q is not configured", raw)
	}
	p, ref := m.EmbedProviderByIndex(i)
	return p, ref, nil
}

func (m *Manager) EmbedCount() int {
	return len(m.embedProviders)
}

func (m *Manager) PreferredEmbedOrder() []int {
	return preferredOrder(len(m.embedProviders), func(i int) string { return strings.ToLower(m.embedProviders[i].Ref.Name) })
}

func preferredOrder(n int, nameAt func(i int) string) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if nameAt(i) != "mock" {
			out = append(out, i)
		}
	}
	for i := 0; i < n; i++ {
		if nameAt(i) == "mock" {
			out = append(out, i)
		}
	}
	return out
}

func (m *Manager) FindEmbedProviderIndex(raw string) int {
	target := strings.ToLower(strings.TrimSpace(raw))
	if target == "" {
		return -1
	}
	for i := range m.embedProviders {
		ref := m.embedProviders[i].Ref
		candidates := []string{
			strings.ToLower(strings.TrimSpace(ref.Raw)),
			strings.ToLower(strings.TrimSpace(ref.Name)),
		}
		if ref.KeyAlias != "" {
			candidates = append(candidates, strings.ToLower(strings.TrimSpace(ref.Name+":"+ref.KeyAlias)))
		}
		for _, c := range candidates {
			if c == target {
				return i
			}
		}
	}
	return -1
}

// CheckCredentials fails when any configured provider that needs a key has none.
func (m *Manager) CheckCredentials() error {
	var missing []string
	for _, p := range m.embedProviders {
		if c, ok := p.Provider.(CredentialedProvider); ok && !c.HasCredentials() {
			missing = append(missing, p.Ref.Raw)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

func buildProvider(ref ProviderRef, cfg config.Config) (EmbeddingProvider, error) {
	switch strings.ToLower(ref.Name) {
	case "mock":
		return NewMockProvider(cfg.EmbedDim), nil
	case "openai":
		return NewOpenAIProvider(ref.KeyAlias), nil
	case "ollama":
		return NewOllamaEmbeddingProvider(ref.KeyAlias), nil
	case "langchain":
		return NewLangchainProvider(ref.KeyAlias, cfg.EmbedModel)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", ref.Name)
	}
}
