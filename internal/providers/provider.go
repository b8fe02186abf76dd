package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chordwave/backend/internal/models"
)

// State is the internal view of a provider-side job, after mapping each
// provider's own status vocabulary.
type State string

const (
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// ErrProvider wraps non-2xx or malformed responses from a generation provider.
var ErrProvider = errors.New("provider error")

// StartRequest carries the generation parameters to a provider client.
type StartRequest struct {
	Kind   string
	Title  string
	Params json.RawMessage
}

// StatusResult is a provider job status mapped to the internal vocabulary.
// FileURL is set once State is StateCompleted; Message explains a failure.
type StatusResult struct {
	State   State
	FileURL string
	Message string
}

// Provider is one external generation backend. Start submits a job and
// returns the provider's correlation id; Status fetches and maps its state.
type Provider interface {
	Name() string
	Start(ctx context.Context, req StartRequest) (externalID string, err error)
	Status(ctx context.Context, externalID string) (StatusResult, error)
}

// Registry resolves provider clients by name and picks the default provider
// for each generation kind.
type Registry struct {
	clients map[string]Provider
}

func NewRegistry(clients ...Provider) *Registry {
	r := &Registry{clients: make(map[string]Provider, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return c, nil
}

// DefaultFor returns the default provider name for a generation kind.
func (r *Registry) DefaultFor(kind string) (string, error) {
	var name string
	switch kind {
	case models.KindMusic:
		name = models.ProviderSuno
	case models.KindImage:
		name = models.ProviderOpenAI
	case models.KindVideo:
		name = models.ProviderSora
	default:
		return "", fmt.Errorf("unknown generation kind %q", kind)
	}
	if _, ok := r.clients[name]; !ok {
		return "", fmt.Errorf("no client configured for provider %q", name)
	}
	return name, nil
}

// Supports reports whether the named provider can serve the given kind.
func Supports(provider, kind string) bool {
	switch provider {
	case models.ProviderSuno, models.ProviderDiffrhythm:
		return kind == models.KindMusic
	case models.ProviderOpenAI:
		return kind == models.KindImage
	case models.ProviderSora:
		return kind == models.KindVideo
	}
	return false
}
