// Package llm adapts the agent runtime to a single-shot completion
// call. The concierge composes one prompt per turn and expects one
// reply: no tools, no multi-step iterations, temperature pinned to
// zero so the same turn always reads the same way.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illoraretreats/concierge/internal/config"
)

// ErrCompletion marks any failure to obtain a reply from the model.
var ErrCompletion = errors.New("completion failed")

// Completer produces the assistant reply for a fully composed prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Runtime is the slice of the agent runtime the client needs, kept as
// an interface so tests can substitute their own.
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

type Client struct {
	runtime Runtime
	log     zerolog.Logger
}

// New builds a runtime-backed client. systemPrompt carries the active
// persona body; empty means no system prompt.
func New(cfg *config.Config, systemPrompt string, log zerolog.Logger) (*Client, error) {
	temperature := 0.0
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:      cfg.Provider.APIKey,
			BaseURL:     cfg.Provider.BaseURL,
			ModelName:   cfg.Agent.Model,
			MaxTokens:   cfg.Agent.MaxTokens,
			Temperature: &temperature,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ModelFactory:        provider,
		SystemPrompt:        systemPrompt,
		MaxIterations:       1,
		EnabledBuiltinTools: []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return NewWithRuntime(&runtimeAdapter{rt: rt}, log), nil
}

func NewWithRuntime(rt Runtime, log zerolog.Logger) *Client {
	return &Client{runtime: rt, log: log}
}

// Complete runs the prompt through the model and returns the trimmed
// reply. Each call gets its own session id, so concurrent guest turns
// never contend for one runtime session.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.runtime.Run(ctx, api.Request{
		Prompt:    prompt,
		SessionID: "turn-" + uuid.NewString(),
	})
	if err != nil {
		c.log.Error().Err(err).Msg("model call failed")
		return "", fmt.Errorf("%w: %v", ErrCompletion, err)
	}
	if resp == nil || resp.Result == nil {
		return "", fmt.Errorf("%w: empty response", ErrCompletion)
	}
	return strings.TrimSpace(resp.Result.Output), nil
}
