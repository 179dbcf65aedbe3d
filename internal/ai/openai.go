package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/ashureev/replyd/internal/config"
	"github.com/ashureev/replyd/internal/domain"
)

// OpenAIGenerator implements Generator over the OpenAI chat completions API.
// The underlying client is rebuilt when the configured key changes, so key
// edits through the web UI take effect without a restart.
type OpenAIGenerator struct {
	mu     sync.Mutex
	key    string
	client openai.Client
}

// NewOpenAIGenerator returns a generator with no client until first use.
func NewOpenAIGenerator() *OpenAIGenerator {
	return &OpenAIGenerator{}
}

// Available reports whether an API key is configured.
func (g *OpenAIGenerator) Available(s config.Settings) bool {
	return strings.TrimSpace(s.OpenAIKey) != ""
}

// Reply generates the next assistant turn for the given context.
func (g *OpenAIGenerator) Reply(ctx context.Context, s config.Settings, turns []domain.Turn) (string, error) {
	if !g.Available(s) {
		return "", ErrUnavailable
	}
	reply, err := g.complete(ctx, s, turns)
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return reply, nil
}

// ExtractProfile rewrites the partner's profile from recent messages. The
// current profile is returned unchanged when no credential is configured or
// there is nothing to work from.
func (g *OpenAIGenerator) ExtractProfile(ctx context.Context, s config.Settings, current string, recent []domain.Message, partnerName string) (string, error) {
	if !g.Available(s) || len(recent) == 0 {
		return current, nil
	}

	out, err := g.complete(ctx, s, BuildProfileTurns(current, recent, partnerName))
	if err != nil {
		return current, fmt.Errorf("extract profile: %w", err)
	}
	if out == "" {
		return current, nil
	}
	return out, nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, s config.Settings, turns []domain.Turn) (string, error) {
	client := g.clientFor(strings.TrimSpace(s.OpenAIKey))

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}

	completion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(s.OpenAIModel),
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func (g *OpenAIGenerator) clientFor(key string) openai.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	if key != g.key {
		g.client = openai.NewClient(option.WithAPIKey(key))
		g.key = key
	}
	return g.client
}
