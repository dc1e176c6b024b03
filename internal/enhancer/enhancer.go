package enhancer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Enhancer rewrites a raw user prompt into a richer generation prompt.
// Failures never block a submission: callers fall back to the original
// prompt.
type Enhancer interface {
	Enhance(ctx context.Context, prompt, style string) (string, error)
}

// Noop returns prompts unchanged; used when no OpenAI key is configured.
type Noop struct{}

func (Noop) Enhance(ctx context.Context, prompt, style string) (string, error) {
	return prompt, nil
}

const systemPrompt = "You rewrite short song ideas into vivid, specific prompts for a " +
	"music generation model. Keep the user's intent and language, mention " +
	"instrumentation, mood and tempo, and answer with the rewritten prompt " +
	"only - no preamble, no quotes."

const maxEnhancedLength = 2500

// OpenAI enhances prompts through a chat completion.
type OpenAI struct {
	client *openai.Client
	model  string
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		client: openai.NewClient(apiKey),
		model:  openai.GPT4oMini,
	}
}

func (o *OpenAI) Enhance(ctx context.Context, prompt, style string) (string, error) {
	userMsg := prompt
	if style != "" {
		userMsg = fmt.Sprintf("Style: %s\nIdea: %s", style, prompt)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.7,
		MaxTokens:   400,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userMsg},
		},
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	enhanced := strings.TrimSpace(resp.Choices[0].Message.Content)
	if enhanced == "" {
		return "", fmt.Errorf("empty response from OpenAI")
	}
	if len(enhanced) > maxEnhancedLength {
		enhanced = enhanced[:maxEnhancedLength]
	}

	slog.Debug("prompt enhanced",
		"original_length", len(prompt),
		"enhanced_length", len(enhanced),
		"tokens_used", resp.Usage.TotalTokens)

	return enhanced, nil
}
