package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

func init() {
	Register("gemini", func(apiKey string) (Provider, error) {
		return NewGemini(apiKey)
	})
}

// GeminiProvider implements Provider using the Gemini generate-content API.
type GeminiProvider struct {
	apiKey string
}

// NewGemini creates a Gemini chat provider. The underlying client is
// created per request because genai.NewClient requires a context.
func NewGemini(apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing api key")
	}
	return &GeminiProvider{apiKey: apiKey}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string { return "gemini" }

// Chat runs a completion over the conversation so far.
func (p *GeminiProvider) Chat(ctx context.Context, msgs []Message, opts ChatOptions) (*Completion, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("gemini chat: missing model")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: p.apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	var config *genai.GenerateContentConfig
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if config == nil {
				config = &genai.GenerateContentConfig{}
			}
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
			}
		case "assistant":
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	if opts.Temperature != 0 {
		if config == nil {
			config = &genai.GenerateContentConfig{}
		}
		temp := float32(opts.Temperature)
		config.Temperature = &temp
	}

	resp, err := client.Models.GenerateContent(ctx, opts.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	var sb strings.Builder
	finish := ""
	if resp != nil && len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		finish = string(cand.FinishReason)
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				sb.WriteString(part.Text)
			}
		}
	}

	out := &Completion{Text: sb.String(), FinishReason: finish}
	if resp != nil && resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}
