package llm

import (
	"context"
	"iter"
	"strings"

	"google.golang.org/genai"
)

var _ TokenSource = (*Gemini)(nil)

// Gemini streams content from the Gemini API.
type Gemini struct {
	Client *genai.Client

	Model        string
	SystemPrompt string
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, wrapErr("gemini", err)
	}
	return &Gemini{Client: client, Model: model}, nil
}

// geminiContents converts history to Gemini contents, merging consecutive
// messages from the same role.
func geminiContents(history []Message) []*genai.Content {
	var (
		contents []*genai.Content
		last     *genai.Content
	)
	for _, m := range history {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		part := genai.NewPartFromText(m.Content)
		if last != nil && last.Role == role {
			last.Parts = append(last.Parts, part)
			continue
		}
		last = &genai.Content{Role: role, Parts: []*genai.Part{part}}
		contents = append(contents, last)
	}
	return contents
}

func (g *Gemini) config() *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if g.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(g.SystemPrompt)},
		}
	}
	return cfg
}

// Stream implements TokenSource.
func (g *Gemini) Stream(ctx context.Context, history []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents := geminiContents(history)
		if len(contents) == 0 {
			yield("", ErrEmptyHistory)
			return
		}
		for resp, err := range g.Client.Models.GenerateContentStream(ctx, g.Model, contents, g.config()) {
			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				yield("", wrapErr("gemini", err))
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			var sb strings.Builder
			for _, p := range resp.Candidates[0].Content.Parts {
				if p.Text != "" && !p.Thought {
					sb.WriteString(p.Text)
				}
			}
			if sb.Len() == 0 {
				continue
			}
			if !yield(sb.String(), nil) {
				return
			}
		}
	}
}
