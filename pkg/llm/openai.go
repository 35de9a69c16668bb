package llm

import (
	"context"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

var _ TokenSource = (*OpenAI)(nil)

// OpenAI streams chat completions from an OpenAI-compatible endpoint.
type OpenAI struct {
	Client *openai.Client

	Model        string
	SystemPrompt string
	Temperature  float64
}

// NewOpenAI creates an OpenAI provider. baseURL may be empty.
func NewOpenAI(apiKey, baseURL, model string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAI{
		Client: &client,
		Model:  model,
	}
}

func (o *OpenAI) params(history []Message) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if o.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(o.SystemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: param.NewOpt(m.Content),
					},
				},
			})
		}
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    o.Model,
	}
	if o.Temperature > 0 {
		params.Temperature = param.NewOpt(o.Temperature)
	}
	return params
}

// Stream implements TokenSource.
func (o *OpenAI) Stream(ctx context.Context, history []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(history) == 0 {
			yield("", ErrEmptyHistory)
			return
		}
		stream := o.Client.Chat.Completions.NewStreaming(ctx, o.params(history))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if s := chunk.Choices[0].Delta.Content; s != "" {
				if !yield(s, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			yield("", wrapErr("openai", err))
		}
	}
}
