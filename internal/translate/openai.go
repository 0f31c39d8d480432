package translate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

var ErrEmptyTranslation = errors.New("engine returned no translation")

const translatePrompt = "You are a translation engine. Translate the user's %s text from language %q to language %q. " +
	"Reply with the translated text only, without quotes or commentary."

// OpenAITranslator translates through a chat completion model.
type OpenAITranslator struct {
	client *openai.Client
	model  string
}

func NewOpenAITranslator(client *openai.Client, model string) *OpenAITranslator {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAITranslator{client: client, model: model}
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       t.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("createChatCompletion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyTranslation
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyTranslation
	}
	return text, nil
}

func systemPrompt(req Request) string {
	format := req.Format
	if format == "" {
		format = FormatText
	}
	return fmt.Sprintf(translatePrompt, format, req.From, req.To)
}
