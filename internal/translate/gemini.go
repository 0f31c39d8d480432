package translate

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// ContentGenerator is the part of the genai client the translator needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiTranslator translates through a Gemini model.
type GeminiTranslator struct {
	models ContentGenerator
	model  string
}

// NewGeminiClient builds a Gemini API client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func NewGeminiTranslator(models ContentGenerator, model string) *GeminiTranslator {
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiTranslator{models: models, model: model}
}

func (t *GeminiTranslator) Translate(ctx context.Context, req Request) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt(req), genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	}

	resp, err := t.models.GenerateContent(ctx, t.model, genai.Text(req.Text), config)
	if err != nil {
		return "", fmt.Errorf("generateContent failed: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyTranslation
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyTranslation
	}
	return text, nil
}
