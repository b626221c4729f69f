package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiModel calls the Gemini API. When the primary model fails it tries the
// fallback models in order.
type GeminiModel struct {
	client      *genai.Client
	models      []string
	temperature float32
	maxTokens   int32
}

func NewGeminiModel(ctx context.Context, apiKey, model string, temperature float64) (*GeminiModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini: api key required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	models := []string{model}
	if model != "gemini-1.5-flash" {
		models = append(models, "gemini-1.5-flash")
	}
	return &GeminiModel{client: client, models: models, temperature: float32(temperature), maxTokens: 1500}, nil
}

func (m *GeminiModel) GenerateText(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(m.temperature),
		MaxOutputTokens: m.maxTokens,
	}
	var errs []error
	for _, name := range m.models {
		resp, err := m.client.Models.GenerateContent(ctx, name, genai.Text(prompt), cfg)
		if err == nil {
			if text := strings.TrimSpace(resp.Text()); text != "" {
				return text, nil
			}
			err = errors.New("empty response")
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
		if ctx.Err() != nil {
			break
		}
	}
	return "", errors.Join(errs...)
}
