package ai

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const systemInstruction = `You are a senior full-stack JavaScript developer pairing with a team inside a shared project.
Write modular, readable code, handle errors, and keep existing behaviour working when you change files.

Always answer with a single JSON object and nothing else, in one of two shapes.

A conversational answer:
{"text": "your answer"}

An answer that creates or changes files:
{"text": "what you changed", "fileTree": {"package.json": {"file": {"contents": "..."}}, "index.js": {"file": {"contents": "..."}}}}

Rules:
- "text" is always present and is a string.
- "fileTree" keys are paths relative to the project root, such as "index.js" or "src/app.js". Never nest objects to express folders.
- Each fileTree value is {"file": {"contents": "<full file contents>"}} or {"directory": {}}.
- Only include files you create or change; other files are kept.
- Web servers must listen on process.env.PORT.
- Escape every JSON string correctly.`

// ErrNoGenerator is returned by Unavailable.
var ErrNoGenerator = errors.New("AI collaborator is not configured")

// GenAIConfig configures GenAIGenerator.
type GenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
}

// GenAIGenerator asks a Gemini model for a JSON reply.
type GenAIGenerator struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGenAIGenerator creates a generator backed by the Gemini API.
func NewGenAIGenerator(ctx context.Context, cfg GenAIConfig) (*GenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	temperature := cfg.Temperature
	return &GenAIGenerator{
		client: client,
		model:  cfg.Model,
		config: &genai.GenerateContentConfig{
			ResponseMIMEType:  "application/json",
			Temperature:       &temperature,
			SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		},
	}, nil
}

// Generate returns the model's raw text for prompt.
func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), g.config)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("GenAI returned an empty response")
	}
	return text, nil
}

// Unavailable is the generator used when no API key is configured. Every
// call fails, so every non-empty prompt gets the apology.
type Unavailable struct{}

func (Unavailable) Generate(context.Context, string) (string, error) {
	return "", ErrNoGenerator
}
