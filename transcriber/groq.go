package transcriber

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

const groqBaseURL = "https://api.groq.com/openai/v1"

// Transcription is the engine payload returned to route callers.
type Transcription struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Engine transcribes a file on disk. The route writes uploads to a temp
// file because the engine API takes a path.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, path string) (*Transcription, error)
}

type EngineParams struct {
	Model       string
	Language    string
	Temperature float32
}

// Groq calls the Whisper models behind Groq's OpenAI-compatible API.
type Groq struct {
	client *openai.Client
	params EngineParams
}

func NewGroq(apiKey, baseURL string, params EngineParams) *Groq {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL == "" {
		baseURL = groqBaseURL
	}
	cfg.BaseURL = baseURL
	if params.Model == "" {
		params.Model = "whisper-large-v3"
	}
	if params.Language == "" {
		params.Language = "en"
	}
	return &Groq{client: openai.NewClientWithConfig(cfg), params: params}
}

func (g *Groq) Name() string { return "groq/" + g.params.Model }

func (g *Groq) Transcribe(ctx context.Context, path string) (*Transcription, error) {
	resp, err := g.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       g.params.Model,
		FilePath:    path,
		Language:    g.params.Language,
		Temperature: g.params.Temperature,
		Format:      openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return nil, errors.New(apiErr.Message)
		}
		return nil, err
	}
	return &Transcription{Text: resp.Text, Language: resp.Language, Duration: resp.Duration}, nil
}
