// Package transcribe turns finished model turns into text with a Gemini
// GenerateContent request.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is the model used for transcription.
const DefaultModel = "gemini-2.0-flash"

// instruction asks for a verbatim transcript in the spoken language.
const instruction = "Transcribe this audio exactly as spoken, in the language it is spoken in. " +
	"Return only the transcript text, without quotes, labels or commentary."

// ErrEmptyTranscript is returned when the model produced no text.
var ErrEmptyTranscript = errors.New("empty transcript")

// Config configures the Gemini client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string // Optional API base URL override
	HTTPClient *http.Client
}

// Gemini transcribes audio containers with the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// New returns a Gemini transcriber.
func New(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcription api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

// Transcribe sends the audio container with a transcription instruction and
// returns the trimmed text of the first candidate.
func (g *Gemini) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromText(instruction),
			genai.NewPartFromBytes(data, mimeType),
		},
	}}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}

	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}
