package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/engardedata/engarde-chat/internal/models"
	"google.golang.org/genai"
)

// Gemini streams replies from Google's Gemini API.
type Gemini struct {
	model  string
	params LLMParameters

	client *genai.Client

	logger *slog.Logger
}

// GeminiOptions configure a Gemini provider. BaseURL is only needed to point the client somewhere other
// than the public endpoint.
type GeminiOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	Params  LLMParameters
}

// NewGemini creates a Gemini provider. It returns ErrMissingAPIKey without creating a client when the key
// is empty.
func NewGemini(ctx context.Context, opts GeminiOptions, logger *slog.Logger) (Gemini, error) {
	if opts.APIKey == "" {
		return Gemini{}, ErrMissingAPIKey
	}

	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return Gemini{}, fmt.Errorf("failed to create genai client: %w", err)
	}

	return Gemini{
		model:  opts.Model,
		params: opts.Params,
		client: client,
		logger: logger.With(slog.String("module", "gemini")),
	}, nil
}

// Stream implements chat.Provider using the streaming generateContent endpoint.
func (g Gemini) Stream(ctx context.Context, systemInstruction, userText string) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		cfg := &genai.GenerateContentConfig{
			Temperature: g.params.Temperature,
			TopP:        g.params.TopP,
		}
		if systemInstruction != "" {
			cfg.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
		}
		if g.params.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(g.params.MaxTokens)
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		contents := []*genai.Content{genai.NewContentFromText(userText, genai.RoleUser)}
		for res, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			text := res.Text()
			g.logger.Debug("Received chunk", slog.Int("len", len(text)))
			if !yield(models.Fragment{TextDelta: text}, nil) {
				return
			}
		}
	}
}
