package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/engardedata/engarde-chat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama streams replies from a local Ollama server. It needs no credential.
type Ollama struct {
	model  string
	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates an Ollama provider for the server at host.
func NewOllama(host, model string, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		model:  model,
		params: params,
		client: api.NewClient(u, &http.Client{}),
		logger: logger.With(slog.String("module", "ollama")),
	}, nil
}

// Stream implements chat.Provider.
func (o Ollama) Stream(ctx context.Context, systemInstruction, userText string) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		var msgs []api.Message
		if systemInstruction != "" {
			msgs = append(msgs, api.Message{Role: "system", Content: systemInstruction})
		}
		msgs = append(msgs, api.Message{Role: "user", Content: userText})

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
			Options:  o.options(),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped {
				return nil
			}
			if !yield(models.Fragment{TextDelta: res.Message.Content}, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
		}
	}
}

func (o Ollama) options() map[string]any {
	opts := map[string]any{}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.MaxTokens > 0 {
		opts["num_predict"] = o.params.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}
