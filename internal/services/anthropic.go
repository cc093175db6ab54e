package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/engardedata/engarde-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic streams replies from the Anthropic messages API.
type Anthropic struct {
	apiKey   string
	model    string
	endpoint string
	params   LLMParameters

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	// AnthropicAPIEndpoint is the public Anthropic API base URL.
	AnthropicAPIEndpoint = "https://api.anthropic.com/v1"

	anthropicDefaultMaxTokens = 1024
)

// NewAnthropic creates an Anthropic provider. An empty endpoint targets AnthropicAPIEndpoint. It returns
// ErrMissingAPIKey when apiKey is empty.
func NewAnthropic(apiKey, endpoint, model string, params LLMParameters, logger *slog.Logger) (Anthropic, error) {
	if apiKey == "" {
		return Anthropic{}, ErrMissingAPIKey
	}
	if endpoint == "" {
		endpoint = AnthropicAPIEndpoint
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = anthropicDefaultMaxTokens
	}

	return Anthropic{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		params:   params,
		client:   &http.Client{},
		logger:   logger.With(slog.String("module", "anthropic")),
	}, nil
}

// Stream implements chat.Provider. Only text deltas of content blocks are forwarded.
func (a Anthropic) Stream(ctx context.Context, systemInstruction, userText string) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		reqBody := anthropicChatRequest{
			Model:       a.model,
			Messages:    []anthropicMessage{{Role: "user", Content: userText}},
			System:      systemInstruction,
			MaxTokens:   a.params.MaxTokens,
			Temperature: a.params.Temperature,
			TopP:        a.params.TopP,
			Stream:      true,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield(models.Fragment{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.endpoint+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(models.Fragment{}, fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(models.Fragment{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error reading response: %w", err))
				return
			}

			a.logger.Debug("Received event", slog.String("type", ev.Type))

			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield(models.Fragment{}, fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield(models.Fragment{}, fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield(models.Fragment{}, fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				if !yield(models.Fragment{TextDelta: res.Delta.Text}, nil) {
					return
				}
			default:
				continue
			}
		}
		yield(models.Fragment{}, errors.New("stream ended before message_stop"))
	}
}
