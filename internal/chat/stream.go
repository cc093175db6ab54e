package chat

import (
	"context"
	"iter"
	"log/slog"

	"github.com/engardedata/engarde-chat/internal/models"
)

// Fixed user-facing texts of the chat widget.
const (
	// DefaultGreeting seeds every new session.
	DefaultGreeting = "Hi! I'm the En Garde AI. Ask me about the blog posts, portfolio, or the author's research."
	// UnavailableNotice is streamed as the whole reply when no credential was configured.
	UnavailableNotice = "API key is missing. Please configure API_KEY to use the AI assistant."
	// DefaultErrorNotice is appended as a separate error message when a turn fails.
	DefaultErrorNotice = "Connection interrupted. Please try again."
)

// Replier produces the streamed reply to a single user message. The returned sequence is lazy, single-pass
// and finite. Transport failures are yielded as the error half of the sequence, after which it ends.
type Replier interface {
	StreamReply(ctx context.Context, userText string) iter.Seq2[models.Fragment, error]
}

// Provider is a remote generative-language backend. It sends one user message along with a system
// instruction and streams the reply as fragments.
type Provider interface {
	Stream(ctx context.Context, systemInstruction, userText string) iter.Seq2[models.Fragment, error]
}

// StreamClient binds a Provider to the fixed system instruction of the site. It implements Replier.
type StreamClient struct {
	provider    Provider
	instruction string

	logger *slog.Logger
}

// NewStreamClient creates a StreamClient. A nil provider means no credential was available when the
// provider would have been built; such a client never touches the network and answers every call with a
// single UnavailableNotice fragment.
func NewStreamClient(provider Provider, instruction string, logger *slog.Logger) StreamClient {
	return StreamClient{
		provider:    provider,
		instruction: instruction,
		logger:      logger.With(slog.String("module", "stream")),
	}
}

// Available reports whether the client is backed by a provider.
func (c StreamClient) Available() bool {
	return c.provider != nil
}

// StreamReply implements Replier.
func (c StreamClient) StreamReply(ctx context.Context, userText string) iter.Seq2[models.Fragment, error] {
	if c.provider == nil {
		return func(yield func(models.Fragment, error) bool) {
			c.logger.Debug("Stream requested without a configured credential")
			yield(models.Fragment{TextDelta: UnavailableNotice}, nil)
		}
	}

	return func(yield func(models.Fragment, error) bool) {
		c.logger.Debug("Opening stream", slog.Int("userTextLen", len(userText)))
		for fragment, err := range c.provider.Stream(ctx, c.instruction, userText) {
			if err != nil {
				c.logger.Error("Stream failed", slog.String(errLoggerKey, err.Error()))
				yield(models.Fragment{}, err)
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}
