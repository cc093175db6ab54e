package handlers

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/engardedata/engarde-chat/internal/models"
	"github.com/google/uuid"
)

type homePageData struct {
	SessionID string
	Messages  []message
}

type message struct {
	Index     int
	Role      string
	Content   template.HTML
	IsError   bool
	Timestamp time.Time

	StreamingState string
}

// Streaming states of a rendered message.
const (
	streamingStateLoading   = "loading"
	streamingStateStreaming = "streaming"
	streamingStateEnded     = "ended"
)

// HandleHome mounts a new chat session and renders the page hosting its widget, seeded with the greeting.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := uuid.New().String()
	opts := append([]chat.SessionOption{}, m.sessionOpts...)
	opts = append(opts,
		chat.WithObserver(m.publisher(sessionID)),
		chat.WithLogger(m.logger.With(slog.String("sessionID", sessionID))),
	)
	s := chat.NewSession(m.replier, opts...)
	m.mount(sessionID, s)

	m.logger.Debug("Mounted session", slog.String("sessionID", sessionID))

	msgs := s.Messages()
	data := homePageData{
		SessionID: sessionID,
		Messages:  make([]message, len(msgs)),
	}
	for i, msg := range msgs {
		view, err := messageView(i, msg, streamingStateEnded)
		if err != nil {
			m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Messages[i] = view
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func messageView(index int, msg models.Message, streamingState string) (message, error) {
	content, err := models.RenderMarkdown(msg.Text)
	if err != nil {
		return message{}, fmt.Errorf("failed to render message %d: %w", index, err)
	}
	// RenderMarkdown drops raw HTML from the text.
	return message{
		Index:          index,
		Role:           string(msg.Role),
		Content:        template.HTML(content), //nolint:gosec
		IsError:        msg.IsError,
		Timestamp:      msg.Timestamp,
		StreamingState: streamingState,
	}, nil
}
