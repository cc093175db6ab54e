package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/engardedata/engarde-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	messagesSSEType = sse.Type("messages")
	pendingSSEType  = sse.Type("pending")
)

// HandleChats submits a user message to a mounted session through HTTP POST requests. It expects the
// "session_id" and "message" form fields.
//
// A blank message, or a message sent while the previous reply is still streaming, is ignored with a
// 204 No Content response. Otherwise the handler renders the user message and the empty reply placeholder,
// then streams the reply in the background; its progress is pushed to the widget through SSE.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := m.requestSession(w, r)
	if !ok {
		return
	}

	turn, ok := s.Begin(r.FormValue("message"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	msgs := s.Messages()
	placeholderIdx := turn.Index()

	var sb strings.Builder
	for i := placeholderIdx - 1; i <= placeholderIdx; i++ {
		state := streamingStateEnded
		if i == placeholderIdx {
			state = streamingStateLoading
		}
		view, err := messageView(i, msgs[i], state)
		if err == nil {
			err = m.templates.ExecuteTemplate(&sb, "message", view)
		}
		if err != nil {
			// The turn was already begun, so it still has to end.
			s.Stop()
			go turn.Stream(context.Background())
			m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	go turn.Stream(context.Background())

	if _, err := w.Write([]byte(sb.String())); err != nil {
		m.logger.Error("Failed to write response", slog.String(errLoggerKey, err.Error()))
	}
}

// HandleStop cancels the reply being streamed for the session named by the "session_id" form field.
func (m Main) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := m.requestSession(w, r)
	if !ok {
		return
	}
	s.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// HandleCloseSession unmounts the session named by the "session_id" form field. Widgets call it when the
// page is left.
func (m Main) HandleCloseSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.FormValue("session_id")
	s, ok := m.unmount(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	s.Close()

	m.logger.Debug("Unmounted session", slog.String("sessionID", sessionID))
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) requestSession(w http.ResponseWriter, r *http.Request) (*chat.Session, bool) {
	sessionID := r.FormValue("session_id")
	if sessionID == "" {
		m.logger.Error("Session ID is required")
		http.Error(w, "Session ID is required", http.StatusBadRequest)
		return nil, false
	}

	s, ok := m.Session(sessionID)
	if !ok {
		m.logger.Error("Session not found", slog.String("sessionID", sessionID))
		http.Error(w, "Session not found", http.StatusNotFound)
		return nil, false
	}
	return s, true
}

// publisher returns the session observer that pushes every transcript change to the session topic.
func (m Main) publisher(sessionID string) func(chat.Event) {
	topic := sessionTopic(sessionID)
	logger := m.logger.With(slog.String("sessionID", sessionID))

	return func(e chat.Event) {
		var msg sse.Message
		switch e.Type {
		case chat.EventPendingChanged:
			msg.Type = pendingSSEType
			msg.AppendData(strconv.FormatBool(e.Pending))
		case chat.EventMessageAppended, chat.EventMessageUpdated:
			html, err := m.renderMessage(e)
			if err != nil {
				logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
				return
			}
			msg.Type = messagesSSEType
			msg.AppendData(html)
		default:
			return
		}

		if err := m.sseSrv.Publish(&msg, topic); err != nil {
			logger.Error("Failed to publish message", slog.String(errLoggerKey, err.Error()))
		}
	}
}

func (m Main) renderMessage(e chat.Event) (string, error) {
	state := streamingStateEnded
	if e.Message.Role == models.RoleModel && !e.Message.IsError {
		switch {
		case e.Type == chat.EventMessageUpdated:
			state = streamingStateStreaming
		case e.Message.Text == "":
			state = streamingStateLoading
		}
	}

	view, err := messageView(e.Index, e.Message, state)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message", view); err != nil {
		return "", err
	}
	return sb.String(), nil
}
