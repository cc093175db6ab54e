package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	engarde "github.com/engardedata/engarde-chat"
	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/tmaxmax/go-sse"
)

// Main serves the chat widget. Every page load mounts a chat.Session; transcript changes of a session are
// pushed to its widget through server-sent events.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	replier     chat.Replier
	sessionOpts []chat.SessionOption
	sessions    *sessions

	logger *slog.Logger
}

type sessions struct {
	mu   sync.Mutex
	byID map[string]*mountedSession
}

// mountedSession tracks when a session was last used and how many SSE streams are subscribed to it. A
// session with a subscribed stream is never idle.
type mountedSession struct {
	session  *chat.Session
	lastSeen time.Time
	streams  int
}

const errLoggerKey = "err"

// DefaultSessionIdleTimeout is how long an unused session stays mounted when no timeout is configured.
const DefaultSessionIdleTimeout = 30 * time.Minute

// NewMain creates a new Main that answers through replier. The session options are applied to every
// mounted session. It parses the HTML templates from the embedded filesystem.
func NewMain(replier chat.Replier, logger *slog.Logger, sessionOpts ...chat.SessionOption) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		engarde.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				sessionID := s.Req.URL.Query().Get("session_id")
				if sessionID == "" {
					return sse.Subscription{}, false
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, sessionTopic(sessionID)},
				}, true
			},
		},
		templates:   tmpl,
		replier:     replier,
		sessionOpts: sessionOpts,
		sessions:    &sessions{byID: map[string]*mountedSession{}},
		logger:      logger.With(slog.String("module", "handlers")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// Session returns the mounted session with the given ID and marks it as used.
func (m Main) Session(id string) (*chat.Session, bool) {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	ms, ok := m.sessions.byID[id]
	if !ok {
		return nil, false
	}
	ms.lastSeen = time.Now()
	return ms.session, true
}

func (m Main) mount(id string, s *chat.Session) {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	m.sessions.byID[id] = &mountedSession{session: s, lastSeen: time.Now()}
}

func (m Main) unmount(id string) (*chat.Session, bool) {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	ms, ok := m.sessions.byID[id]
	if !ok {
		return nil, false
	}
	delete(m.sessions.byID, id)
	return ms.session, true
}

func (m Main) subscribe(id string) bool {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	ms, ok := m.sessions.byID[id]
	if !ok {
		return false
	}
	ms.streams++
	ms.lastSeen = time.Now()
	return true
}

func (m Main) unsubscribe(id string) {
	m.sessions.mu.Lock()
	defer m.sessions.mu.Unlock()

	// The session may have been unmounted while the stream was open.
	if ms, ok := m.sessions.byID[id]; ok {
		ms.streams--
		ms.lastSeen = time.Now()
	}
}

// HandleSSE subscribes the widget named by the session_id query parameter to its transcript updates. The
// session is kept mounted for as long as the subscription lasts.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if !m.subscribe(sessionID) {
		m.logger.Error("Session not found", slog.String("sessionID", sessionID))
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}
	defer m.unsubscribe(sessionID)

	m.sseSrv.ServeHTTP(w, r)
}

// EvictIdle unmounts and closes every session that has no subscribed SSE stream, no turn in flight, and
// has not been used for at least ttl. It returns the number of evicted sessions.
func (m Main) EvictIdle(ttl time.Duration) int {
	now := time.Now()

	var evicted []*chat.Session
	m.sessions.mu.Lock()
	for id, ms := range m.sessions.byID {
		if ms.streams > 0 || now.Sub(ms.lastSeen) < ttl || ms.session.Pending() {
			continue
		}
		delete(m.sessions.byID, id)
		evicted = append(evicted, ms.session)
	}
	m.sessions.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
	if len(evicted) > 0 {
		m.logger.Debug("Evicted idle sessions", slog.Int("count", len(evicted)))
	}
	return len(evicted)
}

// RunEviction calls EvictIdle every half ttl until ctx is done. Widgets that disappear without closing
// their session, such as crawlers or crashed tabs, are unmounted this way.
func (m Main) RunEviction(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.EvictIdle(ttl)
		}
	}
}

// Shutdown closes every mounted session, then terminates the SSE server. It broadcasts a close message to
// all connected clients and waits up to 5 seconds for connections to terminate.
func (m Main) Shutdown(ctx context.Context) error {
	m.sessions.mu.Lock()
	for id, ms := range m.sessions.byID {
		ms.session.Close()
		delete(m.sessions.byID, id)
	}
	m.sessions.mu.Unlock()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// SSE events need a data field to be dispatched by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
