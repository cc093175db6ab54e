package handlers_test

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/engardedata/engarde-chat/internal/handlers"
	"github.com/engardedata/engarde-chat/internal/models"
)

type mockReplier struct {
	responses []string
	err       error
	// release, when set, blocks the reply until it is closed.
	release chan struct{}
}

func (m mockReplier) StreamReply(ctx context.Context, _ string) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		if m.release != nil {
			select {
			case <-m.release:
			case <-ctx.Done():
				return
			}
		}
		if m.err != nil {
			yield(models.Fragment{}, m.err)
			return
		}
		for _, resp := range m.responses {
			if !yield(models.Fragment{TextDelta: resp}, nil) {
				return
			}
		}
	}
}

var sessionIDPattern = regexp.MustCompile(`data-session-id="([^"]+)"`)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newMain(t *testing.T, replier chat.Replier) handlers.Main {
	t.Helper()

	main, err := handlers.NewMain(replier, discardLogger(), chat.WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	t.Cleanup(func() {
		_ = main.Shutdown(context.Background())
	})
	return main
}

// mountSession loads the home page and returns the ID of the session it mounted.
func mountSession(t *testing.T, main handlers.Main) string {
	t.Helper()

	w := httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("HandleHome() status = %v, want %v", w.Code, http.StatusOK)
	}

	m := sessionIDPattern.FindStringSubmatch(w.Body.String())
	if m == nil {
		t.Fatalf("HandleHome() body has no session id: %s", w.Body.String())
	}
	return m[1]
}

func postForm(handler http.HandlerFunc, method, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func waitIdle(t *testing.T, s *chat.Session) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for s.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("session still pending")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(mockReplier{}, discardLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	main := newMain(t, mockReplier{})

	tests := []struct {
		name       string
		method     string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page",
			method:     http.MethodGet,
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "Ask me about the blog posts",
		},
		{
			name:       "Unknown path",
			method:     http.MethodGet,
			url:        "/nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Invalid method",
			method:     http.MethodPost,
			url:        "/",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}

			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	main := newMain(t, mockReplier{responses: []string{"AI ", "response"}})
	sessionID := mountSession(t, main)

	tests := []struct {
		name       string
		method     string
		message    string
		sessionID  string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			sessionID:  sessionID,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing session",
			method:     http.MethodPost,
			message:    "Hello",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown session",
			method:     http.MethodPost,
			message:    "Hello",
			sessionID:  "missing",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Blank message",
			method:     http.MethodPost,
			message:    "   ",
			sessionID:  sessionID,
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "Message",
			method:     http.MethodPost,
			message:    "Hello",
			sessionID:  sessionID,
			wantStatus: http.StatusOK,
			wantBody:   `id="msg-2"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(main.HandleChats, tt.method, "/chats", url.Values{
				"message":    {tt.message},
				"session_id": {tt.sessionID},
			})

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleChats() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}

	s, ok := main.Session(sessionID)
	if !ok {
		t.Fatal("session should be mounted")
	}
	waitIdle(t, s)

	msgs := s.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len(Messages()) = %d, want 3", len(msgs))
	}
	if msgs[1].Text != "Hello" || msgs[2].Text != "AI response" {
		t.Errorf("Messages() = %+v", msgs)
	}
}

func TestHandleChatsWhilePending(t *testing.T) {
	release := make(chan struct{})
	main := newMain(t, mockReplier{responses: []string{"done"}, release: release})
	sessionID := mountSession(t, main)

	form := url.Values{"message": {"a"}, "session_id": {sessionID}}
	if w := postForm(main.HandleChats, http.MethodPost, "/chats", form); w.Code != http.StatusOK {
		t.Fatalf("first HandleChats() status = %v, want %v", w.Code, http.StatusOK)
	}

	form.Set("message", "b")
	if w := postForm(main.HandleChats, http.MethodPost, "/chats", form); w.Code != http.StatusNoContent {
		t.Errorf("second HandleChats() status = %v, want %v", w.Code, http.StatusNoContent)
	}

	close(release)
	s, _ := main.Session(sessionID)
	waitIdle(t, s)

	msgs := s.Messages()
	if len(msgs) != 3 || msgs[1].Text != "a" {
		t.Errorf("Messages() = %+v, want only the first submission", msgs)
	}
}

func TestHandleStop(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	main := newMain(t, mockReplier{release: release})
	sessionID := mountSession(t, main)

	postForm(main.HandleChats, http.MethodPost, "/chats", url.Values{"message": {"a"}, "session_id": {sessionID}})

	w := postForm(main.HandleStop, http.MethodPost, "/chats/stop", url.Values{"session_id": {sessionID}})
	if w.Code != http.StatusNoContent {
		t.Errorf("HandleStop() status = %v, want %v", w.Code, http.StatusNoContent)
	}

	s, _ := main.Session(sessionID)
	waitIdle(t, s)

	msgs := s.Messages()
	if !msgs[len(msgs)-1].IsError {
		t.Errorf("last message should be the error notice, got %+v", msgs[len(msgs)-1])
	}
}

func TestHandleCloseSession(t *testing.T) {
	main := newMain(t, mockReplier{})
	sessionID := mountSession(t, main)

	w := postForm(main.HandleCloseSession, http.MethodPost, "/sessions/close", url.Values{"session_id": {sessionID}})
	if w.Code != http.StatusNoContent {
		t.Errorf("HandleCloseSession() status = %v, want %v", w.Code, http.StatusNoContent)
	}
	if _, ok := main.Session(sessionID); ok {
		t.Error("session should be unmounted")
	}

	w = postForm(main.HandleCloseSession, http.MethodPost, "/sessions/close", url.Values{"session_id": {sessionID}})
	if w.Code != http.StatusNotFound {
		t.Errorf("second HandleCloseSession() status = %v, want %v", w.Code, http.StatusNotFound)
	}
}

func TestEvictIdle(t *testing.T) {
	release := make(chan struct{})
	main := newMain(t, mockReplier{responses: []string{"done"}, release: release})

	abandoned := make([]string, 50)
	for i := range abandoned {
		abandoned[i] = mountSession(t, main)
	}
	busyID := mountSession(t, main)
	busy, _ := main.Session(busyID)

	form := url.Values{"message": {"a"}, "session_id": {busyID}}
	if w := postForm(main.HandleChats, http.MethodPost, "/chats", form); w.Code != http.StatusOK {
		t.Fatalf("HandleChats() status = %v, want %v", w.Code, http.StatusOK)
	}

	if got := main.EvictIdle(time.Hour); got != 0 {
		t.Errorf("EvictIdle(1h) = %d, want 0", got)
	}

	if got := main.EvictIdle(0); got != len(abandoned) {
		t.Errorf("EvictIdle(0) = %d, want %d", got, len(abandoned))
	}
	for _, id := range abandoned {
		if _, ok := main.Session(id); ok {
			t.Fatalf("abandoned session %s still mounted", id)
		}
	}
	if _, ok := main.Session(busyID); !ok {
		t.Fatal("session with a turn in flight should stay mounted")
	}

	close(release)
	waitIdle(t, busy)

	if got := main.EvictIdle(0); got != 1 {
		t.Errorf("EvictIdle(0) after the turn = %d, want 1", got)
	}
	if _, ok := busy.Begin("again"); ok {
		t.Error("evicted session should reject submissions")
	}
}

func TestRunEviction(t *testing.T) {
	main := newMain(t, mockReplier{})
	sessionID := mountSession(t, main)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		main.RunEviction(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := main.Session(sessionID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("idle session was not evicted")
		}
		// Session marks the session as used, so poll well above the ttl.
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestHandleSSEUnknownSession(t *testing.T) {
	main := newMain(t, mockReplier{})

	w := httptest.NewRecorder()
	main.HandleSSE(w, httptest.NewRequest(http.MethodGet, "/sse?session_id=missing", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("HandleSSE() status = %v, want %v", w.Code, http.StatusNotFound)
	}
}
