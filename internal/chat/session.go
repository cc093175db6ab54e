package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/engardedata/engarde-chat/internal/models"
)

// Session is the in-memory conversation owned by one mounted chat widget. It holds the transcript, the
// pending flag and the draft input, and drives one turn at a time against a Replier.
//
// The transcript is append-only: the only mutation allowed on an existing message is the text of the
// placeholder of the turn in flight. A Session is safe for concurrent use; at most one turn is in flight.
type Session struct {
	client      Replier
	errorNotice string
	turnTimeout time.Duration
	observer    func(Event)
	logger      *slog.Logger

	mu       sync.Mutex
	messages []models.Message
	pending  bool
	draft    string
	closed   bool
	stop     context.CancelFunc
}

// Turn is a user submission whose reply has not been streamed yet. It is created by Session.Begin.
type Turn struct {
	session *Session
	text    string

	// index of the placeholder message, captured when it was appended.
	index int

	stopCtx context.Context
	once    sync.Once
}

// EventType identifies a change of session state.
type EventType string

const (
	// EventMessageAppended is emitted after a message is appended to the transcript.
	EventMessageAppended EventType = "message_appended"
	// EventMessageUpdated is emitted after the placeholder text changes.
	EventMessageUpdated EventType = "message_updated"
	// EventPendingChanged is emitted when a turn starts or ends.
	EventPendingChanged EventType = "pending_changed"
)

// Event describes a change of session state. Index and Message are set for message events, Pending for
// EventPendingChanged.
type Event struct {
	Type    EventType
	Index   int
	Message models.Message
	Pending bool
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	greeting    string
	errorNotice string
	turnTimeout time.Duration
	observer    func(Event)
	logger      *slog.Logger
}

// DefaultTurnTimeout bounds a turn when no timeout is configured.
const DefaultTurnTimeout = 2 * time.Minute

// WithGreeting overrides the greeting the session is seeded with.
func WithGreeting(greeting string) SessionOption {
	return func(o *sessionOptions) {
		o.greeting = greeting
	}
}

// WithErrorNotice overrides the text of the message appended when a turn fails.
func WithErrorNotice(notice string) SessionOption {
	return func(o *sessionOptions) {
		o.errorNotice = notice
	}
}

// WithTurnTimeout bounds each turn. A non-positive value disables the timeout.
func WithTurnTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.turnTimeout = d
	}
}

// WithObserver registers fn to be called with every state change. fn is called without the session lock
// held, in the order the changes were made.
func WithObserver(fn func(Event)) SessionOption {
	return func(o *sessionOptions) {
		o.observer = fn
	}
}

// WithLogger sets the logger of the session.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(o *sessionOptions) {
		o.logger = logger
	}
}

// NewSession creates a session seeded with a greeting message from the model.
func NewSession(client Replier, opts ...SessionOption) *Session {
	o := sessionOptions{
		greeting:    DefaultGreeting,
		errorNotice: DefaultErrorNotice,
		turnTimeout: DefaultTurnTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Session{
		client:      client,
		errorNotice: o.errorNotice,
		turnTimeout: o.turnTimeout,
		observer:    o.observer,
		logger:      o.logger.With(slog.String("module", "session")),
		messages: []models.Message{
			{
				Role:      models.RoleModel,
				Text:      o.greeting,
				Timestamp: time.Now(),
			},
		},
	}
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]models.Message, len(s.messages))
	copy(msgs, s.messages)
	return msgs
}

// Pending reports whether a turn is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pending
}

// Draft returns the not-yet-submitted input.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.draft
}

// SetDraft replaces the not-yet-submitted input.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.draft = text
}

// Begin starts a turn for text. It appends the user message, marks the session pending, clears the draft
// and appends the empty placeholder the reply will be streamed into. It returns false without touching
// any state when text is blank, a turn is already in flight or the session is closed.
func (s *Session) Begin(text string) (*Turn, bool) {
	s.mu.Lock()
	if s.closed || s.pending || strings.TrimSpace(text) == "" {
		s.mu.Unlock()
		return nil, false
	}

	now := time.Now()
	userMsg := models.Message{Role: models.RoleUser, Text: text, Timestamp: now}
	s.messages = append(s.messages, userMsg)
	userIdx := len(s.messages) - 1

	s.pending = true
	s.draft = ""

	placeholder := models.Message{Role: models.RoleModel, Timestamp: now}
	s.messages = append(s.messages, placeholder)

	stopCtx, stop := context.WithCancel(context.Background())
	s.stop = stop

	turn := &Turn{
		session: s,
		text:    text,
		index:   len(s.messages) - 1,
		stopCtx: stopCtx,
	}
	s.mu.Unlock()

	s.emit(
		Event{Type: EventMessageAppended, Index: userIdx, Message: userMsg},
		Event{Type: EventPendingChanged, Pending: true},
		Event{Type: EventMessageAppended, Index: turn.index, Message: placeholder},
	)

	return turn, true
}

// Submit runs a whole turn for text and blocks until it ends. It returns false when Begin rejected text.
func (s *Session) Submit(ctx context.Context, text string) bool {
	turn, ok := s.Begin(text)
	if !ok {
		return false
	}
	turn.Stream(ctx)
	return true
}

// Stop cancels the turn in flight, if any. The turn ends through the error path.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		s.stop()
	}
}

// Close stops the turn in flight and rejects every later submission.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.stop != nil {
		s.stop()
	}
}

// Index returns the transcript position of the placeholder message of the turn.
func (t *Turn) Index() int {
	return t.index
}

// Stream opens the reply stream and folds every fragment into the placeholder. When the stream fails, is
// stopped, or exceeds the turn timeout, a separate error message is appended and the partial placeholder
// is left as it is. The session is no longer pending when Stream returns. Only the first call has effect.
func (t *Turn) Stream(ctx context.Context) {
	t.once.Do(func() {
		t.stream(ctx)
	})
}

func (t *Turn) stream(ctx context.Context) {
	s := t.session

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(t.stopCtx, cancel)
	defer stopAfter()

	if s.turnTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, s.turnTimeout)
		defer cancelTimeout()
	}

	var (
		reply     strings.Builder
		streamErr error
	)
	for fragment, err := range s.client.StreamReply(ctx, t.text) {
		if err != nil {
			streamErr = err
			break
		}
		if fragment.TextDelta == "" {
			continue
		}
		reply.WriteString(fragment.TextDelta)
		s.setText(t.index, reply.String())
	}
	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	t.finish(streamErr)
}

func (s *Session) setText(index int, text string) {
	s.mu.Lock()
	s.messages[index].Text = text
	msg := s.messages[index]
	s.mu.Unlock()

	s.emit(Event{Type: EventMessageUpdated, Index: index, Message: msg})
}

func (t *Turn) finish(streamErr error) {
	s := t.session

	var events []Event

	s.mu.Lock()
	if streamErr != nil {
		switch {
		case errors.Is(streamErr, context.DeadlineExceeded):
			s.logger.Warn("Turn timed out", slog.Duration("timeout", s.turnTimeout))
		case errors.Is(streamErr, context.Canceled):
			s.logger.Info("Turn cancelled")
		default:
			s.logger.Error("Turn failed", slog.String(errLoggerKey, streamErr.Error()))
		}

		errMsg := models.Message{
			Role:      models.RoleModel,
			Text:      s.errorNotice,
			Timestamp: time.Now(),
			IsError:   true,
		}
		s.messages = append(s.messages, errMsg)
		events = append(events, Event{Type: EventMessageAppended, Index: len(s.messages) - 1, Message: errMsg})
	}
	s.pending = false
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
	s.mu.Unlock()

	events = append(events, Event{Type: EventPendingChanged, Pending: false})
	s.emit(events...)
}

func (s *Session) emit(events ...Event) {
	if s.observer == nil {
		return
	}
	for _, e := range events {
		s.observer(e)
	}
}
