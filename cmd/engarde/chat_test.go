package main

import (
	"bytes"
	"context"
	"io"
	"iter"
	"log/slog"
	"strings"
	"testing"

	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/engardedata/engarde-chat/internal/models"
)

type scriptedPrompter struct {
	lines   []string
	history []string
}

func (p *scriptedPrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", io.EOF
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func (p *scriptedPrompter) AppendHistory(item string) {
	p.history = append(p.history, item)
}

type echoReplier struct{}

func (echoReplier) StreamReply(_ context.Context, userText string) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		for _, word := range strings.SplitAfter(userText, " ") {
			if !yield(models.Fragment{TextDelta: word}, nil) {
				return
			}
		}
	}
}

func TestRunREPL(t *testing.T) {
	in := &scriptedPrompter{lines: []string{"hello there", "   ", "second turn", "/quit", "never read"}}
	var out bytes.Buffer

	if err := runREPL(context.Background(), echoReplier{}, in, &out, chat.WithGreeting("greetings")); err != nil {
		t.Fatalf("runREPL() error = %v", err)
	}

	want := "ai> greetings\nai> hello there\nai> second turn\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if strings.Join(in.history, "|") != "hello there|second turn" {
		t.Errorf("history = %v", in.history)
	}
	if len(in.lines) != 1 {
		t.Errorf("REPL should stop at /quit, %d lines left", len(in.lines))
	}
}

func TestRunREPLUnavailable(t *testing.T) {
	in := &scriptedPrompter{lines: []string{"hi"}}
	var out bytes.Buffer

	client := chat.NewStreamClient(nil, "", discardLoggerForTest())
	if err := runREPL(context.Background(), client, in, &out); err != nil {
		t.Fatalf("runREPL() error = %v", err)
	}
	if !strings.Contains(out.String(), chat.UnavailableNotice) {
		t.Errorf("output = %q, want the unavailable notice", out.String())
	}
}

func discardLoggerForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
