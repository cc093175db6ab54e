package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/engardedata/engarde-chat/internal/chat"
	"github.com/engardedata/engarde-chat/internal/models"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to the site assistant from the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}

			client, err := newStreamClient(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}

			line := liner.NewLiner()
			line.SetCtrlCAborts(true)
			historyPath := chatHistoryPath()
			if f, err := os.Open(historyPath); err == nil {
				_, _ = line.ReadHistory(f)
				f.Close()
			}
			defer func() {
				if f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
					_, _ = line.WriteHistory(f)
					f.Close()
				}
				line.Close()
			}()

			return runREPL(cmd.Context(), client, line, cmd.OutOrStdout(), sessionOptions(cfg, logger)...)
		},
	}
}

func chatHistoryPath() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		cfgDir = os.TempDir()
	}
	return filepath.Join(cfgDir, "engarde", "chat_history")
}

// prompter reads one line of input. *liner.State implements it.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// terminalPrinter writes the transcript of a session to a terminal as it changes.
type terminalPrinter struct {
	out io.Writer
	// printed is how much of the placeholder text has been written.
	printed int
}

func (p *terminalPrinter) observe(e chat.Event) {
	switch e.Type {
	case chat.EventMessageAppended:
		if e.Message.Role != models.RoleModel {
			return
		}
		if e.Message.IsError {
			fmt.Fprintf(p.out, "\n[error] %s", e.Message.Text)
			return
		}
		p.printed = 0
		fmt.Fprint(p.out, "ai> ")
	case chat.EventMessageUpdated:
		if len(e.Message.Text) > p.printed {
			fmt.Fprint(p.out, e.Message.Text[p.printed:])
			p.printed = len(e.Message.Text)
		}
	case chat.EventPendingChanged:
		if !e.Pending {
			fmt.Fprintln(p.out)
		}
	}
}

// runREPL drives one session from line input until EOF, an aborted prompt, or /quit.
func runREPL(ctx context.Context, client chat.Replier, in prompter, out io.Writer, opts ...chat.SessionOption) error {
	printer := &terminalPrinter{out: out}
	s := chat.NewSession(client, append(opts, chat.WithObserver(printer.observe))...)
	defer s.Close()

	fmt.Fprintf(out, "ai> %s\n", s.Messages()[0].Text)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	for {
		input, err := in.Prompt("you> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if strings.TrimSpace(input) == "/quit" {
			return nil
		}
		s.SetDraft(input)

		turn, ok := s.Begin(input)
		if !ok {
			continue
		}
		in.AppendHistory(input)

		done := make(chan struct{})
		go func() {
			defer close(done)
			turn.Stream(ctx)
		}()

	wait:
		for {
			select {
			case <-done:
				break wait
			case <-interrupts:
				s.Stop()
			}
		}
	}
}
