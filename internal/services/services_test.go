package services_test

import (
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/engardedata/engarde-chat/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collect(seq iter.Seq2[models.Fragment, error]) (string, error) {
	var sb strings.Builder
	for f, err := range seq {
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(f.TextDelta)
	}
	return sb.String(), nil
}

// writeSSE writes each event to w as a server-sent event and flushes it.
func writeSSE(w http.ResponseWriter, events ...[2]string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, ev := range events {
		if ev[0] != "" {
			fmt.Fprintf(w, "event: %s\n", ev[0])
		}
		fmt.Fprintf(w, "data: %s\n\n", ev[1])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

