package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/engardedata/engarde-chat/internal/services"
)

func TestNewGeminiMissingKey(t *testing.T) {
	_, err := services.NewGemini(context.Background(), services.GeminiOptions{Model: "gemini-2.5-flash"}, discardLogger())
	if !errors.Is(err, services.ErrMissingAPIKey) {
		t.Errorf("NewGemini() error = %v, want %v", err, services.ErrMissingAPIKey)
	}
}

func geminiChunk(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%q}]}}]}`, text)
}

func TestGeminiStream(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
		wantErr bool
	}{
		{
			name: "Chunks",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				writeSSE(w,
					[2]string{"", geminiChunk("The")},
					[2]string{"", geminiChunk(" capital")},
					[2]string{"", geminiChunk(" is Paris.")},
				)
			},
			want: "The capital is Paris.",
		},
		{
			name: "Invalid key",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprintln(w, `{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !strings.Contains(r.URL.Path, "gemini-2.5-flash:streamGenerateContent") {
					t.Errorf("path = %q, want a streamGenerateContent call", r.URL.Path)
				}
				tt.handler(w, r)
			}))
			defer srv.Close()

			g, err := services.NewGemini(context.Background(), services.GeminiOptions{
				APIKey:  "key",
				Model:   "gemini-2.5-flash",
				BaseURL: srv.URL,
			}, discardLogger())
			if err != nil {
				t.Fatal(err)
			}

			got, err := collect(g.Stream(context.Background(), "site context", "What is the capital of France?"))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Stream() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Stream() text = %q, want %q", got, tt.want)
			}
		})
	}
}
