package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MegaGrindStone/wingman-chat/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/ollama/ollama/api"
)

func ollamaServer(t *testing.T, replies ...string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req api.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
			t.Errorf("expected system prompt first, got %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for i, reply := range replies {
			_ = enc.Encode(api.ChatResponse{
				Model:   req.Model,
				Message: api.Message{Role: "assistant", Content: reply},
				Done:    i == len(replies)-1,
			})
		}
	}))
}

func TestOllamaChat(t *testing.T) {
	server := ollamaServer(t, "Try ", "mini golf.")
	defer server.Close()

	o, err := NewOllama(server.URL, "llama3", "be a wingman", nil)
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}

	var got []string
	for delta, err := range o.Chat(context.Background(), []models.Message{
		{Role: models.RoleUser, Content: "first date idea?"},
		{Role: models.RoleAssistant},
	}) {
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		got = append(got, delta)
	}
	if diff := cmp.Diff([]string{"Try ", "mini golf."}, got); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestOllamaChatStopEarly(t *testing.T) {
	server := ollamaServer(t, "one", "two", "three")
	defer server.Close()

	o, err := NewOllama(server.URL, "llama3", "be a wingman", nil)
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}

	var got []string
	for delta, err := range o.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}) {
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		got = append(got, delta)
		break
	}
	if diff := cmp.Diff([]string{"one"}, got); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestOllamaChatError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer server.Close()

	o, err := NewOllama(server.URL, "llama3", "", nil)
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}

	var gotErr error
	for _, err := range o.Chat(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hi"}}) {
		gotErr = err
	}
	if gotErr == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(gotErr, context.Canceled) {
		t.Fatalf("unexpected cancellation error: %v", gotErr)
	}
}

func TestOllamaGenerateTitle(t *testing.T) {
	server := ollamaServer(t, "  Picnic plans \n")
	defer server.Close()

	o, err := NewOllama(server.URL, "llama3", "summarise as a title", nil)
	if err != nil {
		t.Fatalf("new ollama: %v", err)
	}

	title, err := o.GenerateTitle(context.Background(), "What should I pack for a picnic date?")
	if err != nil {
		t.Fatalf("generate title: %v", err)
	}
	if title != "Picnic plans" {
		t.Fatalf("unexpected title: %q", title)
	}
}
