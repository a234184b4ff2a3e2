package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/MegaGrindStone/wingman-chat/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the LLM interface backed by a local Ollama server. It is
// meant for development, when the platform gateway is not reachable.
type Ollama struct {
	host         string
	model        string
	systemPrompt string

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL and model name. The host
// parameter should be a valid URL pointing to an Ollama server.
func NewOllama(host, model, systemPrompt string, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return Ollama{
		host:         host,
		model:        model,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
		logger:       logger.With(slog.String("module", "ollama")),
	}, nil
}

// Chat streams the reply of the Ollama model. It accepts a context for cancellation and the
// conversation so far, and returns an iterator yielding text fragments and potential errors.
func (o Ollama) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]api.Message, 0, len(messages)+1)
		for _, msg := range messages {
			if msg.Content == "" {
				continue
			}
			msgs = append(msgs, api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
		if o.systemPrompt != "" {
			msgs = slices.Insert(msgs, 0, api.Message{
				Role:    string(models.RoleSystem),
				Content: o.systemPrompt,
			})
		}

		t := true
		req := api.ChatRequest{
			Model:    o.model,
			Messages: msgs,
			Stream:   &t,
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(res.Message.Content, nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Error("Chat request failed", slog.String(errLoggerKey, err.Error()))
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}

// GenerateTitle generates a title for a given message using the Ollama API. It sends a single
// message and returns the whole reply as the title.
func (o Ollama) GenerateTitle(ctx context.Context, message string) (string, error) {
	f := false
	msgs := []api.Message{
		{
			Role:    string(models.RoleUser),
			Content: message,
		},
	}
	if o.systemPrompt != "" {
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    string(models.RoleSystem),
			Content: o.systemPrompt,
		})
	}
	req := api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &f,
	}

	var title string

	if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
		title += res.Message.Content
		return nil
	}); err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}

	return strings.TrimSpace(title), nil
}
