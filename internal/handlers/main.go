package handlers

import (
	"context"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"time"

	wingman "github.com/MegaGrindStone/wingman-chat"
	"github.com/MegaGrindStone/wingman-chat/internal/models"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a large language model that streams chat replies. It accepts a context and the
// conversation so far, returning an iterator that yields reply fragments and potential errors.
// Cancelling the context must end the iteration.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error]
}

// TitleGenerator produces a short title for a chat from its first message.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, message string) (string, error)
}

// Store defines the interface for managing chat and message persistence. It provides methods for
// creating, reading, and updating chats and their associated messages.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	UpdateChat(ctx context.Context, chat models.Chat) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, chatID string, message models.Message) error
}

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, and interactions between the LLM and Store components.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	llm            LLM
	titleGenerator TitleGenerator
	store          Store

	streams *streamRegistry

	logger *slog.Logger
}

const (
	chatsSSETopic      = "chats"
	messageTopicPrefix = "message-"

	// replyReplayTTL is how long the events of an ended reply are replayed to late subscribers.
	replyReplayTTL = time.Minute

	errLoggerKey = "err"
)

// NewMain creates a new Main instance with the provided LLM, TitleGenerator and Store
// implementations. It initializes the SSE server and parses the HTML templates from the embedded
// filesystem. Every SSE client subscribes to the chats topic; clients that pass a message_id
// query parameter also receive the updates of that message, including the ones published before
// they subscribed.
func NewMain(llm LLM, titleGen TitleGenerator, store Store, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		wingman.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return Main{
		sseSrv: &sse.Server{
			Provider: &sse.Joe{
				Replayer: newReplyReplayer(replyReplayTTL),
			},
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic, chatsSSETopic}

				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:      tmpl,
		llm:            llm,
		titleGenerator: titleGen,
		store:          store,
		streams:        newStreamRegistry(),
		logger:         logger.With(slog.String("module", "main")),
	}, nil
}

func messageIDTopic(messageID string) string {
	return messageTopicPrefix + messageID
}

// HandleSSE serves the server-sent events subscriptions of the browser.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance. It cancels every in-flight stream, broadcasts
// a close message to all connected clients and waits up to 5 seconds for connections to
// terminate. After the timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.streams.cancelAll()

	e := &sse.Message{Type: closeChatSSEType}
	// SSE requires data on every event.
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
