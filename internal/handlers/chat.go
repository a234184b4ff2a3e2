package handlers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/wingman-chat/internal/models"
	"github.com/MegaGrindStone/wingman-chat/internal/stream"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type chat struct {
	ID    string
	Title string

	Active bool
}

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

const (
	streamingStateLoading = "loading"
	streamingStateEnded   = "ended"
)

// SSE event types for real-time updates.
var (
	chatsSSEType        = sse.Type("chats")
	messagesSSEType     = sse.Type("messages")
	noticeSSEType       = sse.Type("notice")
	closeMessageSSEType = sse.Type("closeMessage")
	closeChatSSEType    = sse.Type("closeChat")
)

// HandleChats processes chat interactions through HTTP POST requests, managing both new chat
// creation and message handling. It accepts user messages through form data, stores them together
// with an empty assistant message, and starts streaming the assistant's reply asynchronously.
//
// The handler expects a "message" form field and an optional "chat_id" field. If no chat_id is
// provided, it creates a new chat and generates its title in the background. The reply is
// delivered through Server-Sent Events on the topic of the assistant message.
//
// A chat streams one reply at a time: a message sent while the previous reply is still streaming
// is rejected with 409 Conflict.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	var err error

	chatID := r.FormValue("chat_id")
	// We track if this is a new chat to determine the appropriate template rendering strategy
	isNewChat := false
	if chatID == "" {
		chatID, err = m.newChat(r.Context())
		if err != nil {
			m.logger.Error("Failed to create new chat", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		isNewChat = true
	}

	if !m.streams.begin(chatID) {
		m.logger.Warn("Reply already streaming", slog.String("chatID", chatID))
		http.Error(w, "A reply is still being written in this chat", http.StatusConflict)
		return
	}
	started := false
	defer func() {
		if !started {
			m.streams.end(chatID)
		}
	}()

	// We create two messages: user's input and a placeholder for AI response
	um := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   msg,
		Timestamp: time.Now(),
	}
	um.ID, err = m.store.AddMessage(r.Context(), chatID, um)
	if err != nil {
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Initialize empty AI message to be streamed later
	am := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
	}
	am.ID, err = m.store.AddMessage(r.Context(), chatID, am)
	if err != nil {
		m.logger.Error("Failed to add AI message",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	messages, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.logger.Error("Failed to get messages",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if len(messages) == 0 || messages[len(messages)-1].ID != am.ID {
		// The store is expected to hand back the placeholder as the last message.
		messages = append(messages, am)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.streams.attach(chatID, am.ID, cancel)
	started = true

	// Start async processes for chat response and title generation
	go m.chat(ctx, cancel, chatID, messages)

	if isNewChat {
		go m.generateChatTitle(chatID, msg)

		// For new chats, we prepare all messages with appropriate streaming states
		msgs := make([]message, len(messages))
		for i := range messages {
			// Mark only the AI message as "loading", others as "ended"
			streamingState := streamingStateEnded
			if messages[i].ID == am.ID {
				streamingState = streamingStateLoading
			}
			msgs[i], err = renderMessage(messages[i], streamingState)
			if err != nil {
				m.logger.Error("Failed to render contents",
					slog.String("message", fmt.Sprintf("%+v", messages[i])),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		data := homePageData{
			CurrentChatID: chatID,
			Messages:      msgs,
		}
		if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	userMsg, err := renderMessage(um, streamingStateEnded)
	if err != nil {
		m.logger.Error("Failed to render contents",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "user_message", userMsg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	aiMsg, err := renderMessage(am, streamingStateLoading)
	if err != nil {
		m.logger.Error("Failed to render contents",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "ai_message", aiMsg); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleCancel stops the reply of the assistant message given in the "message_id" form field.
// The stream still ends with its usual close event.
func (m Main) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	messageID := r.FormValue("message_id")
	if messageID == "" {
		http.Error(w, "Message ID is required", http.StatusBadRequest)
		return
	}

	if !m.streams.cancel(messageID) {
		http.Error(w, "No reply is streaming for this message", http.StatusNotFound)
		return
	}

	m.logger.Info("Reply cancelled", slog.String("messageID", messageID))
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) newChat(ctx context.Context) (string, error) {
	newChat := models.Chat{
		ID: uuid.New().String(),
	}
	newChatID, err := m.store.AddChat(ctx, newChat)
	if err != nil {
		return "", fmt.Errorf("failed to add chat: %w", err)
	}

	m.publishChats(newChatID)

	return newChatID, nil
}

// chat streams the reply of the last message in messages, which is the empty assistant message.
// Every fragment is stored and published as the re-rendered message. A failure publishes a notice.
// Whatever happens, the stream ends with exactly one close event on the message topic.
func (m Main) chat(ctx context.Context, cancel context.CancelFunc, chatID string, messages []models.Message) {
	aiMsg := messages[len(messages)-1]
	topic := messageIDTopic(aiMsg.ID)

	defer func() {
		cancel()
		m.streams.end(chatID)

		e := &sse.Message{Type: closeMessageSSEType}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, topic)
	}()

	for delta, err := range m.llm.Chat(ctx, messages) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			m.logger.Error("Error from llm provider", slog.String(errLoggerKey, err.Error()))
			m.publishNotice(topic, stream.NoticeFor(err))
			return
		}

		aiMsg.Content += delta
		if err := m.store.UpdateMessage(context.Background(), chatID, aiMsg); err != nil {
			m.logger.Error("Failed to update message",
				slog.String("message", fmt.Sprintf("%+v", aiMsg)),
				slog.String(errLoggerKey, err.Error()))
			m.publishNotice(topic, stream.NoticeFor(err))
			return
		}

		rc, err := models.RenderContent(aiMsg.Content)
		if err != nil {
			m.logger.Error("Failed to render contents",
				slog.String("message", fmt.Sprintf("%+v", aiMsg)),
				slog.String(errLoggerKey, err.Error()))
			m.publishNotice(topic, stream.NoticeFor(err))
			return
		}

		msg := sse.Message{
			Type: messagesSSEType,
		}
		msg.AppendData(rc)
		if err := m.sseSrv.Publish(&msg, topic); err != nil {
			m.logger.Error("Failed to publish message",
				slog.String("messageID", aiMsg.ID),
				slog.String(errLoggerKey, err.Error()))
			m.publishNotice(topic, stream.NoticeFor(err))
			return
		}
	}

	if ctx.Err() != nil {
		m.logger.Info("Reply stopped before completion", slog.String("messageID", aiMsg.ID))
	}
}

func (m Main) publishNotice(topic string, n stream.Notice) {
	msg := sse.Message{
		Type: noticeSSEType,
	}
	msg.AppendData(noticeData(n))
	if err := m.sseSrv.Publish(&msg, topic); err != nil {
		m.logger.Error("Failed to publish notice",
			slog.String("kind", n.Kind),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) generateChatTitle(chatID string, message string) {
	if m.titleGenerator == nil {
		return
	}

	title, err := m.titleGenerator.GenerateTitle(context.Background(), message)
	if err != nil {
		m.logger.Error("Error generating chat title",
			slog.String("message", message),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	updatedChat := models.Chat{
		ID:    chatID,
		Title: title,
	}
	if err := m.store.UpdateChat(context.Background(), updatedChat); err != nil {
		m.logger.Error("Failed to update chat title",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	m.publishChats(chatID)
}

func (m Main) publishChats(activeID string) {
	divs, err := m.chatDivs(activeID)
	if err != nil {
		m.logger.Error("Failed to generate chat divs",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: chatsSSEType,
	}
	msg.AppendData(divs)
	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		m.logger.Error("Failed to publish chats",
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) chatDivs(activeID string) (string, error) {
	chats, err := m.store.Chats(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get chats: %w", err)
	}

	var sb strings.Builder
	for _, ch := range chats {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute chat_title template: %w", err)
		}
	}
	return sb.String(), nil
}

func renderMessage(msg models.Message, streamingState string) (message, error) {
	content, err := models.RenderContent(msg.Content)
	if err != nil {
		return message{}, err
	}
	// RenderContent drops raw HTML, so its output is safe to embed as is.
	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        template.HTML(content),
		Timestamp:      msg.Timestamp,
		StreamingState: streamingState,
	}, nil
}
