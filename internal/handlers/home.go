package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
)

type homePageData struct {
	Chats         []chat
	CurrentChatID string
	Messages      []message
}

// HandleHome renders the home page with the list of chats. When the "chat_id" query parameter is
// set, the messages of that chat are rendered as well.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	chats, err := m.store.Chats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	currentChatID := r.URL.Query().Get("chat_id")

	data := homePageData{
		Chats:         make([]chat, len(chats)),
		CurrentChatID: currentChatID,
	}
	for i, ch := range chats {
		data.Chats[i] = chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == currentChatID,
		}
	}

	if currentChatID != "" {
		messages, err := m.store.Messages(r.Context(), currentChatID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("chatID", currentChatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		data.Messages = make([]message, len(messages))
		for i, msg := range messages {
			data.Messages[i], err = renderMessage(msg, streamingStateEnded)
			if err != nil {
				m.logger.Error("Failed to render contents",
					slog.String("message", fmt.Sprintf("%+v", msg)),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to render home page", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
