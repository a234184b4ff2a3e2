package handlers

import (
	"context"
	"sync"
)

// streamRegistry tracks the in-flight reply of every chat. A chat has at most one reply
// streaming at a time.
type streamRegistry struct {
	mu sync.Mutex

	// byChat maps a chat ID to the message ID being streamed, empty while the stream is still
	// being set up.
	byChat  map[string]string
	cancels map[string]context.CancelFunc
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{
		byChat:  make(map[string]string),
		cancels: make(map[string]context.CancelFunc),
	}
}

// begin reserves chatID, and reports false if a reply is already streaming in it.
func (r *streamRegistry) begin(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byChat[chatID]; ok {
		return false
	}
	r.byChat[chatID] = ""
	return true
}

// attach binds the message being streamed in chatID and the function that aborts it.
func (r *streamRegistry) attach(chatID, messageID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byChat[chatID] = messageID
	r.cancels[messageID] = cancel
}

// end releases chatID.
func (r *streamRegistry) end(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if messageID := r.byChat[chatID]; messageID != "" {
		delete(r.cancels, messageID)
	}
	delete(r.byChat, chatID)
}

// cancel aborts the stream of messageID and reports whether there was one.
func (r *streamRegistry) cancel(messageID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[messageID]
	r.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

func (r *streamRegistry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cancel := range r.cancels {
		cancel()
	}
}
