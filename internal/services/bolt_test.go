package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MegaGrindStone/wingman-chat/internal/models"
	"github.com/google/go-cmp/cmp"
)

func newTestBoltDB(t *testing.T) BoltDB {
	t.Helper()

	db, err := NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("new bolt db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestBoltDBChats(t *testing.T) {
	db := newTestBoltDB(t)
	ctx := context.Background()

	firstID, err := db.AddChat(ctx, models.Chat{ID: "a"})
	if err != nil {
		t.Fatalf("add chat: %v", err)
	}
	secondID, err := db.AddChat(ctx, models.Chat{ID: "b"})
	if err != nil {
		t.Fatalf("add chat: %v", err)
	}

	if err := db.UpdateChat(ctx, models.Chat{ID: firstID, Title: "Dinner ideas"}); err != nil {
		t.Fatalf("update chat: %v", err)
	}
	if err := db.UpdateChat(ctx, models.Chat{ID: "missing", Title: "ignored"}); err != nil {
		t.Fatalf("update missing chat: %v", err)
	}

	chats, err := db.Chats(ctx)
	if err != nil {
		t.Fatalf("chats: %v", err)
	}
	want := []models.Chat{
		{ID: secondID},
		{ID: firstID, Title: "Dinner ideas"},
	}
	if diff := cmp.Diff(want, chats); diff != "" {
		t.Fatalf("chats mismatch (-want +got):\n%s", diff)
	}
}

func TestBoltDBMessages(t *testing.T) {
	db := newTestBoltDB(t)
	ctx := context.Background()

	chatID, err := db.AddChat(ctx, models.Chat{ID: "chat"})
	if err != nil {
		t.Fatalf("add chat: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	var ids []string
	// More than nine messages, so lexical key order is exercised.
	for i := 0; i < 12; i++ {
		id, err := db.AddMessage(ctx, chatID, models.Message{
			ID:        "m",
			Role:      models.RoleUser,
			Content:   string(rune('a' + i)),
			Timestamp: now,
		})
		if err != nil {
			t.Fatalf("add message: %v", err)
		}
		ids = append(ids, id)
	}

	updated := models.Message{ID: ids[3], Role: models.RoleAssistant, Content: "streamed", Timestamp: now}
	if err := db.UpdateMessage(ctx, chatID, updated); err != nil {
		t.Fatalf("update message: %v", err)
	}

	msgs, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 12 {
		t.Fatalf("got %d messages, want 12", len(msgs))
	}
	for i, msg := range msgs {
		if msg.ID != ids[i] {
			t.Fatalf("message %d has id %s, want %s", i, msg.ID, ids[i])
		}
	}
	if diff := cmp.Diff(updated, msgs[3]); diff != "" {
		t.Fatalf("updated message mismatch (-want +got):\n%s", diff)
	}
}

func TestBoltDBAddMessageUnknownChat(t *testing.T) {
	db := newTestBoltDB(t)

	_, err := db.AddMessage(context.Background(), "nope", models.Message{ID: "m"})
	if !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got %v", err)
	}
}
