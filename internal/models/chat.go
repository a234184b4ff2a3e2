package models

import (
	"bytes"
	"fmt"
	"time"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Chat represents a conversation with the assistant. It provides basic identification and
// labeling capabilities for organizing message threads.
type Chat struct {
	ID    string
	Title string
}

// Message represents an individual entry within a chat: who said it, what was said, and when.
// Assistant messages start out empty and grow as the streamed reply arrives.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the member.
	RoleUser Role = "user"
	// RoleAssistant represents a message generated by the assistant.
	RoleAssistant Role = "assistant"
	// RoleSystem represents the system prompt. It is never stored, only sent upstream.
	RoleSystem Role = "system"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("github"),
		),
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// RenderContent renders message content, written in markdown, into HTML. Raw HTML in the
// content is omitted, so the output is safe to embed in the page.
func RenderContent(content string) (string, error) {
	if content == "" {
		return "", nil
	}

	var buf bytes.Buffer
	if err := markdown.Convert([]byte(content), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
