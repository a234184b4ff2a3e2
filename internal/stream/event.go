package stream

import (
	"encoding/json"
	"strings"
)

const (
	dataPrefix   = "data: "
	commentStart = ":"
	doneSentinel = "[DONE]"
)

// Chunk is one decoded streaming completion event.
type Chunk struct {
	Choices []Choice `json:"choices"`
}

// Choice is a single completion alternative within a Chunk.
type Choice struct {
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Delta carries the incremental fragment of generated text.
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Text returns the text fragment of the first choice, or an empty string when the chunk
// carries none.
func (c Chunk) Text() string {
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return ""
	}
	return *c.Choices[0].Delta.Content
}

// LineKind tells what a single framed line turned out to be.
type LineKind int

const (
	// LineSkip is a blank line, a comment, or a field other than data.
	LineSkip LineKind = iota
	// LineDone is the termination sentinel.
	LineDone
	// LineChunk is a data line with a JSON payload.
	LineChunk
	// LineMalformed is a data line whose payload is not valid JSON.
	LineMalformed
)

func (k LineKind) String() string {
	switch k {
	case LineSkip:
		return "skip"
	case LineDone:
		return "done"
	case LineChunk:
		return "chunk"
	case LineMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// ParseLine interprets one complete line, without its line terminator, as an event record.
func ParseLine(line string) (LineKind, Chunk) {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, commentStart) {
		return LineSkip, Chunk{}
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return LineSkip, Chunk{}
	}

	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == doneSentinel {
		return LineDone, Chunk{}
	}

	var c Chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return LineMalformed, Chunk{}
	}
	return LineChunk, c
}
