package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func dataLine(content string) string {
	return `data: {"choices":[{"delta":{"content":"` + content + `"}}]}` + "\n\n"
}

func feedAll(t *testing.T, p *Parser, chunks ...string) ([]string, bool) {
	t.Helper()

	var deltas []string
	emit := func(delta string) { deltas = append(deltas, delta) }
	for _, chunk := range chunks {
		done, err := p.Feed(chunk, emit)
		if err != nil {
			t.Fatalf("feed %q: %v", chunk, err)
		}
		if done {
			return deltas, true
		}
	}
	return deltas, p.Flush(emit)
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantKind LineKind
		wantText string
	}{
		{name: "empty", line: "", wantKind: LineSkip},
		{name: "whitespace", line: "  \t ", wantKind: LineSkip},
		{name: "comment", line: ": keep-alive", wantKind: LineSkip},
		{name: "event field", line: "event: message", wantKind: LineSkip},
		{name: "data without space", line: `data:{"choices":[]}`, wantKind: LineSkip},
		{name: "done", line: "data: [DONE]", wantKind: LineDone},
		{name: "done padded", line: "data:  [DONE]  ", wantKind: LineDone},
		{name: "delta", line: `data: {"choices":[{"delta":{"content":"Hi"}}]}`, wantKind: LineChunk, wantText: "Hi"},
		{name: "role only", line: `data: {"choices":[{"delta":{"role":"assistant"}}]}`, wantKind: LineChunk},
		{name: "no choices", line: `data: {"choices":[]}`, wantKind: LineChunk},
		{name: "truncated json", line: `data: {"choices":[{"delta":{"con`, wantKind: LineMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, chunk := ParseLine(tt.line)
			if kind != tt.wantKind {
				t.Fatalf("ParseLine() kind = %v, want %v", kind, tt.wantKind)
			}
			if got := chunk.Text(); got != tt.wantText {
				t.Fatalf("ParseLine() text = %q, want %q", got, tt.wantText)
			}
		})
	}
}

func TestParserSingleEvent(t *testing.T) {
	p := NewParser(Options{})
	deltas, done := feedAll(t, p, `data: {"choices":[{"delta":{"content":"Hi"}}]}`+"\n\n")

	if diff := cmp.Diff([]string{"Hi"}, deltas); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
	if done {
		t.Fatalf("stream without sentinel should not report done")
	}
}

func TestParserConcatenation(t *testing.T) {
	stream := ": connected\n\n" +
		dataLine("Hey") +
		"\n   \n" +
		dataLine(", how") +
		`data: {"choices":[{"delta":{"role":"assistant"}}]}` + "\n\n" +
		dataLine(" was your date?") +
		"data: [DONE]\n\n"

	p := NewParser(Options{})
	deltas, done := feedAll(t, p, stream)

	if got := strings.Join(deltas, ""); got != "Hey, how was your date?" {
		t.Fatalf("unexpected concatenation: %q", got)
	}
	if !done {
		t.Fatalf("expected done after sentinel")
	}
}

func TestParserSplitAtEveryOffset(t *testing.T) {
	stream := dataLine("Bonjour ") + dataLine("à toi 💘") + "data: [DONE]\n\n"
	raw := []byte(stream)
	want := []string{"Bonjour ", "à toi 💘"}

	for split := 0; split <= len(raw); split++ {
		d := NewDecoder()
		p := NewParser(Options{})

		var deltas []string
		emit := func(delta string) { deltas = append(deltas, delta) }

		done := false
		for _, part := range [][]byte{raw[:split], raw[split:]} {
			text, err := d.Decode(part)
			if err != nil {
				t.Fatalf("split %d: decode: %v", split, err)
			}
			done, err = p.Feed(text, emit)
			if err != nil {
				t.Fatalf("split %d: feed: %v", split, err)
			}
			if done {
				break
			}
		}

		if !done {
			t.Fatalf("split %d: expected done", split)
		}
		if diff := cmp.Diff(want, deltas); diff != "" {
			t.Fatalf("split %d: deltas mismatch (-want +got):\n%s", split, diff)
		}
	}
}

func TestParserDoneStopsProcessing(t *testing.T) {
	p := NewParser(Options{})
	var deltas []string
	done, err := p.Feed(dataLine("a")+"data: [DONE]\n"+dataLine("b"), func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !done {
		t.Fatalf("expected done")
	}
	if diff := cmp.Diff([]string{"a"}, deltas); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestParserCarriageReturn(t *testing.T) {
	p := NewParser(Options{})
	deltas, done := feedAll(t, p,
		`data: {"choices":[{"delta":{"content":"one"}}]}`+"\r\n\r\n",
		"data: [DONE]\r\n",
	)
	if diff := cmp.Diff([]string{"one"}, deltas); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
	if !done {
		t.Fatalf("expected done")
	}
}

func TestParserPushbackThenDrop(t *testing.T) {
	p := NewParser(Options{MaxLineRetries: 2})
	var deltas []string
	emit := func(d string) { deltas = append(deltas, d) }

	bad := "data: {not json\n"
	done, err := p.Feed(bad, emit)
	if err != nil || done {
		t.Fatalf("feed bad line: done=%v err=%v", done, err)
	}
	if p.Buffered() != len(bad) {
		t.Fatalf("bad line should be pushed back, buffered %d bytes", p.Buffered())
	}

	good := strings.TrimSuffix(dataLine("after"), "\n")
	if _, err := p.Feed(good, emit); err != nil {
		t.Fatalf("feed good line: %v", err)
	}
	if len(deltas) != 0 {
		t.Fatalf("framing should wait behind the stalled line, got %v", deltas)
	}

	if _, err := p.Feed("", emit); err != nil {
		t.Fatalf("feed: %v", err)
	}
	if diff := cmp.Diff([]string{"after"}, deltas); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
	if p.Buffered() != 0 {
		t.Fatalf("buffer should be drained, %d bytes left", p.Buffered())
	}
}

func TestParserFlushTrailingLine(t *testing.T) {
	p := NewParser(Options{})
	deltas, done := feedAll(t, p,
		dataLine("first"),
		`data: {"choices":[{"delta":{"content":"last"}}]}`,
	)
	if diff := cmp.Diff([]string{"first", "last"}, deltas); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
	if done {
		t.Fatalf("stream without sentinel should not report done")
	}
}

func TestParserFlushDropsMalformed(t *testing.T) {
	p := NewParser(Options{})
	deltas, _ := feedAll(t, p, dataLine("ok"), "data: {broken\n")
	if diff := cmp.Diff([]string{"ok"}, deltas); diff != "" {
		t.Fatalf("deltas mismatch (-want +got):\n%s", diff)
	}
}

func TestParserBufferOverflow(t *testing.T) {
	p := NewParser(Options{MaxBufferSize: 16})
	_, err := p.Feed("data: "+strings.Repeat("x", 32), nil)
	if !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("expected ErrBufferOverflow, got %v", err)
	}
}
