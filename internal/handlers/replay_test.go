package handlers

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tmaxmax/go-sse"
)

type recordingWriter struct {
	sent    []string
	flushes int
}

func (w *recordingWriter) Send(m *sse.Message) error {
	w.sent = append(w.sent, m.String())
	return nil
}

func (w *recordingWriter) Flush() error {
	w.flushes++
	return nil
}

func event(typ sse.EventType, data string) *sse.Message {
	m := &sse.Message{Type: typ}
	m.AppendData(data)
	return m
}

func TestReplyReplayer(t *testing.T) {
	r := newReplyReplayer(time.Minute)
	topic := messageIDTopic("m1")

	for _, m := range []*sse.Message{
		event(messagesSSEType, "<p>H</p>"),
		event(messagesSSEType, "<p>Hi</p>"),
		event(noticeSSEType, `{"kind":"error"}`),
		event(closeMessageSSEType, "bye"),
	} {
		if _, err := r.Put(m, []string{topic}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if _, err := r.Put(event(chatsSSEType, "<a></a>"), []string{chatsSSETopic}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	w := &recordingWriter{}
	err := r.Replay(sse.Subscription{
		Client: w,
		Topics: []string{sse.DefaultTopic, chatsSSETopic, topic},
	})
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	want := []string{
		event(messagesSSEType, "<p>Hi</p>").String(),
		event(noticeSSEType, `{"kind":"error"}`).String(),
		event(closeMessageSSEType, "bye").String(),
	}
	if diff := cmp.Diff(want, w.sent); diff != "" {
		t.Errorf("replayed events mismatch (-want +got):\n%s", diff)
	}
	if w.flushes != 1 {
		t.Errorf("flushes = %d, want 1", w.flushes)
	}
}

func TestReplyReplayerOtherTopics(t *testing.T) {
	r := newReplyReplayer(time.Minute)
	if _, err := r.Put(event(messagesSSEType, "<p>Hi</p>"), []string{messageIDTopic("m1")}); err != nil {
		t.Fatal(err)
	}

	w := &recordingWriter{}
	if err := r.Replay(sse.Subscription{Client: w, Topics: []string{messageIDTopic("m2")}}); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(w.sent) != 0 || w.flushes != 0 {
		t.Errorf("Replay() sent %v with %d flushes, want nothing", w.sent, w.flushes)
	}

	if _, err := r.Put(event(messagesSSEType, "x"), nil); err == nil {
		t.Error("Put() without topics error = nil, want error")
	}
}

func TestReplyReplayerExpiry(t *testing.T) {
	now := time.Now()
	r := newReplyReplayer(time.Minute)
	r.now = func() time.Time { return now }

	ended, streaming := messageIDTopic("ended"), messageIDTopic("streaming")
	if _, err := r.Put(event(closeMessageSSEType, "bye"), []string{ended}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Put(event(messagesSSEType, "<p>Hi</p>"), []string{streaming}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := r.Put(event(chatsSSEType, "<a></a>"), []string{chatsSSETopic}); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.replies[ended]; ok {
		t.Error("ended reply still kept after its ttl")
	}
	if _, ok := r.replies[streaming]; !ok {
		t.Error("streaming reply dropped")
	}
}
