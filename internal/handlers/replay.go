package handlers

import (
	"strings"
	"time"

	"github.com/tmaxmax/go-sse"
)

// replyReplayer keeps the latest events of every reply topic, so a client that subscribes after
// the reply started, or after it already ended, still gets its content, notice and close event.
// Only the last messages event is kept, since each one carries the whole rendered reply.
//
// The provider calls Put and Replay from a single goroutine, in publish order.
type replyReplayer struct {
	replies map[string]*replyEvents
	// ttl is how long an ended reply stays replayable.
	ttl time.Duration
	now func() time.Time
}

type replyEvents struct {
	content *sse.Message
	notice  *sse.Message
	closed  *sse.Message

	closedAt time.Time
}

func newReplyReplayer(ttl time.Duration) *replyReplayer {
	return &replyReplayer{
		replies: make(map[string]*replyEvents),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (r *replyReplayer) Put(msg *sse.Message, topics []string) (*sse.Message, error) {
	if len(topics) == 0 {
		return nil, sse.ErrNoTopic
	}

	now := r.now()
	r.gc(now)

	for _, topic := range topics {
		if !strings.HasPrefix(topic, messageTopicPrefix) {
			continue
		}

		events, ok := r.replies[topic]
		if !ok {
			events = &replyEvents{}
			r.replies[topic] = events
		}

		switch msg.Type {
		case messagesSSEType:
			events.content = msg
		case noticeSSEType:
			events.notice = msg
		case closeMessageSSEType:
			events.closed = msg
			events.closedAt = now
		}
	}

	return msg, nil
}

// Replay sends the kept events of the subscribed reply topics, whatever the subscriber's last
// event ID.
func (r *replyReplayer) Replay(sub sse.Subscription) error {
	sent := false
	for _, topic := range sub.Topics {
		events, ok := r.replies[topic]
		if !ok {
			continue
		}
		for _, msg := range []*sse.Message{events.content, events.notice, events.closed} {
			if msg == nil {
				continue
			}
			if err := sub.Client.Send(msg); err != nil {
				return err
			}
			sent = true
		}
	}

	if !sent {
		return nil
	}
	return sub.Client.Flush()
}

func (r *replyReplayer) gc(now time.Time) {
	for topic, events := range r.replies {
		if events.closed != nil && now.Sub(events.closedAt) >= r.ttl {
			delete(r.replies, topic)
		}
	}
}
