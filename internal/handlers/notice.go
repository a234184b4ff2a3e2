package handlers

import (
	"encoding/json"

	"github.com/MegaGrindStone/wingman-chat/internal/stream"
)

// noticeData encodes n as the payload of a notice event.
func noticeData(n stream.Notice) string {
	b, _ := json.Marshal(n)
	return string(b)
}
