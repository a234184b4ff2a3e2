package stream

import "errors"

// Notice kinds, one per error class.
const (
	NoticeRateLimited    = "rate_limited"
	NoticeQuotaExhausted = "quota_exhausted"
	NoticeError          = "error"
)

// Notice is what the user is told when a reply fails.
type Notice struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// NoticeFor maps err to the notice of its class. Errors that are not stream errors get the
// generic notice.
func NoticeFor(err error) Notice {
	switch {
	case errors.Is(err, ErrRateLimited):
		return Notice{
			Kind: NoticeRateLimited,
			Text: "Wingman is getting a lot of messages right now. Please wait a moment and try again.",
		}
	case errors.Is(err, ErrQuotaExhausted):
		return Notice{
			Kind: NoticeQuotaExhausted,
			Text: "Your AI credits are used up. Top up to keep chatting with Wingman.",
		}
	default:
		return Notice{
			Kind: NoticeError,
			Text: "Wingman couldn't finish that reply. Please try again.",
		}
	}
}
