package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/wingman-chat/internal/models"
	"github.com/MegaGrindStone/wingman-chat/internal/stream"
)

// Gateway streams chat completions from the platform's AI chat endpoint. The endpoint follows the
// OpenAI streaming convention: server-sent events whose data lines carry
// {"choices":[{"delta":{"content":"..."}}]} and a final "[DONE]".
type Gateway struct {
	url          string
	token        string
	model        string
	systemPrompt string

	parserOpts stream.Options

	client *http.Client

	logger *slog.Logger
}

// GatewayConfig holds the settings of a Gateway. URL and Token are required.
type GatewayConfig struct {
	URL          string
	Token        string
	Model        string
	SystemPrompt string

	// MaxLineRetries and MaxBufferSize tune the stream parser, see stream.Options.
	MaxLineRetries int
	MaxBufferSize  int

	HTTPClient *http.Client
}

type gatewayChatRequest struct {
	Model    string           `json:"model,omitempty"`
	Messages []gatewayMessage `json:"messages"`
}

type gatewayMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type gatewayErrorResponse struct {
	Error json.RawMessage `json:"error"`
}

const readChunkSize = 32 * 1024

// NewGateway creates a new Gateway with the given configuration.
func NewGateway(cfg GatewayConfig, logger *slog.Logger) (Gateway, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return Gateway{}, errors.New("gateway url is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return Gateway{}, fmt.Errorf("invalid gateway url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return Gateway{}, errors.New("gateway token is required")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("module", "gateway"))

	return Gateway{
		url:          endpoint,
		token:        token,
		model:        strings.TrimSpace(cfg.Model),
		systemPrompt: cfg.SystemPrompt,
		parserOpts: stream.Options{
			MaxLineRetries: cfg.MaxLineRetries,
			MaxBufferSize:  cfg.MaxBufferSize,
			Logger:         logger,
		},
		client: client,
		logger: logger,
	}, nil
}

// StreamResponse sends the conversation to the gateway and streams the reply. onDelta receives
// every text fragment in arrival order. onDone is called exactly once when the stream is over,
// whatever the outcome. Either callback may be nil.
//
// A failed attempt returns a *stream.Error, classified by status as stream.ErrRateLimited,
// stream.ErrQuotaExhausted or plain stream.ErrStreamFailed. When ctx is cancelled the read loop
// stops and ctx.Err() is returned instead. Nothing is retried.
func (g Gateway) StreamResponse(
	ctx context.Context,
	messages []models.Message,
	onDelta func(string),
	onDone func(),
) error {
	if onDone != nil {
		defer onDone()
	}

	resp, err := g.doRequest(ctx, messages)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return stream.NewError(0, "", fmt.Errorf("error sending request: %w", err))
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		streamErr := readGatewayError(resp.Body, resp.StatusCode)
		g.logger.Warn("Gateway rejected request",
			slog.Int("status", resp.StatusCode),
			slog.String(errLoggerKey, streamErr.Error()))
		return streamErr
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return stream.NewError(0, "", errors.New("response has no body"))
	}

	return g.consume(ctx, resp.Body, onDelta)
}

func (g Gateway) consume(ctx context.Context, body io.Reader, onDelta func(string)) error {
	decoder := stream.NewDecoder()
	parser := stream.NewParser(g.parserOpts)
	emit := func(delta string) {
		if onDelta != nil {
			onDelta(delta)
		}
	}

	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			text, err := decoder.Decode(buf[:n])
			if err != nil {
				return stream.NewError(0, "", err)
			}
			done, err := parser.Feed(text, emit)
			if err != nil {
				return stream.NewError(0, "", err)
			}
			if done {
				return nil
			}
		}

		if errors.Is(readErr, io.EOF) {
			tail, err := decoder.Flush()
			if err != nil {
				return stream.NewError(0, "", err)
			}
			done, err := parser.Feed(tail, emit)
			if err != nil {
				return stream.NewError(0, "", err)
			}
			if !done {
				parser.Flush(emit)
			}
			return nil
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return stream.NewError(0, "", fmt.Errorf("error reading response: %w", readErr))
		}
	}
}

// Chat implements the handlers' LLM interface on top of StreamResponse. Stopping the iteration
// cancels the underlying request.
func (g Gateway) Chat(ctx context.Context, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		err := g.StreamResponse(ctx, messages, func(delta string) {
			if stopped {
				return
			}
			if !yield(delta, nil) {
				stopped = true
				cancel()
			}
		}, nil)
		if err == nil || stopped {
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		yield("", err)
	}
}

// GenerateTitle streams a reply to a single message and returns it whole. The gateway should be
// created with the title generator prompt as its system prompt.
func (g Gateway) GenerateTitle(ctx context.Context, message string) (string, error) {
	msgs := []models.Message{
		{
			Role:    models.RoleUser,
			Content: message,
		},
	}

	var sb strings.Builder
	if err := g.StreamResponse(ctx, msgs, func(delta string) {
		sb.WriteString(delta)
	}, nil); err != nil {
		return "", fmt.Errorf("error generating title: %w", err)
	}

	return strings.TrimSpace(sb.String()), nil
}

func (g Gateway) doRequest(ctx context.Context, messages []models.Message) (*http.Response, error) {
	msgs := make([]gatewayMessage, 0, len(messages)+1)
	if g.systemPrompt != "" {
		msgs = append(msgs, gatewayMessage{
			Role:    string(models.RoleSystem),
			Content: g.systemPrompt,
		})
	}
	for _, msg := range messages {
		// The assistant placeholder of the reply being generated is still empty.
		if msg.Content == "" {
			continue
		}
		msgs = append(msgs, gatewayMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	jsonBody, err := json.Marshal(gatewayChatRequest{
		Model:    g.model,
		Messages: msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	g.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+g.token)

	return g.client.Do(req)
}

// readGatewayError decodes the error payload of a failed request. The payload is best effort:
// anything unreadable is treated as an empty object.
func readGatewayError(body io.Reader, status int) *stream.Error {
	var resp gatewayErrorResponse
	if body != nil {
		_ = json.NewDecoder(body).Decode(&resp)
	}
	return stream.NewError(status, gatewayErrorMessage(resp.Error), nil)
}

func gatewayErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}
