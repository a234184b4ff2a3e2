package stream

import (
	"log/slog"
	"strings"
)

const (
	// DefaultMaxLineRetries is how many further reads a line with an unparseable payload is
	// pushed back for before it gets dropped.
	DefaultMaxLineRetries = 2
	// DefaultMaxBufferSize bounds the text buffered between reads.
	DefaultMaxBufferSize = 1024 * 1024
)

// Options tunes a Parser. Zero values select the defaults.
type Options struct {
	MaxLineRetries int
	MaxBufferSize  int
	Logger         *slog.Logger
}

// Parser frames decoded text into lines and turns data lines into text deltas. A Parser
// belongs to exactly one stream and is not safe for concurrent use.
type Parser struct {
	buf string

	// stalled is the line that failed to parse on the previous read, retries how many
	// times it has been pushed back since.
	stalled string
	retries int

	maxRetries int
	maxBuffer  int

	logger *slog.Logger
}

// NewParser returns a Parser with an empty buffer.
func NewParser(opts Options) *Parser {
	p := &Parser{
		maxRetries: opts.MaxLineRetries,
		maxBuffer:  opts.MaxBufferSize,
		logger:     opts.Logger,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = DefaultMaxLineRetries
	}
	if p.maxBuffer <= 0 {
		p.maxBuffer = DefaultMaxBufferSize
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	return p
}

// Feed appends text read from the stream and emits the delta of every complete data line, in
// order. A partial trailing line stays buffered for the next call.
//
// When a data line's payload is not valid JSON the line is put back in front of the buffer and
// framing stops until the next call, in case the provider split the payload. The same line is
// dropped once it has been retried MaxLineRetries times.
//
// Feed reports done once the termination sentinel is seen; the rest of the buffer is then
// ignored.
func (p *Parser) Feed(text string, emit func(string)) (done bool, err error) {
	p.buf += text

	for {
		idx := strings.IndexByte(p.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(p.buf[:idx], "\r")
		p.buf = p.buf[idx+1:]

		kind, chunk := ParseLine(line)
		switch kind {
		case LineDone:
			return true, nil
		case LineChunk:
			p.resetStall()
			if delta := chunk.Text(); delta != "" && emit != nil {
				emit(delta)
			}
		case LineMalformed:
			if p.stall(line) {
				p.buf = line + "\n" + p.buf
				return false, p.checkSize()
			}
			p.logger.Debug("Dropping unparseable stream line",
				slog.String("line", line),
				slog.Int("retries", p.maxRetries))
			p.resetStall()
		case LineSkip:
		}
	}

	return false, p.checkSize()
}

// Flush processes whatever is still buffered once the stream has ended, including a final line
// without a terminator. Nothing is pushed back; unparseable lines are dropped.
func (p *Parser) Flush(emit func(string)) (done bool) {
	rest := p.buf
	p.buf = ""
	p.resetStall()

	for rest != "" {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		line = strings.TrimSuffix(line, "\r")

		kind, chunk := ParseLine(line)
		switch kind {
		case LineDone:
			return true
		case LineChunk:
			if delta := chunk.Text(); delta != "" && emit != nil {
				emit(delta)
			}
		case LineMalformed:
			p.logger.Debug("Dropping unparseable trailing line", slog.String("line", line))
		case LineSkip:
		}
	}
	return false
}

// Buffered returns the number of bytes of text held for the next read.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// stall records a parse failure of line and reports whether it should be pushed back.
func (p *Parser) stall(line string) bool {
	if p.stalled == line {
		p.retries++
	} else {
		p.stalled = line
		p.retries = 0
	}
	return p.retries < p.maxRetries
}

func (p *Parser) resetStall() {
	p.stalled = ""
	p.retries = 0
}

func (p *Parser) checkSize() error {
	if len(p.buf) > p.maxBuffer {
		return ErrBufferOverflow
	}
	return nil
}
