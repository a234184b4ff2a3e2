package stream

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Decoder turns raw body chunks into text. A multi-byte UTF-8 sequence split across two reads
// is held back until the rest of it arrives, so it is never replaced with U+FFFD.
type Decoder struct {
	t       transform.Transformer
	pending []byte
}

// NewDecoder returns a decoder for a single stream.
func NewDecoder() *Decoder {
	return &Decoder{t: unicode.UTF8.NewDecoder()}
}

// Decode decodes chunk together with any bytes left over from the previous call.
func (d *Decoder) Decode(chunk []byte) (string, error) {
	return d.decode(chunk, false)
}

// Flush decodes the bytes still pending at the end of the stream. An incomplete trailing
// sequence becomes U+FFFD.
func (d *Decoder) Flush() (string, error) {
	return d.decode(nil, true)
}

func (d *Decoder) decode(chunk []byte, atEOF bool) (string, error) {
	src := make([]byte, 0, len(d.pending)+len(chunk))
	src = append(src, d.pending...)
	src = append(src, chunk...)
	d.pending = d.pending[:0]

	if len(src) == 0 {
		return "", nil
	}

	var sb strings.Builder
	// Invalid bytes expand to a 3-byte replacement char.
	dst := make([]byte, len(src)*3+utf8.UTFMax)
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		sb.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return sb.String(), nil
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append(d.pending, src...)
			return sb.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, len(dst)*2)
			}
		default:
			return sb.String(), fmt.Errorf("decode chunk: %w", err)
		}
	}
}
