package stream

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/confdex/assistant-client/internal/apperrors"
	"github.com/confdex/assistant-client/internal/logger"
)

// readBufferSize is the transport read granularity. Frame boundaries
// are independent of it; any re-chunking of the same bytes decodes to
// the same event sequence.
const readBufferSize = 4 * 1024

// Handler receives decoded events in arrival order.
type Handler func(Event)

// Parser reassembles the self-delimited streaming wire format from a
// live response body and emits typed events.
//
// Wire format:
//   - frames are separated by a blank line
//   - lines prefixed "data:" (one optional following space stripped)
//     are concatenated to form the JSON payload
//   - lines prefixed ":" are comments
//   - anything else is logged and ignored
//
// The parser tolerates chunk boundaries anywhere, including mid-frame
// and mid-multibyte-character: it splits on delimiter bytes only and
// converts to string per complete frame.
//
// Exactly one closed notification fires per stream lifetime, on every
// exit path (normal end, parse failures, transport error,
// cancellation).
type Parser struct {
	log      *logger.Logger
	onClosed func()
	closed   sync.Once
}

// NewParser creates a parser. onClosed may be nil.
func NewParser(log *logger.Logger, onClosed func()) *Parser {
	return &Parser{
		log:      log.WithComponent("stream-parser"),
		onClosed: onClosed,
	}
}

// Run consumes body until end-of-stream, emitting one event per
// complete frame. Cancellation is cooperative: the context is checked
// before each read, and cancelling is not an error. A transport error
// is returned to the caller; parse failures are emitted as synthetic
// error events and the stream continues.
func (p *Parser) Run(ctx context.Context, body io.Reader, emit Handler) error {
	defer p.fireClosed()

	var buf []byte
	chunk := make([]byte, readBufferSize)

	for {
		// Cooperative cancellation: checked before each read.
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = p.drainFrames(buf, emit)
		}

		if err == io.EOF {
			if len(bytes.TrimSpace(buf)) > 0 {
				p.log.Warn("stream ended with incomplete trailing frame",
					slog.Int("pending_bytes", len(buf)))
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-read; not a failure.
				return nil
			}
			return apperrors.NewTransient("stream read", err)
		}
	}
}

// drainFrames processes every complete frame currently in buf and
// returns the remaining incomplete tail.
func (p *Parser) drainFrames(buf []byte, emit Handler) []byte {
	for {
		idx, delimLen := findDelimiter(buf)
		if idx < 0 {
			return buf
		}

		segment := buf[:idx]
		buf = buf[idx+delimLen:]
		p.handleSegment(string(segment), emit)
	}
}

// findDelimiter locates the earliest blank-line frame delimiter,
// accepting both bare-LF and CRLF streams.
func findDelimiter(buf []byte) (idx, length int) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

// handleSegment reconstructs and decodes the payload of one frame.
func (p *Parser) handleSegment(segment string, emit Handler) {
	var payload strings.Builder

	for _, line := range strings.Split(segment, "\n") {
		line = strings.TrimSuffix(line, "\r")

		switch {
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			payload.WriteString(data)
		case strings.HasPrefix(line, ":"):
			// Comment line, ignored.
		case line == "":
			// Stray blank inside a segment, ignored.
		default:
			p.log.Warn("unrecognized line in frame", slog.String("line", line))
		}
	}

	if payload.Len() == 0 {
		// Comment-only keepalive frame.
		return
	}

	event, err := DecodeFrame([]byte(payload.String()))
	if err != nil {
		if err == ErrUnknownFrameType {
			p.log.Warn("dropping frame with unknown type",
				slog.String("payload", payload.String()))
			return
		}

		parseErr := apperrors.NewParse(payload.String(), err)
		p.log.Warn("malformed frame payload", slog.String("error", parseErr.Error()))
		emit(ErrorUpdate{
			Message:  parseErr.Error(),
			Severity: SeverityWarning,
		})
		return
	}

	emit(event)
}

// fireClosed invokes the closed callback exactly once.
func (p *Parser) fireClosed() {
	p.closed.Do(func() {
		if p.onClosed != nil {
			p.onClosed()
		}
	})
}
