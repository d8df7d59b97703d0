// Package streamparse decodes a chunked text/event-stream into discrete
// typed frames. The parser buffers partial lines internally, so a frame
// split across read chunks is reassembled before decoding; a lost partial
// frame would silently corrupt the diagnostics execution counters.
package streamparse

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/flowscope/flowscope/src/chatapi"
)

// doneSentinel terminates the stream.
const doneSentinel = "[DONE]"

const (
	initialBufferSize = 64 * 1024
	maxFrameSize      = 2 * 1024 * 1024
)

// FrameCallback is invoked once per decoded frame, in arrival order.
// Returning an error stops parsing and propagates to the caller.
type FrameCallback func(frame *chatapi.StreamFrame) error

// Parser splits an event stream into frames. The zero value is not usable;
// construct with New.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser.
func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger.With("component", "stream_parser")}
}

// Parse consumes r until the terminal sentinel or EOF, invoking fn for each
// complete frame. Unparseable frames are logged and skipped, never fatal: a
// single malformed frame must not abort an otherwise healthy stream. The
// caller retains ownership of r and is responsible for closing it.
func (p *Parser) Parse(r io.Reader, fn FrameCallback) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, initialBufferSize)
	scanner.Buffer(buf, maxFrameSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			// Comment or field we don't handle (e.g. ": ping").
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == doneSentinel {
			return nil
		}

		var frame chatapi.StreamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			p.logger.Warn("skipping malformed frame", "error", err)
			continue
		}
		if !frame.Event.Valid() {
			p.logger.Warn("skipping frame with unknown event", "event", string(frame.Event))
			continue
		}
		frame.Raw = json.RawMessage(data)

		if err := fn(&frame); err != nil {
			return err
		}
	}
	return scanner.Err()
}
