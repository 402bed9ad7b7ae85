package analytics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/notebookchat/pkg/chatevent"
)

const (
	initialScanBuffer = 64 * 1024
	// Result tables travel inline in execution events, so lines can be large.
	maxScanBuffer = 16 * 1024 * 1024
)

// readSSE parses a server-sent event stream and calls emit with the data of
// every dispatched event. Multi-line data fields are joined with "\n".
// Comments and event/id/retry fields are ignored. Reading stops early when
// emit returns false.
func readSSE(r io.Reader, emit func(data []byte) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialScanBuffer), maxScanBuffer)

	var data bytes.Buffer
	hasData := false

	dispatch := func() bool {
		if !hasData {
			return true
		}
		payload := append([]byte(nil), data.Bytes()...)
		data.Reset()
		hasData = false
		return emit(payload)
	}

	for scanner.Scan() {
		line := scanner.Bytes()

		if len(line) == 0 {
			// Empty line = event complete, dispatch it
			if !dispatch() {
				return nil
			}
			continue
		}
		if line[0] == ':' {
			continue // comment / heartbeat
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if found && len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		if string(field) != "data" {
			continue
		}
		if hasData {
			data.WriteByte('\n')
		}
		data.Write(value)
		hasData = true
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan SSE stream: %w", err)
	}
	// A final event without its trailing blank line is still delivered.
	dispatch()
	return nil
}

// eventStream is the live event feed of one submitted query.
type eventStream struct {
	body   io.ReadCloser
	events chan chatevent.RawEvent
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func newEventStream(body io.ReadCloser, logger *slog.Logger) *eventStream {
	s := &eventStream{
		body:   body,
		events: make(chan chatevent.RawEvent),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.read()
	return s
}

func (s *eventStream) read() {
	defer close(s.events)

	err := readSSE(s.body, func(data []byte) bool {
		if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) {
			return false
		}
		var e chatevent.RawEvent
		if err := json.Unmarshal(data, &e); err != nil {
			s.logger.Warn("Dropping undecodable stream event", "error", err)
			return true
		}
		select {
		case s.events <- e:
			return true
		case <-s.done:
			return false
		}
	})

	select {
	case <-s.done:
		// Closed locally; the read error is a consequence.
		err = nil
	default:
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Events returns the event channel. It is closed when the connection closes.
func (s *eventStream) Events() <-chan chatevent.RawEvent {
	return s.events
}

// Err returns the read error, if any, once Events is closed.
func (s *eventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the connection. It is safe to call more than once.
func (s *eventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.body.Close()
	})
	return err
}
