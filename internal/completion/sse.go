package completion

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/54b3r/docchat-go/internal/rag"
)

// doneMarker terminates an OpenAI event stream.
const doneMarker = "[DONE]"

// errClosedEarly is reported to callbacks when the reader is closed before
// the upstream finished.
var errClosedEarly = errors.New("completion: stream closed before completion")

// streamChunk is the subset of a chat.completion.chunk event we read.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// eventStream decodes a server-sent event body into answer text. Decoding
// is pull-driven: nothing is read from the upstream until the caller reads,
// so a slow consumer applies backpressure all the way to the service.
type eventStream struct {
	body    io.ReadCloser
	br      *bufio.Reader
	pending []byte
	err     error
	content strings.Builder

	finishOnce sync.Once
	onFinish   func(content string, err error)
}

func newEventStream(body io.ReadCloser, onFinish func(string, error)) *eventStream {
	return &eventStream{
		body:     body,
		br:       bufio.NewReader(body),
		onFinish: onFinish,
	}
}

// Read returns decoded answer text. It returns io.EOF after [DONE],
// io.ErrUnexpectedEOF when the upstream ends without it, and a
// *rag.StreamDecodeError for a malformed event.
func (s *eventStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		s.err = s.next()
		if s.err != nil {
			if s.err == io.EOF {
				s.finish(nil)
			} else {
				s.finish(s.err)
			}
		}
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Close closes the upstream body without draining it.
func (s *eventStream) Close() error {
	s.finish(errClosedEarly)
	return s.body.Close()
}

// next reads events until one yields text (stored in pending) or the stream
// terminates. It returns nil when pending was filled.
func (s *eventStream) next() error {
	for {
		line, readErr := s.br.ReadString('\n')
		if line != "" {
			text, done, err := parseLine(line)
			if err != nil {
				return err
			}
			if done {
				return io.EOF
			}
			if text != "" {
				s.pending = []byte(text)
				s.content.WriteString(text)
				return nil
			}
		}

		if readErr == io.EOF {
			return io.ErrUnexpectedEOF
		}
		if readErr != nil {
			return fmt.Errorf("completion: read stream: %w", readErr)
		}
	}
}

// finish reports the outcome once. Reports after the first are dropped, so
// closing after [DONE] is not an error.
func (s *eventStream) finish(err error) {
	s.finishOnce.Do(func() {
		if s.onFinish != nil {
			s.onFinish(s.content.String(), err)
		}
	})
}

// parseLine interprets one SSE line. It returns the text delta carried by a
// data field, whether the line was the [DONE] marker, or a decode error.
// Comments, blank lines, non-data fields and events without choices yield
// no text.
func parseLine(line string) (text string, done bool, err error) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false, nil
	}

	field, value, _ := strings.Cut(line, ":")
	if field != "data" {
		return "", false, nil
	}
	value = strings.TrimPrefix(value, " ")

	if strings.TrimSpace(value) == doneMarker {
		return "", true, nil
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(value), &chunk); err != nil {
		return "", false, &rag.StreamDecodeError{Payload: value, Err: err}
	}
	if len(chunk.Choices) == 0 {
		return "", false, nil
	}
	return chunk.Choices[0].Delta.Content, false, nil
}
