package completion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Sentinel separates the citation header from the answer text.
const Sentinel = "[END_SOURCE]"

// sentinelFrame is the sentinel as it appears on the wire: a JSON string.
// A citation may carry the same bytes as a string value, so the boundary is
// the end of the citation array, not the first match.
var sentinelFrame = []byte(`"` + Sentinel + `"`)

// ErrMissingSentinel is returned when a stream ends before the header is complete.
var ErrMissingSentinel = errors.New("completion: stream ended before citation sentinel")

// EncodeHeader renders the stream header: the citation array as JSON
// followed by the JSON-encoded sentinel. An empty list encodes as "[]".
func EncodeHeader(citations []rag.Citation) ([]byte, error) {
	if citations == nil {
		citations = []rag.Citation{}
	}
	list, err := json.Marshal(citations)
	if err != nil {
		return nil, fmt.Errorf("completion: encode citations: %w", err)
	}
	return append(list, sentinelFrame...), nil
}

// Phase is the position of a Decoder within a framed stream.
type Phase int

const (
	// CitationPhase buffers bytes until the sentinel is seen.
	CitationPhase Phase = iota
	// TextPhase passes answer text through unchanged.
	TextPhase
)

func (p Phase) String() string {
	switch p {
	case CitationPhase:
		return "citations"
	case TextPhase:
		return "text"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Decoder splits a framed stream incrementally. It starts in CitationPhase
// and moves to TextPhase exactly once, when the sentinel has been seen.
// The sentinel may be split across any number of chunks.
type Decoder struct {
	phase     Phase
	buf       []byte
	citations []rag.Citation
}

// NewDecoder returns a Decoder in CitationPhase.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Phase reports the current phase.
func (d *Decoder) Phase() Phase { return d.phase }

// Citations returns the decoded citations. It is empty until TextPhase.
func (d *Decoder) Citations() []rag.Citation { return d.citations }

// Feed consumes the next chunk and returns any answer text it completes.
// In TextPhase the chunk is returned as-is.
func (d *Decoder) Feed(chunk []byte) ([]byte, error) {
	if d.phase == TextPhase {
		return chunk, nil
	}

	d.buf = append(d.buf, chunk...)
	end, err := headerEnd(d.buf)
	if err != nil {
		return nil, err
	}
	if end < 0 || len(d.buf) < end+len(sentinelFrame) {
		return nil, nil
	}
	if !bytes.Equal(d.buf[end:end+len(sentinelFrame)], sentinelFrame) {
		return nil, fmt.Errorf("completion: citation header not followed by %s", sentinelFrame)
	}

	citations := []rag.Citation{}
	if err := json.Unmarshal(d.buf[:end], &citations); err != nil {
		return nil, fmt.Errorf("completion: decode citation header: %w", err)
	}

	d.citations = citations
	d.phase = TextPhase
	text := d.buf[end+len(sentinelFrame):]
	d.buf = nil
	return text, nil
}

// headerEnd returns the offset just past the closing bracket of the JSON
// array at the start of b, or -1 when the array is not complete yet.
// Brackets inside string values are ignored.
func headerEnd(b []byte) (int, error) {
	depth := 0
	inString, escaped := false, false
	for i, c := range b {
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if depth == 0 && c != '[' {
			return -1, errors.New("completion: citation header is not a JSON array")
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			depth++
		case ']', '}':
			depth--
			if depth == 0 {
				return i + 1, nil
			}
		}
	}
	return -1, nil
}

// Split reads the header from r and returns the citations plus a reader
// positioned at the first byte of answer text.
func Split(r io.Reader) ([]rag.Citation, io.Reader, error) {
	br := bufio.NewReader(r)
	d := NewDecoder()
	chunk := make([]byte, 512)

	for {
		n, err := br.Read(chunk)
		if n > 0 {
			text, ferr := d.Feed(chunk[:n])
			if ferr != nil {
				return nil, nil, ferr
			}
			if d.Phase() == TextPhase {
				rest := append([]byte(nil), text...)
				return d.Citations(), io.MultiReader(bytes.NewReader(rest), br), nil
			}
		}
		if err == io.EOF {
			return nil, nil, ErrMissingSentinel
		}
		if err != nil {
			return nil, nil, fmt.Errorf("completion: read header: %w", err)
		}
	}
}
