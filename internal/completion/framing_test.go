package completion

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/54b3r/docchat-go/internal/rag"
)

func TestEncodeHeader(t *testing.T) {
	t.Parallel()

	got, err := EncodeHeader([]rag.Citation{{Filename: "policy.pdf", Score: 0.82}})
	if err != nil {
		t.Fatalf("EncodeHeader: %v", err)
	}
	want := `[{"filename":"policy.pdf","score":0.82}]"[END_SOURCE]"`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestEncodeHeader_Empty(t *testing.T) {
	t.Parallel()

	for _, in := range [][]rag.Citation{nil, {}} {
		got, err := EncodeHeader(in)
		if err != nil {
			t.Fatalf("EncodeHeader: %v", err)
		}
		if string(got) != `[]"[END_SOURCE]"` {
			t.Errorf("got %s", got)
		}
	}
}

func TestSplit_RoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		citations []rag.Citation
		text      string
	}{
		{"empty list", nil, "Hmm, I'm not sure."},
		{"one", []rag.Citation{{Filename: "policy.pdf", Score: 0.82}}, "The refund window is 30 days."},
		{"many", []rag.Citation{{Filename: "a.pdf", Score: 0.9}, {Filename: "b.pdf", Score: 0.7}}, "Both."},
		{"no text", []rag.Citation{{Filename: "a.pdf", Score: 0.9}}, ""},
		{"sentinel-like filename", []rag.Citation{{Filename: `"[END_SOURCE]".pdf`, Score: 0.9}}, "ok"},
		{"sentinel filename", []rag.Citation{{Filename: "[END_SOURCE]", Score: 0.7}}, "ok"},
		{"escaped quote before sentinel filename", []rag.Citation{{Filename: `a\"`, Score: 0.6}, {Filename: "[END_SOURCE]", Score: 0.5}}, "ok"},
		{"sentinel in text", nil, `quoted "[END_SOURCE]" inside the answer`},
	}

	for _, tc := range cases {
		header, err := EncodeHeader(tc.citations)
		if err != nil {
			t.Fatalf("%s: EncodeHeader: %v", tc.name, err)
		}
		stream := append(header, tc.text...)

		// One byte at a time exercises a sentinel split across reads.
		citations, rest, err := Split(iotest.OneByteReader(bytes.NewReader(stream)))
		if err != nil {
			t.Fatalf("%s: Split: %v", tc.name, err)
		}
		text, err := io.ReadAll(rest)
		if err != nil {
			t.Fatalf("%s: read text: %v", tc.name, err)
		}

		if string(text) != tc.text {
			t.Errorf("%s: text = %q, want %q", tc.name, text, tc.text)
		}
		if len(citations) != len(tc.citations) {
			t.Fatalf("%s: %d citations, want %d", tc.name, len(citations), len(tc.citations))
		}
		for i := range citations {
			if citations[i] != tc.citations[i] {
				t.Errorf("%s: citation[%d] = %+v, want %+v", tc.name, i, citations[i], tc.citations[i])
			}
		}
	}
}

func TestSplit_MissingSentinel(t *testing.T) {
	t.Parallel()

	_, _, err := Split(bytes.NewReader([]byte(`[{"filename":"a.pdf","score":1}]`)))
	if !errors.Is(err, ErrMissingSentinel) {
		t.Errorf("want ErrMissingSentinel, got %v", err)
	}
}

func TestSplit_BadHeader(t *testing.T) {
	t.Parallel()

	_, _, err := Split(bytes.NewReader([]byte(`{not json}"[END_SOURCE]"text`)))
	if err == nil || errors.Is(err, ErrMissingSentinel) {
		t.Errorf("want decode error, got %v", err)
	}
}

func TestSplit_HeaderNotFollowedBySentinel(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"text after array": `[{"filename":"a.pdf","score":1}]hello "[END_SOURCE]"`,
		"trailing string":  `["[END_SOURCE]"]"[END_SOURCE!"rest of the answer`,
		"leading garbage":  `x[]"[END_SOURCE]"text`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, _, err := Split(bytes.NewReader([]byte(raw)))
			if err == nil || errors.Is(err, ErrMissingSentinel) {
				t.Errorf("want framing error, got %v", err)
			}
		})
	}
}

func TestDecoder_WaitsForFullSentinel(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	for _, c := range []string{`[{"filename":"[END_SOURCE]"`, `,"score":0.7}]`, `"[END_SOU`} {
		out, err := d.Feed([]byte(c))
		if err != nil || out != nil {
			t.Fatalf("Feed(%q) = %q, %v before the boundary", c, out, err)
		}
		if d.Phase() != CitationPhase {
			t.Fatalf("Feed(%q) left CitationPhase early", c)
		}
	}
	out, err := d.Feed([]byte(`RCE]"answer`))
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if string(out) != "answer" {
		t.Errorf("text = %q", out)
	}
	if got := d.Citations(); len(got) != 1 || got[0].Filename != "[END_SOURCE]" {
		t.Errorf("citations: %+v", got)
	}
}

func TestDecoder_TransitionsOnce(t *testing.T) {
	t.Parallel()

	d := NewDecoder()
	if d.Phase() != CitationPhase {
		t.Fatalf("initial phase: %v", d.Phase())
	}

	chunks := []string{`[]"[END_`, `SOURCE]"Hel`, `lo "[END_SOURCE]"`}
	var text []byte
	for _, c := range chunks {
		out, err := d.Feed([]byte(c))
		if err != nil {
			t.Fatalf("Feed(%q): %v", c, err)
		}
		text = append(text, out...)
	}

	if d.Phase() != TextPhase {
		t.Errorf("phase: %v", d.Phase())
	}
	if string(text) != `Hello "[END_SOURCE]"` {
		t.Errorf("text = %q", text)
	}
	if d.Citations() == nil || len(d.Citations()) != 0 {
		t.Errorf("citations: %#v", d.Citations())
	}
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	if CitationPhase.String() != "citations" || TextPhase.String() != "text" {
		t.Error("unexpected phase names")
	}
}
