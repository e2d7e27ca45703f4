// Package tokenizer counts tokens the way the completion model will, using the
// BPE encodings published for the OpenAI model family. Encodings are loaded
// from an embedded copy, so counting never touches the network.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is used for model names the library does not recognise.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// useOfflineLoader installs the embedded BPE ranks exactly once per process.
func useOfflineLoader() {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})
}

// Counter counts tokens for one encoding. It is safe for concurrent use.
type Counter struct {
	enc  *tiktoken.Tiktoken
	name string
}

// ForModel returns a Counter for model, falling back to DefaultEncoding for
// unknown model IDs.
func ForModel(model string) (*Counter, error) {
	useOfflineLoader()

	if model != "" {
		if enc, err := tiktoken.EncodingForModel(model); err == nil {
			return &Counter{enc: enc, name: model}, nil
		}
	}

	enc, err := tiktoken.GetEncoding(DefaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load %s: %w", DefaultEncoding, err)
	}
	return &Counter{enc: enc, name: DefaultEncoding}, nil
}

// Default returns a Counter for DefaultEncoding.
func Default() (*Counter, error) {
	return ForModel("")
}

// Count returns the number of tokens in text. Special-token markers are
// counted as ordinary text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Name reports the model or encoding the Counter was built for.
func (c *Counter) Name() string { return c.name }
