package tokenizer

import (
	"strings"
	"sync"
	"testing"
)

func TestCount(t *testing.T) {
	t.Parallel()

	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	cases := map[string]int{
		"":            0,
		"hello":       1,
		"hello world": 2,
	}
	for in, want := range cases {
		if got := c.Count(in); got != want {
			t.Errorf("Count(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestCount_Monotonic(t *testing.T) {
	t.Parallel()

	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	short := c.Count("The refund window is 30 days.")
	long := c.Count(strings.Repeat("The refund window is 30 days. ", 10))
	if long <= short {
		t.Errorf("longer text should cost more tokens: %d <= %d", long, short)
	}
}

func TestForModel_Fallback(t *testing.T) {
	t.Parallel()

	known, err := ForModel("gpt-3.5-turbo")
	if err != nil {
		t.Fatalf("ForModel(gpt-3.5-turbo): %v", err)
	}
	if known.Name() != "gpt-3.5-turbo" {
		t.Errorf("Name: got %q", known.Name())
	}

	unknown, err := ForModel("my-finetune-v2")
	if err != nil {
		t.Fatalf("ForModel(unknown): %v", err)
	}
	if unknown.Name() != DefaultEncoding {
		t.Errorf("unknown models should fall back to %s, got %q", DefaultEncoding, unknown.Name())
	}

	text := "Question: what is covered?"
	if known.Count(text) != unknown.Count(text) {
		t.Error("gpt-3.5-turbo and the default encoding should agree")
	}
}

func TestCounter_Concurrent(t *testing.T) {
	t.Parallel()

	c, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	want := c.Count("concurrent counting")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := c.Count("concurrent counting"); got != want {
				t.Errorf("Count: got %d, want %d", got, want)
			}
		}()
	}
	wg.Wait()
}
