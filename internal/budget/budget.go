// Package budget decides which prior conversation turns accompany the system
// prompt in a completion request, and measures their token cost.
//
// Three policies exist:
//
//	none  only the system prompt is sent; the question already lives inside it
//	full  every turn is sent
//	trim  turns are kept newest-first while they fit the model's token limit
//	      minus a reserve for the response
//
// The history token count is always computed so operators can see what
// enforcement would cost before switching it on.
package budget

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	// ResponseReserve is the number of tokens kept free for the completion.
	ResponseReserve = 1000

	// charsPerToken is the conservative character-to-token ratio used by
	// HeuristicCounter.
	charsPerToken = 4
)

// Policy names accepted by Parse.
const (
	ModeNone = "none"
	ModeFull = "full"
	ModeTrim = "trim"
)

// Counter measures text in model tokens.
type Counter interface {
	Count(text string) int
}

// HeuristicCounter estimates 1 token per 4 characters. It is the fallback
// when no BPE encoding can be loaded.
type HeuristicCounter struct{}

// Count returns a rough token count for s.
func (HeuristicCounter) Count(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Policy selects the prior turns to send with the system prompt.
type Policy interface {
	// Name returns the policy's configuration name.
	Name() string

	// Select returns the subset of turns to send, oldest first. turns are the
	// prior turns only; the current question lives in the system prompt.
	// promptTokens is the cost of the system prompt; tokenLimit is the
	// model's context size.
	Select(turns []*schema.Message, promptTokens, tokenLimit int) []*schema.Message
}

// Parse returns the Policy named mode. An empty mode selects ModeNone.
func Parse(mode string, c Counter) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeNone:
		return nonePolicy{}, nil
	case ModeFull:
		return fullPolicy{}, nil
	case ModeTrim:
		if c == nil {
			c = HeuristicCounter{}
		}
		return trimPolicy{counter: c}, nil
	default:
		return nil, fmt.Errorf("budget: unknown history policy %q (valid values: none, full, trim)", mode)
	}
}

// HistoryTokens returns the summed content token cost of turns.
func HistoryTokens(c Counter, turns []*schema.Message) int {
	total := 0
	for _, m := range turns {
		total += c.Count(m.Content)
	}
	return total
}

type nonePolicy struct{}

func (nonePolicy) Name() string { return ModeNone }

func (nonePolicy) Select([]*schema.Message, int, int) []*schema.Message { return nil }

type fullPolicy struct{}

func (fullPolicy) Name() string { return ModeFull }

func (fullPolicy) Select(turns []*schema.Message, _, _ int) []*schema.Message { return turns }

type trimPolicy struct {
	counter Counter
}

func (trimPolicy) Name() string { return ModeTrim }

// Select walks turns newest-first and stops at the first one that would push
// the running total past tokenLimit - ResponseReserve. The kept suffix is
// returned in its original order.
func (p trimPolicy) Select(turns []*schema.Message, promptTokens, tokenLimit int) []*schema.Message {
	used := promptTokens
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		cost := p.counter.Count(turns[i].Content)
		if used+cost+ResponseReserve > tokenLimit {
			break
		}
		used += cost
		start = i
	}
	return turns[start:]
}
