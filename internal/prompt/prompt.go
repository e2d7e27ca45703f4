// Package prompt fills the system prompt template with the user's question
// and the retrieved context, and measures the result in model tokens.
package prompt

import (
	"strings"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Template placeholders. Only the first occurrence of each is replaced.
const (
	QuestionPlaceholder = "{question}"
	ContextPlaceholder  = "{context}"
)

// DefaultTemplate is the built-in system prompt. DEFAULT_SYSTEM_PROMPT
// replaces it when set.
const DefaultTemplate = `You are an AI assistant providing helpful advice. You are given the following extracted parts of a long document and a question. Provide a conversational answer based on the context provided.
  You should only provide hyperlinks that reference the context below. Do NOT make up hyperlinks.
  If you can't find the answer in the context below, just say "Hmm, I'm not sure." Don't try to make up an answer.
  If the question is not related to the context, politely respond that you are tuned to only answer questions that are related to the context.

  Question: {question}
  =========
  {context}
  =========
  Answer in Markdown:`

// contextSeparator joins passages inside the context block.
const contextSeparator = "\n\n"

// TokenCounter measures text in model tokens.
type TokenCounter interface {
	Count(text string) int
}

// Assembled is the system message sent to the completion service.
type Assembled struct {
	// SystemContent is the filled template.
	SystemContent string

	// TokenCount is the token cost of SystemContent.
	TokenCount int
}

// Assembler fills one template. It holds no per-request state and is safe
// for concurrent use.
type Assembler struct {
	template string
	counter  TokenCounter
}

// NewAssembler returns an Assembler for template. An empty template selects
// DefaultTemplate.
func NewAssembler(template string, counter TokenCounter) *Assembler {
	if template == "" {
		template = DefaultTemplate
	}
	return &Assembler{template: template, counter: counter}
}

// Assemble substitutes question and the passage texts into the template.
// Passages are joined in the order given. Substituted values are inserted
// verbatim and never re-scanned for placeholders.
func (a *Assembler) Assemble(question string, passages []rag.Passage) Assembled {
	texts := make([]string, len(passages))
	for i, p := range passages {
		texts[i] = p.Text
	}

	content := fill(a.template, question, strings.Join(texts, contextSeparator))
	return Assembled{
		SystemContent: content,
		TokenCount:    a.counter.Count(content),
	}
}

// Template returns the template text in use.
func (a *Assembler) Template() string { return a.template }

// fill replaces the first {question} and the first {context} in tmpl. Both
// positions are located in the original template, so a question containing
// "{context}" is not mistaken for the context slot.
func fill(tmpl, question, context string) string {
	type slot struct {
		at, width int
		value     string
	}

	var slots []slot
	if i := strings.Index(tmpl, QuestionPlaceholder); i >= 0 {
		slots = append(slots, slot{i, len(QuestionPlaceholder), question})
	}
	if i := strings.Index(tmpl, ContextPlaceholder); i >= 0 {
		slots = append(slots, slot{i, len(ContextPlaceholder), context})
	}
	if len(slots) == 2 && slots[1].at < slots[0].at {
		slots[0], slots[1] = slots[1], slots[0]
	}

	var b strings.Builder
	b.Grow(len(tmpl) + len(question) + len(context))
	last := 0
	for _, s := range slots {
		b.WriteString(tmpl[last:s.at])
		b.WriteString(s.value)
		last = s.at + s.width
	}
	b.WriteString(tmpl[last:])
	return b.String()
}
