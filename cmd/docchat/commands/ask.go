package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/completion"
	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/logging"
	"github.com/54b3r/docchat-go/internal/pipeline"
	"github.com/54b3r/docchat-go/internal/rag"
	"github.com/54b3r/docchat-go/internal/store"
)

// defaultHistoryTurns is how many stored turns a follow-up question carries.
const defaultHistoryTurns = 10

// askOptions holds the flags of `docchat ask`.
type askOptions struct {
	conversation string
	newConv      bool
	reset        bool
	historyTurns int
	model        string
	tokenLimit   int
	indexURL     string
	namespace    string
	verbose      bool
}

// NewAskCmd constructs the `docchat ask` command, which runs one question
// through the pipeline and streams the answer to stdout, followed by the
// sources it was grounded on.
func NewAskCmd() *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed documents",
		Long: `Ask a question about the documents in the configured vector index.

With --conversation the question joins a stored conversation and earlier
turns are sent according to HISTORY_POLICY (none, full or trim). Use --new
to start a conversation with a fresh ID.

Examples:
  docchat ask "what is the refund window?"
  docchat ask --new "what does the warranty cover?"
  docchat ask --conversation 3f1c... "and for refurbished items?"
  docchat ask --index-url https://docs-abc123.svc.us-east1-gcp.pinecone.io "summarise section 2"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.conversation, "conversation", "c", "", "Conversation ID to continue")
	cmd.Flags().BoolVar(&opts.newConv, "new", false, "Start a new stored conversation")
	cmd.Flags().BoolVar(&opts.reset, "reset", false, "Clear the conversation before asking")
	cmd.Flags().IntVar(&opts.historyTurns, "history", defaultHistoryTurns, "Stored turns to load for a conversation")
	cmd.Flags().StringVarP(&opts.model, "model", "m", "", "Chat model (overrides OPENAI_MODEL)")
	cmd.Flags().IntVar(&opts.tokenLimit, "token-limit", 0, "Context size of the chat model")
	cmd.Flags().StringVar(&opts.indexURL, "index-url", "", "Index URL (overrides PINECONE_INDEX_URL)")
	cmd.Flags().StringVarP(&opts.namespace, "namespace", "n", "", "Index namespace (overrides PINECONE_NAMESPACE)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print pipeline stages to stderr")
	cmd.MarkFlagsMutuallyExclusive("conversation", "new")

	return cmd
}

// runAsk executes one question. Answer text goes to out as it arrives;
// sources and the conversation ID follow it.
func runAsk(ctx context.Context, out, errOut io.Writer, question string, opts askOptions) error {
	log := logging.FromContext(ctx)
	settings := config.FromEnv()

	handlers, shutdown := setupTracing(ctx, settings, log)
	defer shutdown()

	var observer pipeline.Observer
	if opts.verbose {
		observer = stageReporter(errOut)
	}

	st, err := buildStack(settings, log, observer, handlers...)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	defer st.Close()

	convID := opts.conversation
	if opts.newConv {
		convID = uuid.NewString()
	}

	var history store.ConversationStore
	var prior []pipeline.Turn
	if convID != "" {
		hs, err := openHistory(settings)
		if err != nil {
			return fmt.Errorf("ask: %w", err)
		}
		defer func() { _ = hs.Close() }()
		history = hs

		if opts.reset {
			if err := hs.Clear(ctx, convID); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
		}
		if prior, err = loadTurns(ctx, hs, convID, opts.historyTurns); err != nil {
			return fmt.Errorf("ask: %w", err)
		}
	}

	res, err := st.orchestrator.Run(ctx, pipeline.Request{
		Model:    pipeline.Model{ID: opts.model, TokenLimit: opts.tokenLimit},
		Messages: append(prior, pipeline.Turn{Role: pipeline.RoleUser, Content: question}),
		Index:    pipeline.IndexTarget{IndexURL: opts.indexURL, Namespace: opts.namespace},
	})
	if err != nil {
		return fmt.Errorf("ask: %s failed: %w", pipeline.StageOf(err), err)
	}
	defer res.Stream.Close()

	citations, text, err := completion.Split(res.Stream)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	var answer strings.Builder
	if _, err := io.Copy(io.MultiWriter(out, &answer), text); err != nil {
		return fmt.Errorf("ask: stream interrupted: %w", err)
	}
	fmt.Fprintln(out)
	printSources(out, citations)

	log.Debug("ask complete",
		slog.Int("prompt_tokens", res.PromptTokens),
		slog.Int("history_tokens", res.HistoryTokens),
		slog.Int("sent_turns", res.SentTurns),
		slog.Int("answer_bytes", answer.Len()),
	)

	if history == nil {
		return nil
	}
	if err := history.Append(ctx, convID, store.RoleUser, question, nil); err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	if err := history.Append(ctx, convID, store.RoleAssistant, answer.String(), citations); err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	color.New(color.Faint).Fprintf(out, "conversation: %s\n", convID)
	return nil
}

// loadTurns returns the last n stored turns of convID as pipeline turns.
func loadTurns(ctx context.Context, cs store.ConversationStore, convID string, n int) ([]pipeline.Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	stored, err := cs.Recent(ctx, convID, n)
	if err != nil {
		return nil, err
	}
	turns := make([]pipeline.Turn, 0, len(stored)+1)
	for _, t := range stored {
		turn := pipeline.Turn{Role: string(t.Role), Content: t.Content}
		if len(t.Citations) > 0 {
			encoded, err := json.Marshal(t.Citations)
			if err != nil {
				return nil, fmt.Errorf("encode citations: %w", err)
			}
			turn.Citations = string(encoded)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// printSources lists the citations an answer was grounded on.
func printSources(w io.Writer, citations []rag.Citation) {
	if len(citations) == 0 {
		return
	}
	heading := color.New(color.FgCyan, color.Bold)
	faint := color.New(color.Faint)

	fmt.Fprintln(w)
	heading.Fprintln(w, "Sources")
	for i, c := range citations {
		fmt.Fprintf(w, "  [%d] %s ", i+1, c.Filename)
		faint.Fprintf(w, "(score %.2f)\n", c.Score)
	}
}

// stageReporter prints each pipeline transition to w.
func stageReporter(w io.Writer) pipeline.Observer {
	faint := color.New(color.Faint)
	failed := color.New(color.FgRed)
	return func(_ context.Context, from, to pipeline.State, err error) {
		if err != nil {
			failed.Fprintf(w, "%s -> %s: %v\n", from, to, err)
			return
		}
		faint.Fprintf(w, "%s -> %s\n", from, to)
	}
}
