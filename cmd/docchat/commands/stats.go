package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/54b3r/docchat-go/internal/config"
	"github.com/54b3r/docchat-go/internal/descriptor"
	"github.com/54b3r/docchat-go/internal/index"
)

// NewStatsCmd constructs the `docchat stats` command, which prints the
// namespace and vector counts of a Pinecone index.
func NewStatsCmd() *cobra.Command {
	var indexURL, apiKey string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show namespace and vector counts of the index",
		Long: `Show the namespaces, vector counts, dimension and fullness of a Pinecone
index. The index defaults to PINECONE_INDEX_URL and PINECONE_API_KEY.

Examples:
  docchat stats
  docchat stats --json
  docchat stats --index-url https://docs-abc123.svc.us-east1-gcp.pinecone.io`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := config.FromEnv()
			if settings.IndexBackend != config.DefaultIndexBackend {
				return errors.New("stats: only the pinecone backend reports statistics")
			}
			if indexURL == "" {
				indexURL = settings.PineconeIndexURL
			}
			if apiKey == "" {
				apiKey = settings.PineconeKey
			}

			d, err := descriptor.Resolve(indexURL, apiKey)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			stats, err := index.NewPinecone().Stats(cmd.Context(), d)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(cmd.OutOrStdout(), d.IndexName, stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&indexURL, "index-url", "", "Index URL (overrides PINECONE_INDEX_URL)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Index API key (overrides PINECONE_API_KEY)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw statistics as JSON")

	return cmd
}

// printStats renders stats as a short table, namespaces sorted by name.
func printStats(w io.Writer, name string, stats *index.IndexStats) {
	bold := color.New(color.Bold)
	faint := color.New(color.Faint)

	bold.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  dimension  %d\n", stats.Dimension)
	fmt.Fprintf(w, "  vectors    %d\n", stats.TotalVectorCount)
	fmt.Fprintf(w, "  fullness   %.1f%%\n", stats.IndexFullness*100)

	if len(stats.Namespaces) == 0 {
		faint.Fprintln(w, "  no namespaces")
		return
	}
	names := make([]string, 0, len(stats.Namespaces))
	for ns := range stats.Namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)

	bold.Fprintln(w, "  namespaces")
	for _, ns := range names {
		label := ns
		if label == "" {
			label = "(default)"
		}
		fmt.Fprintf(w, "    %-24s %d\n", label, stats.Namespaces[ns].VectorCount)
	}
}
