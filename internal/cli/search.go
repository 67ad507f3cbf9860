package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"certguide/internal/retrieval"
)

var (
	searchLimit      int
	searchJSON       bool
	contextMaxLength int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the knowledge base and the vector index",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var contextCmd = &cobra.Command{
	Use:   "context [query]",
	Short: "Print the prompt context built for a query",
	Args:  cobra.ExactArgs(1),
	RunE:  runContext,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", retrieval.DefaultTopK, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	contextCmd.Flags().IntVar(&contextMaxLength, "max-length", 0, "context length limit in characters (0 uses the configured limit)")
	rootCmd.AddCommand(searchCmd, contextCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	results := ragService.Retrieve(args[0], searchLimit)
	if searchJSON {
		return printJSON(cmd, results)
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for _, r := range results {
		cmd.Printf("[%d] %-15s %.3f  %s\n", r.Rank(), r.Type(), r.Score(), r.Title())
		cmd.Printf("    %s\n", snippet(r.Content(), 120))
	}
	return nil
}

func runContext(cmd *cobra.Command, args []string) error {
	out := ragService.ContextForQuery(args[0], contextMaxLength)
	if out == "" {
		cmd.Println("No relevant context.")
		return nil
	}
	cmd.Println(out)
	return nil
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
