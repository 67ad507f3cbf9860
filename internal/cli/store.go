package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	statsJSON    bool
	clearConfirm bool
	similarLimit int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge base and vector index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		kb := ragService.KnowledgeBase().Stats()
		vs := ragService.Stats()
		if statsJSON {
			return printJSON(cmd, map[string]any{"knowledge_base": kb, "vector_store": vs})
		}
		cmd.Printf("knowledge base: %d faqs, %d documentation entries, %d categories\n", kb.TotalFAQs, kb.TotalDocuments, kb.Categories)
		cmd.Printf("vector index:   %d active, %d deleted, fitted=%t, vocabulary=%d\n",
			vs.ActiveDocuments, vs.DeletedDocuments, vs.Fitted, vs.VocabularySize)
		return nil
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Drop deleted documents and refit the vector index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := ragService.Rebuild(); err != nil {
			return err
		}
		cmd.Printf("rebuilt: %d active documents\n", ragService.Stats().ActiveDocuments)
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every document from the vector index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !clearConfirm {
			return errors.New("refusing to clear without --yes")
		}
		if err := ragService.Clear(); err != nil {
			return err
		}
		cmd.Println("vector index cleared")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]",
	Short: "Mark a vector index document as deleted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ragService.DeleteDocument(args[0]); err != nil {
			return err
		}
		cmd.Printf("deleted %s\n", args[0])
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar [document-id]",
	Short: "List documents similar to an indexed document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hits, err := ragService.Similar(args[0], similarLimit)
		if err != nil {
			return err
		}
		for _, h := range hits {
			cmd.Printf("[%d] %.3f  %s  %s\n", h.Rank, h.Score, h.Document.ID, snippet(h.Document.Text, 80))
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output statistics as JSON")
	clearCmd.Flags().BoolVarP(&clearConfirm, "yes", "y", false, "confirm clearing the index")
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 5, "maximum number of results")
	rootCmd.AddCommand(statsCmd, rebuildCmd, clearCmd, deleteCmd, similarCmd)
}
