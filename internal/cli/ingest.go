package cli

import (
	"github.com/spf13/cobra"
)

var ingestJSON bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [pdf...]",
	Short: "Extract, chunk and index PDF files",
	Long: `Ingests each PDF into the vector index and saves the snapshot.
Re-ingesting a file with identical content replaces its earlier chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the report as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	report, err := ragService.Ingest(cmd.Context(), args)
	if report != nil {
		if ingestJSON {
			if jerr := printJSON(cmd, report); jerr != nil {
				return jerr
			}
		} else {
			for _, src := range report.ProcessedSources {
				cmd.Printf("ok    %s\n", src)
			}
			for _, e := range report.Errors {
				cmd.Printf("fail  %s: %s\n", e.Source, e.Error)
			}
			cmd.Printf("%d chunks added, %d superseded\n", report.ChunksAdded, report.Superseded)
		}
	}
	return err
}
