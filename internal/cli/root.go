// Package cli implements certguide-admin, the offline maintenance tool for
// the retrieval index.
package cli

import (
	"github.com/spf13/cobra"

	"certguide/internal/app"
	"certguide/internal/bootstrap"
	"certguide/internal/config"
	"certguide/internal/platform/logger"
)

var (
	// ragService is built lazily so tests can install their own.
	ragService *app.RAGService
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "certguide-admin",
	Short: "Maintain the certification guide retrieval index",
	Long: `certguide-admin works on the same knowledge base and vector index
snapshot as the API server, without MySQL, Redis or RabbitMQ.`,
	SilenceUsage:      true,
	PersistentPreRunE: initRAG,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

func Execute() error {
	return rootCmd.Execute()
}

func initRAG(cmd *cobra.Command, _ []string) error {
	if ragService != nil {
		return nil
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Log.Format)
	rag, err := bootstrap.NewRAG(cfg, log)
	if err != nil {
		return err
	}
	ragService = rag
	return nil
}
