package retrievo

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "retrievo",
		Short: "Retrievo: hybrid retrieval orchestrator",
		Long: `Retrievo orchestrates retrieval across a relational store, a full-text
keyword index and a vector index. It selects a retrieval strategy from live
engine health, protects every engine call with circuit breakers and
retries, keeps the stores synchronized through a queued worker pool, and
caches query responses.`,
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./retrievo.yaml)")
}
