// Package commands implements the CLI commands for gleaner.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gleanerhq/gleaner/internal/config"
	"github.com/gleanerhq/gleaner/internal/store"
	"github.com/gleanerhq/gleaner/internal/store/memory"
	"github.com/gleanerhq/gleaner/internal/store/sqlite"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gleaner",
	Short: "Adaptive web-content ingestion engine",
	Long: `Gleaner discovers article links on source pages, fetches each article
through a tiered HTTP/headless pipeline, extracts structured fields with
AI-assisted selector detection, and persists the results.

Examples:
  # Run the ingestion daemon over the configured sources
  gleaner run

  # Scrape one source page right now and print the articles
  gleaner scrape -u "https://example.com/cybersecurity"

  # Manage the source list
  gleaner sources add --name "Example News" --url "https://example.com/news"
  gleaner sources list`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default gleaner.yaml in . or /etc/gleaner)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress everything below error level")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		logError("%v", err)
	}
	return err
}

// loadConfig resolves the full engine configuration for a command run.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper(), cfgFile)
}

// openStores builds the store bundle for the configured driver and returns
// a close function for the underlying handle.
func openStores(cfg *config.Config) (store.Stores, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Store.DSN)
		if err != nil {
			return store.Stores{}, nil, fmt.Errorf("open store: %w", err)
		}
		return db.Stores(), func() { _ = db.Close() }, nil
	case "memory":
		return memory.New().Stores(), func() {}, nil
	default:
		return store.Stores{}, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// logError prints an error message to stderr.
func logError(format string, args ...any) {
	fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: "+format+"\n", args...)
}
