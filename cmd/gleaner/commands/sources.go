package commands

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/output"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage the scrape source list",
	Long: `List, add, and toggle the sources the daemon scrapes.

Examples:
  gleaner sources list
  gleaner sources add --name "Example News" --url "https://example.com/news"
  gleaner sources disable 3`,
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured sources",
	RunE:  runSourcesList,
}

var sourcesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a source",
	RunE:  runSourcesAdd,
}

var sourcesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Include a source in scheduled runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(cmd, args[0], true)
	},
}

var sourcesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Exclude a source from scheduled runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSourceActive(cmd, args[0], false)
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.AddCommand(sourcesListCmd, sourcesAddCmd, sourcesEnableCmd, sourcesDisableCmd)

	sourcesListCmd.Flags().String("format", "json", "output format: json, jsonl, yaml")

	addFlags := sourcesAddCmd.Flags()
	addFlags.String("name", "", "source name (required)")
	addFlags.String("url", "", "source page URL (required)")
	addFlags.Bool("disabled", false, "create the source excluded from scheduled runs")
	_ = sourcesAddCmd.MarkFlagRequired("name")
	_ = sourcesAddCmd.MarkFlagRequired("url")
}

func initSourcesLogger() {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
	})
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	initSourcesLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, closeStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sources, err := stores.Sources.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Name == sources[j].Name {
			return sources[i].ID < sources[j].ID
		}
		return sources[i].Name < sources[j].Name
	})

	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		return err
	}
	writer, err := output.NewWriter(os.Stdout, format)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	for _, src := range sources {
		if err := writer.Write(src); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
	return nil
}

func runSourcesAdd(cmd *cobra.Command, args []string) error {
	initSourcesLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("name")
	rawURL, _ := cmd.Flags().GetString("url")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid source URL %q", rawURL)
	}
	disabled, _ := cmd.Flags().GetBool("disabled")

	stores, closeStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	src := &models.Source{Name: name, URL: rawURL, Active: !disabled}
	if err := stores.Sources.Create(cmd.Context(), src); err != nil {
		return fmt.Errorf("add source: %w", err)
	}

	logger.Info("source added", "id", src.ID, "name", src.Name, "url", src.URL, "active", src.Active)
	return nil
}

func setSourceActive(cmd *cobra.Command, rawID string, active bool) error {
	initSourcesLogger()

	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid source id %q", rawID)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, closeStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := stores.Sources.SetActive(cmd.Context(), id, active); err != nil {
		return fmt.Errorf("update source %d: %w", id, err)
	}

	logger.Info("source updated", "id", id, "active", active)
	return nil
}
