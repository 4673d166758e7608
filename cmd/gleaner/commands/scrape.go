package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gleanerhq/gleaner/internal/browser"
	"github.com/gleanerhq/gleaner/internal/fetch"
	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/models"
	"github.com/gleanerhq/gleaner/internal/output"
	"github.com/gleanerhq/gleaner/internal/pipeline"
	"github.com/gleanerhq/gleaner/internal/store/memory"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape one source page now and write the extracted articles",
	Long: `Scrape a single source page immediately: discover article links, fetch
and extract each article, and write the results. Nothing is persisted; the
run uses an ephemeral in-memory store.

Examples:
  # Extract articles linked from a section page
  gleaner scrape -u "https://example.com/cybersecurity"

  # Narrow discovery and stream results as JSONL
  gleaner scrape -u "https://example.com/news" \
      --include "/article/" --format jsonl -o articles.jsonl

  # Force the headless tier for a bot-protected site
  gleaner scrape -u "https://example.com/news" --method headless`,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	flags := scrapeCmd.Flags()
	flags.StringP("url", "u", "", "source page URL (required)")
	flags.String("source-name", "", "source label in logs and output (default: URL host)")

	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.String("format", "json", "output format: json, jsonl, yaml")
	flags.Bool("compact", false, "compact output for formats that pretty-print")

	flags.String("method", "auto", "fetch tier: auto, http, headless")
	flags.Duration("timeout", 0, "per-page fetch timeout (default: config request_timeout)")
	flags.StringSlice("include", nil, "substring pattern a link URL must contain (repeatable)")
	flags.StringSlice("exclude", nil, "substring pattern that rejects a link URL (repeatable)")
	flags.Int("max-links", 0, "cap on discovered links (default: config max_links)")
	flags.String("ai-context", "", "article focus for the model link filter (enables it)")

	_ = scrapeCmd.MarkFlagRequired("url")
}

func runScrape(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
	})

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pageURL, _ := cmd.Flags().GetString("url")
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("invalid source URL %q", pageURL)
	}
	name, _ := cmd.Flags().GetString("source-name")
	if name == "" {
		name = parsed.Host
	}

	methodStr, _ := cmd.Flags().GetString("method")
	method, err := parseFetchMethod(methodStr)
	if err != nil {
		return err
	}

	formatStr, _ := cmd.Flags().GetString("format")
	format, err := output.ParseFormat(formatStr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := memory.New()
	if err := mem.Create(ctx, &models.Source{Name: name, URL: pageURL, Active: true}); err != nil {
		return err
	}

	llmCfg := llm.DefaultConfig()
	llmCfg.Provider = cfg.LLM.Provider
	llmCfg.Model = cfg.LLM.Model
	llmCfg.APIKey = cfg.LLM.APIKey
	llmCfg.MaxHTML = cfg.LLM.MaxHTMLBytes
	llmClient, err := llm.New(llmCfg)
	if err != nil {
		return err
	}

	mgr := browser.New(browser.Config{
		BinaryPath:          cfg.Browser.Path,
		Headful:             cfg.Browser.Headful,
		Display:             cfg.Browser.Display,
		PageTimeout:         cfg.PageTimeout,
		MaxPages:            cfg.PageCap,
		AdvancedFingerprint: cfg.AdvancedFingerprinting,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mgr.Shutdown(shutdownCtx); err != nil {
			logger.Warn("browser shutdown failed", "error", err)
		}
	}()

	pipeCfg := pipeline.Config{
		Concurrency:     cfg.Concurrency,
		RequestTimeout:  cfg.RequestTimeout,
		HandleDynamic:   cfg.HandleDynamic,
		ForceMethod:     method,
		IncludePatterns: cfg.Discovery.IncludePatterns,
		ExcludePatterns: cfg.Discovery.ExcludePatterns,
		MaxLinks:        cfg.MaxLinks,
		AIContext:       cfg.Discovery.AIContext,
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		pipeCfg.RequestTimeout = timeout
	}
	if include, _ := cmd.Flags().GetStringSlice("include"); len(include) > 0 {
		pipeCfg.IncludePatterns = include
	}
	if exclude, _ := cmd.Flags().GetStringSlice("exclude"); len(exclude) > 0 {
		pipeCfg.ExcludePatterns = exclude
	}
	if maxLinks, _ := cmd.Flags().GetInt("max-links"); maxLinks > 0 {
		pipeCfg.MaxLinks = maxLinks
	}
	if aiContext, _ := cmd.Flags().GetString("ai-context"); aiContext != "" {
		pipeCfg.AIContext = aiContext
	}

	pipe := pipeline.New(pipeline.Deps{
		AppType: cfg.AppType,
		LLM:     llmClient,
		Stores:  mem.Stores(),
		Fetcher: fetch.New(fetch.Config{Timeout: pipeCfg.RequestTimeout}, mgr),
	}, pipeCfg)

	logger.Info("one-shot scrape starting", "source", name, "url", pageURL)
	res, err := pipe.ScrapeSource(ctx, name)
	if err != nil {
		return err
	}

	outFile := os.Stdout
	if outPath, _ := cmd.Flags().GetString("output"); outPath != "" {
		f, err := os.Create(outPath) //#nosec G304 -- CLI tool writes to user-specified output file
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		outFile = f
	}

	var writerOpts []output.Option
	if compact, _ := cmd.Flags().GetBool("compact"); compact {
		writerOpts = append(writerOpts, output.WithCompact())
	}
	writer, err := output.NewWriter(outFile, format, writerOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = writer.Close() }()

	articles := mem.Articles()
	sort.Slice(articles, func(i, j int) bool { return articles[i].ID < articles[j].ID })
	for _, a := range articles {
		if err := writer.Write(a); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	logger.Info("one-shot scrape finished",
		"source", name,
		"processed", res.Processed,
		"saved", res.Saved,
		"skipped", res.Skipped,
		"failed", res.Failed)
	return nil
}

func parseFetchMethod(s string) (models.FetchMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "http":
		return models.FetchMethodHTTP, nil
	case "headless":
		return models.FetchMethodHeadless, nil
	default:
		return "", fmt.Errorf("unknown fetch method %q (use auto, http or headless)", s)
	}
}
