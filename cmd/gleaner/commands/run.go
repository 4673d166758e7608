package commands

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gleanerhq/gleaner/internal/browser"
	"github.com/gleanerhq/gleaner/internal/config"
	"github.com/gleanerhq/gleaner/internal/fetch"
	"github.com/gleanerhq/gleaner/internal/llm"
	"github.com/gleanerhq/gleaner/internal/logger"
	"github.com/gleanerhq/gleaner/internal/pipeline"
	"github.com/gleanerhq/gleaner/internal/scheduler"
	"github.com/gleanerhq/gleaner/internal/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ingestion daemon",
	Long: `Run the scheduler: an immediate scrape cycle over all active sources,
then one every interval (3 hours by default). The daemon exposes scheduler
status on the health endpoint and shuts down cleanly on SIGINT/SIGTERM.

Examples:
  # Daemon with the default config discovery
  gleaner run

  # One full cycle, then exit (for external cron)
  gleaner run --once`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.Bool("once", false, "run a single scrape cycle and exit")
	flags.Bool("log-text", false, "log as text instead of JSON")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logText, _ := cmd.Flags().GetBool("log-text")
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  !logText,
	})

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, closeStore, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

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

	pipe := pipeline.New(pipeline.Deps{
		AppType: cfg.AppType,
		LLM:     llmClient,
		Stores:  stores,
		Fetcher: fetch.New(fetch.Config{Timeout: cfg.RequestTimeout}, mgr),
	}, pipeline.Config{
		Concurrency:     cfg.Concurrency,
		RequestTimeout:  cfg.RequestTimeout,
		HandleDynamic:   cfg.HandleDynamic,
		IncludePatterns: cfg.Discovery.IncludePatterns,
		ExcludePatterns: cfg.Discovery.ExcludePatterns,
		MaxLinks:        cfg.MaxLinks,
		AIContext:       cfg.Discovery.AIContext,
	})

	if once, _ := cmd.Flags().GetBool("once"); once {
		logger.Info("single scrape cycle starting", "version", version.String())
		return pipe.ScrapeAll(ctx)
	}

	sched := scheduler.New(pipe, cfg.Interval())
	if err := sched.Initialize(); err != nil {
		return err
	}
	defer sched.Stop()

	health := startHealthServer(cfg, sched)

	logger.Info("gleaner daemon started",
		"version", version.String(),
		"app", cfg.AppType,
		"interval", cfg.Interval().String(),
		"store", cfg.Store.Driver,
		"llm", cfg.LLM.Provider)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if health != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = health.Shutdown(shutdownCtx)
	}
	return nil
}

// startHealthServer serves scheduler status on /healthz. Returns nil when
// the endpoint is disabled.
func startHealthServer(cfg *config.Config, sched *scheduler.Scheduler) *http.Server {
	if cfg.HealthAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		st := sched.Status()
		w.Header().Set("Content-Type", "application/json")
		if st.Degraded {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	})

	srv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health endpoint failed", "addr", cfg.HealthAddr, "error", err)
		}
	}()
	logger.Info("health endpoint listening", "addr", cfg.HealthAddr)
	return srv
}
