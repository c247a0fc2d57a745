// Command deepscout runs a research workflow from the command line: it wires
// the scheduler, research manager, and collaborators from configuration,
// executes one research task, and prints the report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/deepscout/deepscout/internal/config"
	"github.com/deepscout/deepscout/internal/events"
	"github.com/deepscout/deepscout/internal/llm"
	"github.com/deepscout/deepscout/internal/persistence"
	"github.com/deepscout/deepscout/internal/research"
	"github.com/deepscout/deepscout/internal/scheduler"
)

func main() {
	var (
		topic      = flag.String("topic", "", "research topic (required)")
		mode       = flag.String("mode", "", "workflow mode: linear, graph, or multi_agent")
		configPath = flag.String("config", "", "path to a config file (overrides conventional paths)")
		followUp   = flag.String("follow-up", "", "previous research id to seed a continuous run")
		verbose    = flag.Bool("verbose", false, "enable debug logging")
	)
	flag.Parse()

	if err := run(*topic, *mode, *configPath, *followUp, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(topic, modeName, configPath, followUp string, verbose bool) error {
	if topic == "" {
		return fmt.Errorf("a -topic is required")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load("", configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}

	mode, err := research.ParseMode(firstNonEmpty(modeName, cfg.Research.DefaultMode))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	tasks := scheduler.New(scheduler.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		WorkerPoolSize:     cfg.Scheduler.WorkerPoolSize,
		DefaultMaxRetries:  cfg.Scheduler.DefaultMaxRetries,
		DefaultRetryDelay:  cfg.Scheduler.RetryDelay(),
		DefaultTimeout:     cfg.Scheduler.Timeout(),
	}, bus, logger)

	client := llm.NewOpenAI(os.Getenv(cfg.Provider.APIKeyEnv), cfg.Provider.Model, cfg.Provider.BaseURL)
	searcher := llm.NewHTTPSearcher(cfg.Provider.SearchEndpoint, os.Getenv(cfg.Provider.SearchKeyEnv))
	tk := research.NewToolkit(searcher, client, logger)

	rm := research.NewManager(research.ManagerConfig{
		MaxConcurrentResearch: cfg.Research.MaxConcurrentResearch,
	}, tasks, tk, logger)

	var store *persistence.Store
	if cfg.SnapshotPath != "" {
		store, err = persistence.NewStore(ctx, cfg.SnapshotPath)
		if err != nil {
			return fmt.Errorf("opening snapshot store: %w", err)
		}
		defer store.Close()
		persistence.NewRecorder(store, tasks, rm, logger).Start(ctx)
	}

	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("deepscout"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nc.Drain()
		events.NewForwarder(nc, bus, logger).Start(ctx)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rm.Shutdown(shutdownCtx); err != nil {
			logger.Warn("research manager shutdown", "error", err)
		}
		if err := tasks.Shutdown(shutdownCtx); err != nil {
			logger.Warn("task manager shutdown", "error", err)
		}
	}()

	params := research.CreateParams{
		Topic: topic,
		Mode:  mode,
		Config: research.Config{
			SectionCount:  cfg.Research.SectionCount,
			Depth:         cfg.Research.Depth,
			SubAgents:     cfg.Research.SubAgents,
			SearchResults: cfg.Research.SearchResults,
		},
		Priority: scheduler.PriorityNormal,
	}

	if followUp != "" {
		// Each invocation is a fresh process, so the previous run exists
		// only in the snapshot store.
		if store == nil {
			return fmt.Errorf("-follow-up requires snapshot_path in the configuration")
		}
		snap, err := store.GetResearch(ctx, followUp)
		if err != nil {
			return fmt.Errorf("loading previous research %q: %w", followUp, err)
		}
		if snap.Report == nil {
			return fmt.Errorf("previous research %q finished without a report", followUp)
		}
		params.Prior = snap.Report
		if modeName == "" {
			if prevMode, err := research.ParseMode(snap.Mode); err == nil {
				params.Mode = prevMode
			}
		}
	}

	id, err := rm.Create(params)
	if err != nil {
		return err
	}

	logger.Info("research started", "research_id", id, "topic", topic, "mode", mode.String())

	report, err := rm.ExecuteAndWait(ctx, id)
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(r *research.Report) {
	fmt.Printf("# %s\n\n", r.Topic)
	if r.Summary != "" {
		fmt.Printf("%s\n\n", r.Summary)
	}
	for _, sec := range r.Sections {
		fmt.Printf("## %s\n\n%s\n\n", sec.Title, sec.Content)
	}
	if len(r.Sources) > 0 {
		fmt.Println("## Sources")
		fmt.Println()
		for _, src := range r.Sources {
			fmt.Printf("- %s\n", src)
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
