package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/graphsight/internal/app"
	"github.com/efebarandurmaz/graphsight/internal/config"
	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/llm"
	"github.com/efebarandurmaz/graphsight/internal/metrics"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/pipeline"
)

type globalFlags struct {
	configPath string
	logLevel   string
	auditPath  string
}

type runFlags struct {
	format      string
	diagramType string
	mode        string
	maxSteps    int
	maxCost     float64
	structured  bool
	verify      bool
	jsonOut     bool
	outPath     string
	report      bool
}

func main() {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:           "graphsight",
		Short:         "Turn diagram images into Mermaid or prose by tracing them step by step",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file path (default: defaults + GRAPHSIGHT_ env)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.auditPath, "audit", "", "Write audit events as JSON lines to this file, or stderr")

	var rf runFlags
	interpretCmd := &cobra.Command{
		Use:   "interpret <image>",
		Short: "Interpret one diagram image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterpret(cmd.Context(), g, rf, args[0])
		},
	}
	addRunFlags(interpretCmd, &rf)
	interpretCmd.Flags().BoolVar(&rf.jsonOut, "json", false, "Print the full result as JSON")
	interpretCmd.Flags().StringVar(&rf.outPath, "out", "", "Write the result to a file (.yaml, .json, or raw content otherwise)")
	interpretCmd.Flags().BoolVar(&rf.report, "report", false, "Print a run summary to stderr")

	var bf runFlags
	var concurrency int
	batchCmd := &cobra.Command{
		Use:   "batch <image>...",
		Short: "Interpret several images concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd.Context(), g, bf, concurrency, args)
		},
	}
	addRunFlags(batchCmd, &bf)
	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel traversals (default: engine.concurrency)")
	batchCmd.Flags().BoolVar(&bf.jsonOut, "json", false, "Print the batch report as JSON")
	batchCmd.Flags().StringVar(&bf.outPath, "out", "", "Directory for per-image results")

	validateCmd := &cobra.Command{
		Use:   "validate <file.mmd>",
		Short: "Check Mermaid code with the official parser (needs Node.js)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), g, args[0])
		},
	}

	var sf runFlags
	var topK int
	similarCmd := &cobra.Command{
		Use:   "similar <image>",
		Short: "Interpret an image and list the most similar indexed diagrams",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimilar(cmd.Context(), g, sf, topK, args[0])
		},
	}
	addRunFlags(similarCmd, &sf)
	similarCmd.Flags().IntVar(&topK, "top", 5, "Number of matches")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			printProviders()
		},
	}

	rootCmd.AddCommand(interpretCmd, batchCmd, validateCmd, similarCmd, providersCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringVar(&f.format, "format", "mermaid", "Output format: mermaid or natural_language")
	cmd.Flags().StringVar(&f.diagramType, "type", "auto", "Diagram type: auto, flowchart, sequence, state")
	cmd.Flags().StringVar(&f.mode, "mode", "", "Traversal: dfs or bfs (default: engine.traversal)")
	cmd.Flags().IntVar(&f.maxSteps, "max-steps", 0, "Maximum oracle-backed steps (default: engine.max_steps)")
	cmd.Flags().Float64Var(&f.maxCost, "max-cost", 0, "Stop exploring once this many USD are spent")
	cmd.Flags().BoolVar(&f.structured, "structured", false, "Render flowcharts from the trace without a refinement call")
	cmd.Flags().BoolVar(&f.verify, "verify-edges", false, "Re-check every explored node's edges after the crawl (flowcharts)")
}

// loadConfig reads configuration and applies command-line overrides.
func loadConfig(g globalFlags, f runFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if f.mode != "" {
		cfg.Engine.Traversal = f.mode
	}
	if f.maxSteps > 0 {
		cfg.Engine.MaxSteps = f.maxSteps
	}
	if f.maxCost > 0 {
		cfg.Engine.MaxCost = f.maxCost
	}
	if f.structured {
		cfg.Engine.Structured = true
	}
	if f.verify {
		cfg.Engine.Audit = true
	}
	return cfg, nil
}

func build(ctx context.Context, g globalFlags, f runFlags) (*app.App, error) {
	cfg, err := loadConfig(g, f)
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)

	var opts []app.Option
	if g.auditPath != "" {
		audit, err := observability.NewAuditLogger(&observability.AuditConfig{Enabled: true, OutputPath: g.auditPath})
		if err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
		opts = append(opts, app.WithAudit(audit))
	}
	return app.New(ctx, cfg, logger, opts...)
}

func request(path string, f runFlags) (pipeline.Request, error) {
	img, err := diagram.LoadImage(path)
	if err != nil {
		return pipeline.Request{}, err
	}
	format, err := diagram.ParseOutputFormat(f.format)
	if err != nil {
		return pipeline.Request{}, err
	}
	t, err := parseTypeFlag(f.diagramType)
	if err != nil {
		return pipeline.Request{}, err
	}
	return pipeline.Request{Image: img, Format: format, Type: t}, nil
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("shutdown", "error", err)
	}
}

func runInterpret(ctx context.Context, g globalFlags, f runFlags, path string) error {
	req, err := request(path, f)
	if err != nil {
		return err
	}
	a, err := build(ctx, g, f)
	if err != nil {
		return err
	}
	defer closeApp(a)

	res, err := a.Pipeline.Run(ctx, req)
	if err != nil {
		return err
	}
	if res.IsPartial {
		a.Logger.Warn("result is partial", "reason", res.Failure, "steps", res.Steps)
	}

	if f.outPath != "" {
		if err := writeResult(f.outPath, res); err != nil {
			return err
		}
		if audit := a.Audit(); audit != nil {
			audit.LogResultExport(ctx, res.RunID, f.outPath, len(res.Content))
		}
		fmt.Fprintf(os.Stderr, "Result written to %s\n", f.outPath)
	}
	switch {
	case f.jsonOut:
		data, err := encodeResult(".json", res)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case f.outPath == "":
		fmt.Println(res.Content)
	}
	if f.report {
		metrics.FromResult(path, res, nil).PrintSummary(os.Stderr)
	}
	return nil
}

func runBatch(ctx context.Context, g globalFlags, f runFlags, concurrency int, paths []string) error {
	var reqs []pipeline.Request
	var report metrics.BatchReport
	for _, p := range paths {
		req, err := request(p, f)
		if err != nil {
			report.Add(metrics.FromResult(p, nil, err))
			continue
		}
		reqs = append(reqs, req)
	}

	a, err := build(ctx, g, f)
	if err != nil {
		return err
	}
	defer closeApp(a)
	if concurrency <= 0 {
		concurrency = a.Config.Engine.Concurrency
	}

	batchID := uuid.NewString()
	start := time.Now()
	audit := a.Audit()
	if audit != nil {
		audit.LogBatchStart(ctx, batchID, len(paths))
	}

	for _, item := range a.Pipeline.InterpretBatch(ctx, reqs, concurrency) {
		report.Add(metrics.FromResult(item.Image, item.Result, item.Err))
		if item.Err != nil || f.outPath == "" {
			continue
		}
		if err := writeResult(batchOutPath(f.outPath, item.Image, item.Result.Format), item.Result); err != nil {
			return err
		}
	}

	if audit != nil {
		audit.LogBatchEnd(ctx, batchID, time.Since(start), report.Succeeded+report.Partial, report.Failed)
	}

	if f.jsonOut {
		data, err := encodeResult(".json", &report)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		report.PrintSummary(os.Stdout)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d images failed", report.Failed, len(paths))
	}
	return nil
}

func runValidate(ctx context.Context, g globalFlags, path string) error {
	code, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(g, runFlags{})
	if err != nil {
		return err
	}
	b, err := app.NewBridge(cfg.Bridge, app.NewLogger(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	v, err := b.Validate(ctx, string(code))
	if err != nil {
		return err
	}
	if !v.Valid() {
		return fmt.Errorf("invalid Mermaid: %s", v.Error)
	}
	fmt.Printf("valid: direction %s, %d nodes, %d edges\n", orDash(v.Direction), v.Nodes, v.Edges)
	return nil
}

func runSimilar(ctx context.Context, g globalFlags, f runFlags, topK int, path string) error {
	req, err := request(path, f)
	if err != nil {
		return err
	}
	a, err := build(ctx, g, f)
	if err != nil {
		return err
	}
	defer closeApp(a)
	if a.Index == nil {
		return errors.New("similarity search needs vector.host to be configured")
	}

	res, err := a.Pipeline.Run(ctx, req)
	if err != nil {
		return err
	}
	matches, err := a.Index.Similar(ctx, res, topK)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No similar diagrams indexed yet.")
		return nil
	}
	for i, m := range matches {
		fmt.Printf("%d. %.3f  %-14s %s (run %s)\n", i+1, m.Score,
			m.Metadata["diagram_type"], orDash(m.Metadata["image"]), m.Metadata["run_id"])
	}
	return nil
}

func printProviders() {
	names := make([]string, 0, len(llm.KnownProviders))
	for name := range llm.KnownProviders {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("Available LLM providers (the model must accept images):")
	fmt.Println()
	for _, name := range names {
		fmt.Printf("  %-14s %s\n", name, llm.KnownProviders[name])
	}
	fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
	fmt.Println()
	fmt.Println("Configure in graphsight.yaml or via environment:")
	fmt.Println("  GRAPHSIGHT_LLM_PROVIDER=openai")
	fmt.Println("  GRAPHSIGHT_LLM_API_KEY=sk-...")
	fmt.Println("  GRAPHSIGHT_LLM_MODEL=gpt-4o")
}
