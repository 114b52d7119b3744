package main

import (
	"context"
	"fmt"
	"log"
	"os"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/graphsight/internal/app"
	"github.com/efebarandurmaz/graphsight/internal/config"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/server"
	temporalmod "github.com/efebarandurmaz/graphsight/internal/temporal"
)

func main() {
	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)

	var opts []app.Option
	if path := os.Getenv("GRAPHSIGHT_AUDIT_LOG"); path != "" {
		audit, err := observability.NewAuditLogger(&observability.AuditConfig{Enabled: true, OutputPath: path})
		if err != nil {
			log.Fatalf("audit log: %v", err)
		}
		opts = append(opts, app.WithAudit(audit))
	}

	a, err := app.New(context.Background(), cfg, logger, opts...)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{Interpreter: a.Pipeline})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		c.Close()
		log.Fatalf("worker: %v", err)
	}

	health := server.NewHealthServer(server.WithVersion(app.Version), server.WithHealthLogger(logger))
	health.RegisterCheck("temporal", server.PingChecker("temporal", func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	health.RegisterCheck("oracle", server.OracleChecker(cfg.LLM.Provider, cfg.LLM.Model, nil))
	if a.Bridge != nil {
		health.RegisterCheck("bridge", server.BridgeChecker(a.Bridge.Available))
	}

	shutdown := server.NewShutdown(server.WithShutdownLogger(logger))
	shutdown.Register("temporal-worker", server.PriorityWorker, func(context.Context) error {
		w.Stop()
		c.Close()
		return nil
	})
	shutdown.Register("pipeline", server.PriorityStores, a.Close)

	g := server.NewGraceful(health, shutdown)
	g.Start(cfg.Server.Addr)

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	if errs := shutdown.Wait(); len(errs) > 0 {
		fmt.Fprintf(os.Stderr, "Worker stopped with %d shutdown errors\n", len(errs))
		os.Exit(1)
	}
	fmt.Println("Worker stopped")
}
