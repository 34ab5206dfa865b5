package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ecsched/internal/api"
	"github.com/nextlevelbuilder/ecsched/internal/bus"
	"github.com/nextlevelbuilder/ecsched/internal/config"
	"github.com/nextlevelbuilder/ecsched/internal/exec"
	"github.com/nextlevelbuilder/ecsched/internal/jobs"
	"github.com/nextlevelbuilder/ecsched/internal/sched"
	"github.com/nextlevelbuilder/ecsched/internal/store"
	"github.com/nextlevelbuilder/ecsched/internal/trigger"
)

const (
	componentAPI       = "api"
	componentScheduler = "scheduler"
	componentBoth      = "both"
)

func serveCmd() *cobra.Command {
	var component string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon and/or the HTTP API",
		Long: `Run the system. With --component both (the default) the API and
the scheduler share one process and a direct in-memory ops bus. With
--component api or --component scheduler the halves run separately and
exchange job operations over the SQS queue named by ECSS_OPS_QUEUE.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(component)
		},
	}
	cmd.Flags().StringVar(&component, "component", componentBoth, "which half to run: api, scheduler or both")
	return cmd
}

func runServe(component string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.SetupLogging()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	st, err := store.Resolve(ctx, cfg.StoreOptions(), awsCfg)
	if err != nil {
		return err
	}
	registry, err := jobs.Load(ctx, st)
	if err != nil {
		return err
	}

	switch component {
	case componentBoth:
		return runBoth(ctx, cfg, awsCfg, registry)
	case componentAPI:
		return runAPI(ctx, cfg, awsCfg, registry)
	case componentScheduler:
		return runScheduler(ctx, cfg, awsCfg, registry)
	}
	return fmt.Errorf("unknown component %q", component)
}

func newScheduler(cfg *config.Config, awsCfg aws.Config, registry *jobs.Registry) *sched.Scheduler {
	executor := &exec.Executor{
		Client:    ecs.NewFromConfig(awsCfg),
		Cluster:   cfg.ECSCluster,
		StartedBy: cfg.Name,
		Triggers:  trigger.NewRegistry(sqs.NewFromConfig(awsCfg)),
	}
	handler := sched.NewEventHandler(registry)
	return sched.NewScheduler(registry, executor, handler.Handle)
}

func runBoth(ctx context.Context, cfg *config.Config, awsCfg aws.Config, registry *jobs.Registry) error {
	scheduler := newScheduler(cfg, awsCfg, registry)
	opsBus := bus.NewDirect()
	opsBus.Register(scheduler)

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	return serveHTTP(ctx, cfg, registry, opsBus)
}

func runAPI(ctx context.Context, cfg *config.Config, awsCfg aws.Config, registry *jobs.Registry) error {
	if cfg.OpsQueue == "" {
		return fmt.Errorf("%s is required to run the api separately", config.EnvOpsQueue)
	}
	queue, err := bus.NewSQSQueue(ctx, sqs.NewFromConfig(awsCfg), cfg.OpsQueue)
	if err != nil {
		return err
	}
	return serveHTTP(ctx, cfg, registry, queue)
}

func runScheduler(ctx context.Context, cfg *config.Config, awsCfg aws.Config, registry *jobs.Registry) error {
	if cfg.OpsQueue == "" {
		return fmt.Errorf("%s is required to run the scheduler separately", config.EnvOpsQueue)
	}
	queue, err := bus.NewSQSQueue(ctx, sqs.NewFromConfig(awsCfg), cfg.OpsQueue)
	if err != nil {
		return err
	}

	scheduler := newScheduler(cfg, awsCfg, registry)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	if err := queue.Listen(ctx, scheduler); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, registry *jobs.Registry, poster bus.Poster) error {
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: api.NewServer(registry, poster).Handler(),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", cfg.HTTPAddr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return server.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
