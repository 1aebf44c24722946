package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantlab/internal/api"
	"quantlab/internal/backtest"
	"quantlab/internal/broker"
	"quantlab/internal/cache"
	"quantlab/internal/config"
	"quantlab/internal/database"
	"quantlab/internal/live"
	"quantlab/internal/logger"
	"quantlab/internal/market"
	"quantlab/internal/monitoring"
	"quantlab/internal/scheduler"
	"quantlab/internal/store"
	"quantlab/internal/tuner"
)

func main() {
	configFile := flag.String("config", "configs/config.yaml", "Configuration file path")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.SetGlobal(logger.NewLogger(cfg.Logging))
	appLog := logger.Global().WithField("component", "main")
	appLog.Info("starting", "app", cfg.App.Name, "version", cfg.App.Version, "env", cfg.App.Env)

	if err := run(cfg, appLog); err != nil {
		appLog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLog logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewConnection(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxOpen:  cfg.Database.MaxOpen,
		MaxIdle:  cfg.Database.MaxIdle,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	cacher := cache.NewCacher(&cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	st := store.NewStore(db)
	metrics := monitoring.NewMetrics()

	brokerClient := broker.NewClient(broker.ClientConfig{
		BaseURL:   cfg.Broker.BaseURL,
		APIKey:    cfg.Broker.APIKey,
		APISecret: cfg.Broker.APISecret,
		Timeout:   cfg.Broker.Timeout,
		RateLimit: cfg.Broker.RateLimit,
	})
	marketClient := market.NewClient(market.ClientConfig{
		BaseURL:  cfg.MarketData.BaseURL,
		APIKey:   cfg.MarketData.APIKey,
		Timeout:  cfg.MarketData.Timeout,
		CacheTTL: cfg.MarketData.CacheTTL,
	}, cacher)

	calendar, err := market.NewCalendar(cfg.MarketData.Timezone)
	if err != nil {
		return fmt.Errorf("failed to load market calendar: %w", err)
	}

	waiter := backtest.NewWaiter(st, cfg.Tuner.BacktestPollWait, cfg.Tuner.BacktestTimeout)
	awaiting := backtest.NewAwaitingExecutor(st, waiter)
	mutator := tuner.NewMutator(time.Now().UnixNano())
	engine := tuner.NewEngine(st, awaiting, mutator, metrics)
	jobs := tuner.NewJobRunner(st, awaiting, mutator)

	execCfg := live.DefaultConfig()
	if cfg.MarketData.BarCount > 0 {
		execCfg.BarCount = cfg.MarketData.BarCount
	}
	if cfg.Executor.MinBars > 0 {
		execCfg.MinBars = cfg.Executor.MinBars
	}
	if cfg.Executor.LeaseDuration > 0 {
		execCfg.LeaseDuration = cfg.Executor.LeaseDuration
	}
	executor := live.NewEngine(st, brokerClient, marketClient, calendar, metrics, execCfg)

	server := api.NewServer(cfg, api.Dependencies{
		DB:       db,
		Store:    st,
		Tuner:    engine,
		Jobs:     jobs,
		Executor: executor,
		Metrics:  metrics,
	})

	if cfg.Scheduler.Enabled {
		sched, err := setupScheduler(cfg, st, engine, jobs, executor)
		if err != nil {
			return fmt.Errorf("failed to set up scheduler: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		appLog.Info("shutdown signal received", "signal", sig.String())
		cancel()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// setupScheduler registers the cron-driven loop invocations. Handlers
// tolerate partial failure; the scheduler records the error and the
// next tick tries again.
func setupScheduler(cfg *config.Config, st *store.Store, engine *tuner.Engine, jobs *tuner.JobRunner, executor *live.Engine) (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler()
	schedLog := logger.Global().WithField("component", "scheduler_tasks")

	sched.RegisterHandler(scheduler.TaskTypeExecutorTick, scheduler.TaskHandlerFunc(func(ctx context.Context) error {
		batch, err := executor.TickAll(ctx)
		if err != nil {
			return err
		}
		if len(batch.Errors) > 0 {
			for id, msg := range batch.Errors {
				schedLog.Warn("deployment tick failed", "deployment_id", id, "error", msg)
			}
			return fmt.Errorf("%d of %d deployment ticks failed", len(batch.Errors), len(batch.Errors)+len(batch.Results))
		}
		return nil
	}))

	sched.RegisterHandler(scheduler.TaskTypeTunerBatch, scheduler.TaskHandlerFunc(func(ctx context.Context) error {
		groups, err := st.ListGroups(ctx)
		if err != nil {
			return err
		}
		var failed int
		for _, g := range groups {
			_, err := engine.Iterate(ctx, tuner.IterateRequest{
				GroupID:        g.ID,
				TriggerType:    "scheduled",
				MaxIterations:  cfg.Tuner.MaxIterations,
				Aggressiveness: cfg.Tuner.Aggressiveness,
			})
			if err != nil {
				schedLog.Warn("scheduled iteration failed", "group_id", g.ID, "error", err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d group iterations failed", failed, len(groups))
		}
		return nil
	}))

	sched.RegisterHandler(scheduler.TaskTypeTuningJobs, scheduler.TaskHandlerFunc(func(ctx context.Context) error {
		// Jobs left in running are interrupted work; drive them forward
		// from their persisted trial count.
		running, err := st.ListJobsByStatus(ctx, tuner.JobStatusRunning)
		if err != nil {
			return err
		}
		var failed int
		for _, j := range running {
			if err := jobs.Run(ctx, j.ID); err != nil {
				schedLog.Warn("tuning job run failed", "job_id", j.ID, "error", err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d tuning jobs failed", failed, len(running))
		}
		return nil
	}))

	if cfg.Scheduler.ExecutorCron != "" {
		if err := sched.AddTask(scheduler.TaskTypeExecutorTick, cfg.Scheduler.ExecutorCron); err != nil {
			return nil, err
		}
	}
	if cfg.Scheduler.TunerCron != "" {
		if err := sched.AddTask(scheduler.TaskTypeTunerBatch, cfg.Scheduler.TunerCron); err != nil {
			return nil, err
		}
	}
	if cfg.Scheduler.TuningJobCron != "" {
		if err := sched.AddTask(scheduler.TaskTypeTuningJobs, cfg.Scheduler.TuningJobCron); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
