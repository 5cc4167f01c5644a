package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/bowerhall/nudge/internal/alerts"
	"github.com/bowerhall/nudge/internal/channel"
	"github.com/bowerhall/nudge/internal/config"
	"github.com/bowerhall/nudge/internal/contextstore"
	"github.com/bowerhall/nudge/internal/conversation"
	"github.com/bowerhall/nudge/internal/decision"
	"github.com/bowerhall/nudge/internal/events"
	"github.com/bowerhall/nudge/internal/jobs"
	"github.com/bowerhall/nudge/internal/llm"
	"github.com/bowerhall/nudge/internal/logger"
	"github.com/bowerhall/nudge/internal/metrics"
	"github.com/bowerhall/nudge/internal/operational"
	"github.com/bowerhall/nudge/internal/ops"
	"github.com/bowerhall/nudge/internal/profile"
	"github.com/bowerhall/nudge/internal/reminder"
	"github.com/bowerhall/nudge/internal/render"
	"github.com/bowerhall/nudge/internal/rules"
	"github.com/bowerhall/nudge/internal/scheduler"
	"github.com/bowerhall/nudge/internal/storage"
	"github.com/bowerhall/nudge/internal/worker"
)

func init() {
	godotenv.Load()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	// stores decode unix timestamps into time.Local
	time.Local = cfg.Location

	db, err := operational.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open database", "path", cfg.DBPath, "error", err)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("failed to register metrics", "error", err)
	}

	queue, err := jobs.NewStore(db.DB(), jobs.WithLocation(cfg.Location))
	if err != nil {
		logger.Fatal("failed to create job store", "error", err)
	}
	profiles, err := profile.NewStore(db.DB())
	if err != nil {
		logger.Fatal("failed to create profile store", "error", err)
	}
	reminders, err := reminder.NewStore(db.DB())
	if err != nil {
		logger.Fatal("failed to create reminder store", "error", err)
	}
	history, err := conversation.NewStore(db.DB(), 0, conversation.WithLocation(cfg.Location))
	if err != nil {
		logger.Fatal("failed to create conversation store", "error", err)
	}

	ruleSource := rules.NewLoader(cfg.RulesPath)
	if rs := ruleSource.Current(); len(rs.Problems) > 0 {
		logger.Warn("rule file has problems", "path", cfg.RulesPath, "count", len(rs.Problems))
	}

	detectorOpts := []events.Option{events.WithMetrics(m)}
	if cfg.Fallback.Enabled() {
		classifierLLM, err := llm.New(llm.Config{
			Provider: cfg.Fallback.Provider,
			APIKey:   cfg.Fallback.APIKey,
			Model:    cfg.Fallback.Model,
			BaseURL:  cfg.Fallback.BaseURL,
		})
		if err != nil {
			logger.Fatal("failed to create fallback classifier", "error", err)
		}
		detectorOpts = append(detectorOpts, events.WithFallback(events.NewLLMClassifier(classifierLLM), cfg.Fallback.Timeout))
		logger.Info("fallback classifier enabled", "provider", cfg.Fallback.Provider, "timeout", cfg.Fallback.Timeout)
	}
	detector := events.NewDetector(ruleSource, detectorOpts...)

	contexts, err := contextstore.New(contextstore.Config{
		Capacity: cfg.Context.Capacity,
		TTL:      cfg.Context.TTL,
		HalfLife: cfg.Context.HalfLife,
		MaxUsers: cfg.Context.MaxUsers,
	})
	if err != nil {
		logger.Fatal("failed to create context store", "error", err)
	}

	engine := decision.NewEngine(
		decision.Config{Mode: decision.Mode(cfg.Decision.Mode)},
		detector, contexts, history, profiles, ruleSource,
		decision.WithMetrics(m),
	)

	inbox, err := channel.NewInApp(db.DB(), profiles)
	if err != nil {
		logger.Fatal("failed to create inbox", "error", err)
	}
	dispatcher := channel.NewDispatcher(cfg.Channels.Default, m, inbox)

	var telegram *channel.Telegram
	if cfg.Channels.TelegramToken != "" {
		telegram, err = channel.NewTelegram(cfg.Channels.TelegramToken, profiles)
		if err != nil {
			logger.Error("failed to create telegram channel", "error", err)
		} else {
			dispatcher.Register(telegram)
		}
	}
	if cfg.Channels.DiscordToken != "" {
		discord, err := channel.NewDiscord(cfg.Channels.DiscordToken, profiles)
		if err != nil {
			logger.Error("failed to create discord channel", "error", err)
		} else {
			dispatcher.Register(discord)
		}
	}

	var alerter *alerts.Alerter
	if telegram != nil && cfg.AlertChatID != 0 {
		alerter = alerts.New(
			func(message string) {
				if _, err := telegram.SendChat(cfg.AlertChatID, message); err != nil {
					logger.Error("failed to send alert", "error", err)
				}
			},
			time.Hour,
		)
		logger.Info("operator alerting enabled", "chatID", cfg.AlertChatID)
	}

	renderer, err := render.New()
	if err != nil {
		logger.Fatal("failed to load message templates", "error", err)
	}

	workerOpts := []worker.Option{worker.WithAlerter(alerter), worker.WithMetrics(m)}
	if cfg.Decision.Enabled {
		workerOpts = append(workerOpts, worker.WithDecider(engine))
	}
	w := worker.New(
		worker.Config{BatchSize: cfg.Scheduler.BatchSize, Lookahead: cfg.Scheduler.Window},
		queue, profiles, reminders, renderer, dispatcher,
		workerOpts...,
	)

	sched := scheduler.New(
		scheduler.Config{
			Interval:   cfg.Scheduler.Interval,
			Window:     cfg.Scheduler.Window,
			MaxRetries: cfg.Scheduler.MaxRetries,
			BatchSize:  cfg.Scheduler.BatchSize,
			Location:   cfg.Location,
		},
		reminders, queue, w,
		scheduler.WithMetrics(m),
	)

	// minio archive (optional)
	var maintenanceOpts []scheduler.MaintenanceOption
	if cfg.Storage.Enabled {
		archive, err := storage.NewClient(storage.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
		})
		if err != nil {
			logger.Error("failed to create storage client", "error", err)
		} else {
			initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := archive.Init(initCtx); err != nil {
				logger.Error("failed to init archive bucket, purging without archive", "error", err)
			} else {
				maintenanceOpts = append(maintenanceOpts, scheduler.WithArchiver(archive))
				logger.Info("job archive enabled", "bucket", cfg.Storage.Bucket)
			}
			cancel()
		}
	}

	maintenance := scheduler.NewMaintenance(queue, cfg.Scheduler.Retention, maintenanceOpts...)
	if err := maintenance.Start(cfg.Scheduler.MaintenanceSchedule, cfg.Location); err != nil {
		logger.Fatal("failed to schedule maintenance", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr: cfg.MetricsAddr,
			Handler: ops.New(ops.Deps{
				DB:       db,
				Jobs:     queue,
				Inbox:    inbox,
				History:  history,
				Observer: engine,
				Gatherer: registry,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			logger.Info("ops server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("nudge started",
		"channels", dispatcher.Names(),
		"mode", engine.Mode(),
		"decision", cfg.Decision.Enabled,
		"interval", cfg.Scheduler.Interval,
		"timezone", cfg.Timezone,
		"db", cfg.DBPath,
	)

	err = g.Wait()
	logger.Info("shutting down")
	maintenance.Stop()

	if err != nil {
		db.Close()
		logger.Fatal("shutdown with error", "error", err)
	}
}
