package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"costrologer/internal/amqp"
	"costrologer/internal/config"
	"costrologer/internal/insights"
	"costrologer/internal/jobs"
	"costrologer/internal/jobs/inmemory"
	applog "costrologer/internal/log"
	"costrologer/internal/notify"
	"costrologer/internal/ratelimit"
	"costrologer/internal/scheduler"
	"costrologer/internal/services"
	"costrologer/internal/storage"
)

// app is the wired object graph behind every command.
type app struct {
	cfg       *config.Config
	loc       *time.Location
	repo      *storage.Repository
	limiter   *ratelimit.KeyedLimiter
	processor *services.RecurringProcessor
	ledger    *services.Ledger
	scheduler *scheduler.Scheduler

	publisher jobs.Publisher
	consumer  jobs.Consumer
}

// transport selects how recurring events travel from trigger to processor.
type transport int

const (
	// transportQueue uses RabbitMQ when configured, the in-memory queue otherwise.
	transportQueue transport = iota
	// transportInline publishes straight into the processor unless RabbitMQ
	// is configured, in which case events go to the broker for the workers.
	transportInline
)

func newApp(ctx context.Context, cfg *config.Config, mode transport) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	dsn := cfg.SQLiteDBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	repo, err := storage.Open(ctx, cfg.DBDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		loc:     loc,
		repo:    repo,
		limiter: ratelimit.New(ratelimit.Config{PerMinute: cfg.UserRateLimit}),
		ledger:  services.NewLedger(repo, loc),
	}
	a.processor = services.NewRecurringProcessor(repo, a.limiter, loc)

	if err := a.setupTransport(ctx, mode); err != nil {
		a.Close()
		return nil, err
	}

	notifier, err := newNotifier(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	renderer, err := notify.NewRenderer()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.scheduler = scheduler.New(loc)
	jobsToRegister := []scheduler.Job{
		{
			Name: scheduler.JobRecurring,
			Spec: cfg.RecurringCron,
			Run:  services.NewRecurringTrigger(repo, a.publisher).Run,
		},
		{
			Name: scheduler.JobBudgetAlerts,
			Spec: cfg.BudgetAlertCron,
			Run:  services.NewBudgetAlertEvaluator(repo, notifier, renderer, cfg.AlertThreshold, loc).Run,
		},
		{
			Name: scheduler.JobMonthlyReports,
			Spec: cfg.MonthlyReportCron,
			Run:  services.NewMonthlyReporter(repo, newSummarizer(ctx, cfg), notifier, renderer, loc).Run,
		},
	}
	for _, job := range jobsToRegister {
		if err := a.scheduler.Register(job); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *app) setupTransport(ctx context.Context, mode transport) error {
	if a.cfg.AMQPURL != "" {
		client, err := amqp.NewClient(ctx, amqp.Config{
			URL:          a.cfg.AMQPURL,
			ExchangeName: a.cfg.AMQPExchange,
			QueueName:    a.cfg.AMQPQueue,
			Workers:      a.cfg.Workers,
		})
		if err != nil {
			return fmt.Errorf("connect to broker: %w", err)
		}
		a.publisher = client
		a.consumer = client
		logger.InfoContext(ctx, "Using RabbitMQ transport", "exchange", a.cfg.AMQPExchange, "queue", a.cfg.AMQPQueue)
		return nil
	}

	if mode == transportInline {
		a.publisher = jobs.Inline(a.processor.Process)
		return nil
	}

	q := inmemory.NewQueue(a.cfg.QueueBuffer, inmemory.WithWorkers(a.cfg.Workers))
	a.publisher = q
	a.consumer = q
	logger.InfoContext(ctx, "Using in-memory transport", "workers", a.cfg.Workers)
	return nil
}

func newNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	if cfg.Notifier != "gmail" {
		return notify.LogSender{}, nil
	}
	sender, err := notify.NewGmailSender(ctx, notify.GmailConfig{
		From:               cfg.GmailFrom,
		OAuthClientFile:    cfg.GmailOAuthClientFile,
		OAuthTokenFile:     cfg.GmailOAuthTokenFile,
		ServiceAccountFile: cfg.GoogleServiceAccountFile,
		ServiceAccountJSON: cfg.GoogleServiceAccountJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("create gmail sender: %w", err)
	}
	return sender, nil
}

// newSummarizer returns the Gemini summarizer when an API key is set. A
// client that cannot be built degrades to the fixed insights rather than
// failing startup; the monthly reporter handles failures per call.
func newSummarizer(ctx context.Context, cfg *config.Config) insights.Summarizer {
	if cfg.GeminiAPIKey == "" {
		return insights.Static{}
	}
	g, err := insights.NewGeminiSummarizer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		logger.WarnContext(ctx, "Gemini unavailable, using fallback insights", applog.FieldError, err)
		return insights.Static{}
	}
	return g
}

// Close releases the transport, the limiter and the database.
func (a *app) Close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}
