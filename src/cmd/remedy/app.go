package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"remedy-agent/src/agent"
	"remedy-agent/src/analyze"
	"remedy-agent/src/broker"
	"remedy-agent/src/config"
	"remedy-agent/src/contracts"
	"remedy-agent/src/jenkins"
	"remedy-agent/src/logger"
	"remedy-agent/src/metrics"
	"remedy-agent/src/notify"
	"remedy-agent/src/provider"
	"remedy-agent/src/store"
)

const pingTimeout = 10 * time.Second

// app holds the wired components shared by the commands.
type app struct {
	cfg     *config.Config
	logger  logger.Logger
	ci      provider.CIServer
	store   store.Store
	broker  broker.Broker
	metrics *metrics.Metrics
	manager *agent.Manager
}

type appOptions struct {
	// readOnly keeps every remediation decision but never triggers builds
	// or writes build descriptions.
	readOnly bool
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger, opts appOptions) (*app, error) {
	client, err := jenkins.NewClient(jenkins.Config{
		URL:       cfg.Jenkins.URL,
		User:      cfg.Jenkins.User,
		Token:     cfg.Jenkins.Token,
		RateLimit: cfg.Jenkins.RateLimit,
	}, log)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, ci: client, metrics: metrics.New()}
	if opts.readOnly {
		a.ci = &readOnlyCI{CIServer: client, logger: log}
	}

	if a.store, err = openStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	if a.broker, err = openBroker(ctx, cfg, log); err != nil {
		a.store.Close()
		return nil, err
	}

	builds := analyze.NewBuildAnalyzer(client, newAnalyzer(cfg, log), log)
	a.manager = agent.NewManager(a.ci, builds, a.store, notify.NewBrokerNotifier(a.broker, log), managerOptions(cfg), a.metrics, log)
	return a, nil
}

func (a *app) Close() {
	if err := a.broker.Close(); err != nil {
		a.logger.Warn("Error closing broker: %v", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Error closing store: %v", err)
	}
}

func managerOptions(cfg *config.Config) agent.Options {
	return agent.Options{
		LearningEnabled: cfg.Agent.LearningEnabled,
		Supervisor: agent.SupervisorConfig{
			FolderDepth:       cfg.Agent.FolderDepth,
			DiscoveryInterval: cfg.Agent.DiscoveryInterval,
			PollInterval:      cfg.Agent.PollInterval,
			ErrorBackoff:      cfg.Agent.ErrorBackoff,
		},
		RefreshInterval: cfg.Agent.RefreshInterval,
		CleanupInterval: cfg.Agent.CleanupInterval,
		PatternTTL:      cfg.Agent.PatternTTL,
		AnalysisTTL:     cfg.Agent.AnalysisTTL,
	}
}

// openStore uses Postgres in production and SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (store.Store, error) {
	if cfg.Env == config.EnvProduction {
		log.Info("Using Postgres store")
		st, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open Postgres store: %w", err)
		}
		return st, nil
	}

	log.Info("Using SQLite store at %s", cfg.Database.SQLitePath)
	st, err := store.NewSQLiteStore(ctx, cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite store: %w", err)
	}
	return st, nil
}

// openBroker connects to Redpanda when brokers are configured. Without
// brokers notices stay in process and are written to the log.
func openBroker(ctx context.Context, cfg *config.Config, log logger.Logger) (broker.Broker, error) {
	if len(cfg.Broker.Brokers) == 0 {
		b := broker.NewInMemoryBroker()
		if err := logNotices(ctx, b, notify.NewLogNotifier(log)); err != nil {
			b.Close()
			return nil, err
		}
		return b, nil
	}

	b, err := broker.NewRedpandaBroker(cfg.Broker.Brokers, log)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := b.Ping(pingCtx); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to reach Redpanda at %v: %w", cfg.Broker.Brokers, err)
	}
	log.Info("Publishing notices to Redpanda at %v", cfg.Broker.Brokers)
	return b, nil
}

// logNotices forwards notices published on b to sink until b is closed.
func logNotices(ctx context.Context, b broker.Broker, sink agent.Notifier) error {
	msgs, err := b.Subscribe(context.WithoutCancel(ctx), contracts.TopicNotifications, "remedy-log")
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", contracts.TopicNotifications, err)
	}
	go func() {
		for msg := range msgs {
			notice, err := notify.Decode(msg)
			if err != nil {
				continue
			}
			sink.Notify(context.Background(), notice)
		}
	}()
	return nil
}

func newAnalyzer(cfg *config.Config, log logger.Logger) provider.Analyzer {
	if cfg.LLM.APIKey == "" {
		log.Info("Using heuristic analyzer")
		return analyze.NewHeuristicAnalyzer()
	}
	log.Info("Using LLM analyzer (model %s)", cfg.LLM.Model)
	return analyze.NewLLMAnalyzer(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
}

// serveMetrics exposes /metrics and /healthz on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("Metrics server failed: %v", err)
	}
}

// readOnlyCI records what remediation would do without changing the server.
type readOnlyCI struct {
	provider.CIServer
	logger logger.Logger
}

func (r *readOnlyCI) TriggerBuild(ctx context.Context, job string, params map[string]string) error {
	r.logger.Info("[dry-run] Would trigger %s with %v", job, params)
	return nil
}

func (r *readOnlyCI) PostBuildAnnotation(ctx context.Context, job string, number int, text string) error {
	r.logger.Info("[dry-run] Would annotate %s#%d:\n%s", job, number, text)
	return nil
}
