package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/driftgate/driftgate/internal/api"
	"github.com/driftgate/driftgate/internal/bus"
	"github.com/driftgate/driftgate/internal/channel"
	"github.com/driftgate/driftgate/internal/config"
	"github.com/driftgate/driftgate/internal/dedup"
	"github.com/driftgate/driftgate/internal/dispatch"
	"github.com/driftgate/driftgate/internal/escalation"
	"github.com/driftgate/driftgate/internal/event"
	"github.com/driftgate/driftgate/internal/expreval"
	"github.com/driftgate/driftgate/internal/metrics"
	"github.com/driftgate/driftgate/internal/routing"
	"github.com/driftgate/driftgate/internal/rule"
	"github.com/driftgate/driftgate/internal/stats"
	"github.com/driftgate/driftgate/internal/throttle"
	"github.com/driftgate/driftgate/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("driftgate-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"routes_file", cfg.Server.RoutesFile,
		"nats_enabled", cfg.Server.NATS.Enabled,
		"redis_enabled", cfg.Server.Redis.Enabled(),
		"dedup_kind", cfg.Server.Dedup.Kind,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Rule registry, evaluators, and validator.
	registry := rule.NewRegistry(expreval.New(), expreval.NewTemplateEvaluator())
	validator := rule.NewValidator(registry, cfg.Server.Limits.RuleLimits())

	// Route table: initial load plus a watcher that hot-reloads on change.
	router := routing.NewRouter()
	if !routing.Reload(cfg.Server.RoutesFile, router, registry, validator) {
		slog.Error("initial routing load failed", "path", cfg.Server.RoutesFile)
		os.Exit(1)
	}
	go func() {
		if err := routing.Watch(ctx, cfg.Server.RoutesFile, router, registry, validator); err != nil {
			slog.Error("routing watcher stopped", "err", err)
		}
	}()

	// Outbound channels.
	channels := channel.NewRegistry()
	if err := channels.Configure(cfg.Server.Channels); err != nil {
		slog.Error("channel configuration failed", "err", err)
		os.Exit(1)
	}

	// Suppression state: shared in redis when configured, in memory otherwise.
	var rdb *redis.Client
	if cfg.Server.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Server.Redis.Addr,
			DB:       cfg.Server.Redis.DB,
			Password: cfg.Server.Redis.Password(),
		})
		defer rdb.Close()
	}

	dedupPolicy, err := dedup.NewPolicy(cfg.Server.Dedup.Kind, cfg.Server.Dedup.Window)
	if err != nil {
		slog.Error("dedup policy rejected", "err", err)
		os.Exit(1)
	}
	var dedupStore dedup.Store = dedup.NewMemoryStore()
	if rdb != nil {
		dedupStore = dedup.NewRedisStore(rdb)
	}

	var throttler dispatch.Throttler
	if cfg.Server.Throttle.Enabled() {
		if rdb != nil {
			throttler = throttle.NewRedisLimiter(cfg.Server.Throttle, rdb)
		} else {
			throttler = dispatch.MemoryThrottler(throttle.NewLimiter(cfg.Server.Throttle))
		}
	}

	// WebSocket hub for realtime event and incident streams.
	hub := ws.NewHub()
	go hub.Run(ctx)

	collector := stats.NewCollector()

	// Escalation engine: level notifications go out through the channel
	// registry; lifecycle changes stream to the incidents room.
	notify := func(inc escalation.Incident, level escalation.Level) {
		msg := escalationMessage(inc, level)
		for _, target := range level.Targets {
			n, ok := channels.Get(target)
			if !ok {
				slog.Error("escalation target is not a configured channel", "target", target)
				continue
			}
			sendCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
			err := n.Send(sendCtx, msg, inc.Event)
			done()
			collector.Delivery(target, err == nil)
			if err != nil {
				slog.Error("escalation delivery failed", "target", target, "incident", inc.ID, "err", err)
				metrics.DeliveriesTotal.WithLabelValues(target, dispatch.StatusFailed).Inc()
			} else {
				metrics.DeliveriesTotal.WithLabelValues(target, dispatch.StatusSent).Inc()
			}
		}
	}
	onChange := func(kind string, inc escalation.Incident) {
		if kind == escalation.ChangeStateChanged && inc.State == escalation.StateEscalated {
			metrics.EscalationsTotal.Inc()
		}
		hub.BroadcastToRoom(ws.RoomIncidents, ws.NewEnvelope(kind, inc))
	}
	engine, err := escalation.NewEngine(cfg.Server.Escalations, notify, onChange)
	if err != nil {
		slog.Error("escalation policies rejected", "err", err)
		os.Exit(1)
	}
	defer engine.Shutdown()

	dispatcher, err := dispatch.New(dispatch.Options{
		Router:      router,
		DedupPolicy: dedupPolicy,
		DedupStore:  dedupStore,
		Throttler:   throttler,
		Channels:    channels,
		Escalations: engine,
		Hub:         hub,
		Collector:   collector,
	})
	if err != nil {
		slog.Error("dispatcher wiring failed", "err", err)
		os.Exit(1)
	}

	// Inbound NATS subscription.
	if cfg.Server.NATS.Enabled {
		consumer, err := bus.Connect(cfg.Server.NATS.URL, "driftgate-server")
		if err != nil {
			slog.Error("nats connect failed", "url", cfg.Server.NATS.URL, "err", err)
			os.Exit(1)
		}
		defer consumer.Close()

		handle := func(ctx context.Context, ev *event.NotificationEvent) {
			dispatcher.Dispatch(ctx, ev)
		}
		if err := consumer.Subscribe(ctx, cfg.Server.NATS.Subject, cfg.Server.NATS.Queue, handle); err != nil {
			slog.Error("nats subscribe failed", "subject", cfg.Server.NATS.Subject, "err", err)
			os.Exit(1)
		}
	}

	// Combined HTTP server: REST API, WebSocket hub, and metrics.
	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(api.Options{
		Dispatcher:  dispatcher,
		Router:      router,
		Validator:   validator,
		Escalations: engine,
		Collector:   collector,
		Channels:    channels,
	}))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("driftgate-server shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}

// escalationMessage renders the notification text for an escalation level.
func escalationMessage(inc escalation.Incident, level escalation.Level) channel.Message {
	msg := channel.Message{
		Title: fmt.Sprintf("Incident %s (level %d)", inc.ID, level.Level),
		Text:  fmt.Sprintf("incident %s is %s at level %d", inc.ID, inc.State, level.Level),
	}
	if inc.Event != nil {
		rctx := event.NewRouteContext(inc.Event)
		msg.Severity = rctx.Severity
		msg.Title = fmt.Sprintf("Incident: %s (level %d)", inc.Event.EventType, level.Level)
		if rctx.DataAsset != "" {
			msg.Text = fmt.Sprintf("%s on %s is %s at level %d", inc.Event.EventType, rctx.DataAsset, inc.State, level.Level)
		}
	}
	return msg
}
