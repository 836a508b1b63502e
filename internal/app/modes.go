package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arbtrack/arbtrack/internal/bus"
	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/feed"
	"github.com/arbtrack/arbtrack/internal/notify"
	"github.com/arbtrack/arbtrack/internal/risk"
	"github.com/arbtrack/arbtrack/internal/server"
	"github.com/arbtrack/arbtrack/internal/server/handler"
	"github.com/arbtrack/arbtrack/internal/server/ws"
	"github.com/arbtrack/arbtrack/internal/tracker"
)

const (
	// shutdownTimeout bounds graceful teardown of the HTTP server and hub.
	shutdownTimeout = 10 * time.Second

	// eventMirrorBuffer is the capacity of the Redis mirror queue. When the
	// queue is full, events are dropped rather than blocking publishers.
	eventMirrorBuffer = 1024

	// tickCacheTimeout bounds the best-effort latest-tick cache write.
	tickCacheTimeout = 2 * time.Second

	// eventsChannel is the Redis pub/sub channel events are mirrored to.
	eventsChannel = "arbtrack:events"
)

// ServeMode runs the in-memory engine with the HTTP API and WebSocket fan-out
// and no external infrastructure.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps)
}

// FullMode runs everything ServeMode does plus Postgres persistence, Redis
// event mirroring, the latest-tick cache, and the S3 retention sweep.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.run(ctx, deps)
}

// run wires the event bus, tracker, risk engine, hub, feed, and HTTP server
// together and blocks until ctx is cancelled or a component fails. Optional
// dependencies (stores, caches, archiver) are used when present and skipped
// when nil, which is what distinguishes the modes.
func (a *App) run(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	eventBus := bus.New(a.logger)
	trk := tracker.New(eventBus, deps.PositionStore, deps.AuditStore, a.logger)

	engine := risk.NewEngine(trk, eventBus, domain.RiskLimits{
		MaxTotalExposure: a.cfg.Risk.MaxTotalExposure,
		MaxVaR95:         a.cfg.Risk.MaxVaR95,
		MaxPositionCount: a.cfg.Risk.MaxPositionCount,
		MaxConcentration: a.cfg.Risk.MaxConcentration,
	}, deps.AlertStore, deps.AuditStore, a.logger)
	stopEngine := engine.Start(ctx)
	defer stopEngine()

	// WebSocket hub: every bus event fans out to connected clients.
	hub := ws.NewHub(ws.Config{
		SendBufferSize: a.cfg.Broadcast.SendBufferSize,
		Overflow:       ws.OverflowPolicy(a.cfg.Broadcast.Overflow),
		FlushTimeout:   a.cfg.Broadcast.FlushTimeout.Duration,
	}, a.logger)
	unsubHub := eventBus.SubscribeAll(hub.BroadcastEvent)
	defer unsubHub()

	// Critical alerts go out to chat channels.
	alertNotifier := notify.NewAlertNotifier(
		deps.Notifier,
		domain.AlertSeverity(a.cfg.Notify.MinSeverity),
		a.logger,
	)
	unsubNotify := eventBus.SubscribeAll(alertNotifier.HandleEvent)
	defer unsubNotify()

	// Redis event mirror for out-of-process consumers.
	if deps.SignalBus != nil {
		a.startEventMirror(ctx, g, eventBus, deps)
	}

	// Tick sink shared by the batch ingestion endpoint and the live feed:
	// broadcast to WebSocket clients, cache the latest value per pair.
	sink := func(tick domain.OddsTick) {
		if err := hub.Broadcast(string(domain.EventOddsUpdate), tick); err != nil {
			a.logger.Warn("odds broadcast failed", slog.String("error", err.Error()))
		}
		if deps.TickCache != nil {
			cacheCtx, cancel := context.WithTimeout(context.Background(), tickCacheTimeout)
			if err := deps.TickCache.SetLatest(cacheCtx, tick); err != nil {
				a.logger.Warn("tick cache write failed",
					slog.String("symbol", tick.Symbol),
					slog.String("error", err.Error()),
				)
			}
			cancel()
		}
	}

	// Upstream odds feed.
	if a.cfg.Feed.Enabled {
		f := feed.New(a.cfg.Feed.URL, a.cfg.Feed.Symbols, sink, a.logger)
		g.Go(func() error {
			defer f.Close()
			return f.Run(ctx)
		})
	}

	// Retention sweep.
	if a.cfg.Retention.Enabled && deps.Archiver != nil {
		a.startRetention(ctx, g, deps.Archiver)
	}

	// HTTP server.
	if a.cfg.Server.Enabled {
		srv := server.NewServer(server.Config{
			Port:          a.cfg.Server.Port,
			CORSOrigins:   a.cfg.Server.CORSOrigins,
			APIKey:        a.cfg.Server.APIKey,
			RateLimiter:   deps.RateLimiter,
			RateLimit:     a.cfg.Server.RateLimit,
			RateWindowSec: a.cfg.Server.RateWindowSec,
		}, server.Handlers{
			Health:    handler.NewHealthHandler(time.Now().UTC(), hub.ClientCount),
			Positions: handler.NewPositionHandler(trk, a.logger),
			Risk:      handler.NewRiskHandler(engine, a.logger),
			Ingestion: handler.NewIngestionHandler(sink, a.logger),
		}, hub, a.logger)

		g.Go(func() error {
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := hub.Shutdown(shutCtx); err != nil {
				a.logger.Warn("hub shutdown", slog.String("error", err.Error()))
			}
			return srv.Shutdown(shutCtx)
		})
	} else {
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return hub.Shutdown(shutCtx)
		})
	}

	return g.Wait()
}

// startEventMirror forwards every bus event to Redis pub/sub and the durable
// event stream. Mirroring is lossy under pressure: when the internal queue is
// full, events are dropped so bus publishers never block on the network.
func (a *App) startEventMirror(ctx context.Context, g *errgroup.Group, eventBus *bus.Bus, deps *Dependencies) {
	type wireEvent struct {
		Type string          `json:"type"`
		At   time.Time       `json:"at"`
		Data json.RawMessage `json:"data"`
	}

	queue := make(chan domain.Event, eventMirrorBuffer)
	unsub := eventBus.SubscribeAll(func(evt domain.Event) {
		select {
		case queue <- evt:
		default:
			a.logger.Warn("event mirror queue full, dropping event",
				slog.String("type", string(evt.Type)),
			)
		}
	})

	g.Go(func() error {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case evt := <-queue:
				data, err := json.Marshal(evt.Data)
				if err != nil {
					a.logger.Warn("event mirror marshal failed",
						slog.String("type", string(evt.Type)),
						slog.String("error", err.Error()),
					)
					continue
				}
				payload, err := json.Marshal(wireEvent{
					Type: string(evt.Type),
					At:   evt.At,
					Data: data,
				})
				if err != nil {
					continue
				}
				if err := deps.SignalBus.Publish(ctx, eventsChannel, payload); err != nil {
					a.logger.Warn("event mirror publish failed",
						slog.String("error", err.Error()),
					)
				}
				if a.cfg.Redis.EventStream != "" {
					if err := deps.SignalBus.StreamAppend(ctx, a.cfg.Redis.EventStream, payload); err != nil {
						a.logger.Warn("event mirror stream append failed",
							slog.String("error", err.Error()),
						)
					}
				}
			}
		}
	})
}

// startRetention periodically archives closed positions and acknowledged
// alerts older than the retention window to S3 and prunes them from Postgres.
func (a *App) startRetention(ctx context.Context, g *errgroup.Group, archiver domain.Archiver) {
	interval := a.cfg.Retention.SweepInterval.Duration
	retention := time.Duration(a.cfg.Retention.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)

				n, err := archiver.ArchivePositions(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "position archive failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "positions archived", slog.Int64("count", n))
				}

				n, err = archiver.ArchiveAlerts(ctx, cutoff)
				if err != nil {
					a.logger.ErrorContext(ctx, "alert archive failed",
						slog.String("error", err.Error()),
					)
				} else if n > 0 {
					a.logger.InfoContext(ctx, "alerts archived", slog.Int64("count", n))
				}
			}
		}
	})
}
