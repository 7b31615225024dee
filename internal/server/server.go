/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires configuration, storage, and every service into one
// HTTP process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/mimir_news/internal/api"
	"github.com/friendsincode/mimir_news/internal/billing"
	"github.com/friendsincode/mimir_news/internal/cache"
	"github.com/friendsincode/mimir_news/internal/catalog"
	"github.com/friendsincode/mimir_news/internal/config"
	"github.com/friendsincode/mimir_news/internal/console"
	"github.com/friendsincode/mimir_news/internal/db"
	"github.com/friendsincode/mimir_news/internal/eventbus"
	"github.com/friendsincode/mimir_news/internal/events"
	"github.com/friendsincode/mimir_news/internal/identity"
	"github.com/friendsincode/mimir_news/internal/loader"
	"github.com/friendsincode/mimir_news/internal/logbuffer"
	"github.com/friendsincode/mimir_news/internal/metadata"
	"github.com/friendsincode/mimir_news/internal/player"
	"github.com/friendsincode/mimir_news/internal/telemetry"
	"github.com/friendsincode/mimir_news/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	bus       *events.Bus
	api       *api.API
	catalog   *catalog.Service
	identity  *identity.Service
	billing   *billing.Service
	engine    *player.Engine
	device    *player.RemoteDevice
	cueDevice *player.RemoteDevice
	bridge    *eventbus.Bridge
	checker   *version.Checker

	metricsServer *http.Server

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// busNotifier surfaces engine notices on the event bus so connected
// frontends can render toasts.
type busNotifier struct {
	bus *events.Bus
}

func (n *busNotifier) Notify(severity, title, message string) {
	n.bus.Publish(events.EventNotice, events.Payload{
		"severity": severity,
		"title":    title,
		"message":  message,
	})
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("mimir-news-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for WebSocket connections: the state stream is
	// long-lived by design.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})
	router.Use(identity.Middleware([]byte(cfg.JWTSigningKey)))

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Header deadline protects against slowloris; WriteTimeout stays
		// 0 so the websocket stream is never cut mid-connection.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self' 'unsafe-inline' data: blob: https: http:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for metadata lookups. Startup continues without it.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	metadataCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = metadataCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	var resolver *metadata.Resolver
	if s.cfg.S3NewsBucket != "" {
		s3Client, err := metadata.NewS3Client(context.Background(), metadata.ClientOptions{
			Region:          s.cfg.S3Region,
			Endpoint:        s.cfg.S3Endpoint,
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("init S3 client: %w", err)
		}
		resolver = metadata.NewResolver(metadata.NewS3Source(s3Client, s.cfg.S3NewsBucket), s.cache, s.logger)
	} else {
		s.logger.Warn().Msg("no news bucket configured, catalog entries use fallback titles")
	}

	loc, err := time.LoadLocation(s.cfg.CatalogTimezone)
	if err != nil {
		return fmt.Errorf("load catalog timezone %q: %w", s.cfg.CatalogTimezone, err)
	}
	s.catalog = catalog.NewService(database, resolver, s.bus, s.logger, catalog.Config{
		Days:         s.cfg.CatalogDays,
		Location:     loc,
		BoundaryHour: s.cfg.CatalogBoundary,
		PathPrefix:   s.mediaPrefix(),
	})

	s.identity = identity.NewService(database, s.catalog.HeadID, s.bus, s.logger)

	var billingClient *billing.Client
	if s.cfg.BillingAPIBaseURL != "" {
		billingClient = billing.NewClient(s.cfg.BillingAPIBaseURL, s.logger)
	}
	s.billing = billing.NewService(database, billingClient, s.bus, s.cfg.BillingWebhookSecret, s.logger)

	ldr := loader.New(nil, loader.NewProbe(s.cfg.ConstrainedWidth), s.logger)

	s.device = player.NewRemoteDevice(s.bus)
	var cue player.CueDevice = player.NopCue{}
	if s.cfg.LeadInCueRef != "" {
		s.cueDevice = player.NewRemoteDeviceChannel(s.bus, "cue")
		cue = player.NewSourceCue(s.cueDevice, s.cfg.LeadInCueRef)
	}

	s.engine = player.NewEngine(s.device, cue, ldr, s.identity.Current, &busNotifier{bus: s.bus}, s.bus, s.logger, player.Options{
		AutoAdvanceDelay: s.cfg.AutoAdvanceDelay,
	})

	s.api = api.New(s.engine, console.New(s.engine), s.catalog, s.identity, s.billing, s.bus, s.logger)
	s.api.SetRemoteDevices(s.device, s.cueDevice)

	if s.cfg.NATSURL != "" {
		bridge, err := eventbus.NewBridge(s.cfg.NATSURL, s.bus, s.logger)
		if err != nil {
			return fmt.Errorf("connect NATS bridge: %w", err)
		}
		s.bridge = bridge
		s.DeferClose(func() error { s.bridge.Close(); return nil })
	}

	s.checker = version.NewChecker(s.logger)

	return nil
}

// mediaPrefix derives the base URL media refs are built from. A configured
// public base URL (CDN) wins over the direct bucket URL.
func (s *Server) mediaPrefix() string {
	base := s.cfg.S3PublicBaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", s.cfg.S3NewsBucket, s.cfg.S3Region)
	}
	prefix := strings.TrimRight(base, "/")
	if path := strings.Trim(s.cfg.S3AudioPath, "/"); path != "" {
		prefix += "/" + path
	}
	return prefix + "/"
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	if s.checker != nil {
		s.checker.Stop()
	}
	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsServer.Shutdown(ctx)
		cancel()
	}
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("player engine exited")
		}
	}()

	// Subscribe before the catalog loop starts so the initial refresh is
	// never missed.
	refreshed := s.bus.Subscribe(events.EventCatalogRefreshed)
	companions := s.bus.Subscribe(events.EventCompanionResolved)
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.runPlaylistSync(ctx, refreshed, companions)
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.catalog.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("catalog loop exited")
		}
	}()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if err := s.identity.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("identity loop exited")
		}
	}()

	if s.bridge != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.bridge.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("event bridge exited")
			}
		}()
	}

	s.checker.Start(ctx)

	if s.cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		s.metricsServer = &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		}
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics server exited")
			}
		}()
	}
}

// runPlaylistSync mirrors catalog refreshes into the engine playlist.
func (s *Server) runPlaylistSync(ctx context.Context, refreshed, companions events.Subscriber) {
	defer func() {
		s.bus.Unsubscribe(events.EventCatalogRefreshed, refreshed)
		s.bus.Unsubscribe(events.EventCompanionResolved, companions)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refreshed:
			s.engine.SetPlaylist(s.catalog.Playlist())
		case <-companions:
			s.engine.SetPlaylist(s.catalog.Playlist())
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get("/debug/logs", s.handleDebugLogs)
	s.router.Get("/debug/update", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(s.checker.Info())
	})

	s.api.Routes(s.router)
}

func (s *Server) handleDebugLogs(w http.ResponseWriter, r *http.Request) {
	if s.logBuffer == nil {
		http.Error(w, "log buffer disabled", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	limit := 200
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries := s.logBuffer.Query(logbuffer.QueryParams{
		Level:      q.Get("level"),
		Component:  q.Get("component"),
		Search:     q.Get("search"),
		Limit:      limit,
		Descending: true,
	})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"entries": entries,
		"stats":   s.logBuffer.Stats(),
	})
}
