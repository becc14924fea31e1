package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ParthMatta-9921/Chatapp/internal/api"
	"github.com/ParthMatta-9921/Chatapp/internal/auth"
	"github.com/ParthMatta-9921/Chatapp/internal/config"
	"github.com/ParthMatta-9921/Chatapp/internal/registry"
	"github.com/ParthMatta-9921/Chatapp/internal/store"
)

// ChatServer wires dependencies and hosts the HTTP listeners.
type ChatServer struct {
	cfg    config.Config
	log    *zap.Logger
	store  *store.Store
	tokens *auth.Manager

	httpSrv   *http.Server
	adminHTTP *http.Server
	metrics   *chatMetrics
	ready     atomic.Bool
}

// New constructs a server with its dependencies.
func New(cfg config.Config, logger *zap.Logger, st *store.Store, tokens *auth.Manager) *ChatServer {
	gin.SetMode(gin.ReleaseMode)
	return &ChatServer{
		cfg:    cfg,
		log:    logger,
		store:  st,
		tokens: tokens,
	}
}

// Start boots the HTTP server and blocks until shutdown.
func (s *ChatServer) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.HTTPAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddress, err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	s.metrics = newChatMetrics(promReg)
	s.startAdminServer(promReg)

	conns := registry.NewInMemory()
	router := NewRouter(s.log, s.store, s.store, conns, RouterOptions{
		Metrics:         s.metrics,
		HistoryLimit:    s.cfg.Chat.HistoryLimit,
		MaxContentBytes: s.cfg.Chat.MaxContentBytes,
	})
	gateway := NewGateway(s.log, s.tokens, conns, router, GatewayOptions{
		Metrics:            s.metrics,
		SendBufferSize:     s.cfg.Chat.SendBufferSize,
		MaxContentBytes:    s.cfg.Chat.MaxContentBytes,
		SessionIdleTimeout: s.cfg.Chat.SessionIdleTimeout,
		SweepInterval:      s.cfg.Chat.SweepInterval,
	})
	gateway.StartHousekeeping(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery())
	api.NewHandler(s.log, s.store, s.tokens).Register(engine)
	engine.GET("/chat/ws", func(c *gin.Context) {
		gateway.HandleUpgrade(c.Writer, c.Request)
	})

	s.httpSrv = &http.Server{
		Addr:    s.cfg.HTTPAddress,
		Handler: engine,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("http server listening", zap.String("address", lis.Addr().String()))
		s.ready.Store(true)
		if err := s.httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGracePeriod)
		defer cancel()
		s.Shutdown(stopCtx)
		return nil
	})
	return g.Wait()
}

func (s *ChatServer) startAdminServer(reg *prometheus.Registry) {
	if s.cfg.Admin.Address == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not_ready"))
	})

	s.adminHTTP = &http.Server{
		Addr:              s.cfg.Admin.Address,
		Handler:           mux,
		ReadHeaderTimeout: s.cfg.Admin.ReadHeaderTimeout,
	}

	go func() {
		if err := s.adminHTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server stopped", zap.Error(err))
		}
	}()
	s.log.Info("admin server listening", zap.String("address", s.cfg.Admin.Address))
}

// Shutdown attempts a graceful stop before forcing termination.
func (s *ChatServer) Shutdown(ctx context.Context) {
	s.ready.Store(false)

	if s.adminHTTP != nil {
		if err := s.adminHTTP.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("admin server shutdown", zap.Error(err))
		}
	}
	if s.httpSrv == nil {
		return
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.log.Warn("graceful shutdown timed out; forcing close", zap.Error(err))
		_ = s.httpSrv.Close()
		return
	}
	s.log.Info("http server stopped")
}
