// Package server provides the HTTP control API of the importer.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/viewra-importer/internal/config"
	"github.com/mantonx/viewra-importer/internal/events"
	"github.com/mantonx/viewra-importer/internal/importer"
	"github.com/mantonx/viewra-importer/internal/middleware"
	"github.com/mantonx/viewra-importer/internal/server/handlers"
)

// Deps are the components exposed over HTTP. Nil components have no routes.
type Deps struct {
	Importer handlers.Importer
	Browsing importer.MediaBrowsing
	Results  importer.ResultHandler
	Counter  handlers.ItemCounter
	Shares   handlers.ShareManager
	Bus      *events.Bus
}

// Server is the HTTP control API
type Server struct {
	cfg          config.ServerConfig
	deps         Deps
	logger       hclog.Logger
	router       *gin.Engine
	hub          *EventHub
	httpServer   *http.Server
	subscription *events.Subscription
	cancelHub    context.CancelFunc
}

// New builds the router and subscribes the websocket hub to the bus
func New(cfg config.ServerConfig, deps Deps, logger hclog.Logger) *Server {
	logger = logger.Named("server")

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		hub:    NewEventHub(logger),
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.ErrorLogger(logger))
	if cfg.EnableCORS {
		r.Use(middleware.CORS())
	}
	s.setupRoutes(r)
	s.router = r

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	hubCtx, cancel := context.WithCancel(context.Background())
	s.cancelHub = cancel
	go s.hub.Run(hubCtx)

	if deps.Bus != nil {
		s.subscription = deps.Bus.Subscribe(events.EventFilter{}, s.hub.HandleEvent)
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and disconnects websocket clients
func (s *Server) Shutdown(ctx context.Context) error {
	if s.subscription != nil && s.deps.Bus != nil {
		_ = s.deps.Bus.Unsubscribe(s.subscription.ID)
	}
	s.cancelHub()
	return s.httpServer.Shutdown(ctx)
}
