// Package server exposes identification, narration and the component catalog over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/book-expert/component-narrator/internal/catalog"
	"github.com/book-expert/component-narrator/internal/config"
	"github.com/book-expert/component-narrator/internal/metrics"
	"github.com/book-expert/component-narrator/internal/ranking"
	"github.com/book-expert/component-narrator/internal/tts"
)

const (
	shutdownTimeout = 10 * time.Second

	// Base64 grows data by 4/3; the slack covers the JSON envelope.
	bodyLimitSlack = 64 * 1024
)

// Identifier ranks an image against the component catalog.
type Identifier interface {
	Rank(ctx context.Context, query ranking.Query) (*ranking.Result, error)
}

// Narrator synthesizes text either in one piece or sentence by sentence.
type Narrator interface {
	Synthesize(ctx context.Context, text string, progress tts.ProgressFunc) (*tts.Result, error)
	Stream(ctx context.Context, text string, emit func(tts.Chunk) error) (*tts.StreamSummary, error)
}

// Dependencies are the collaborators behind the HTTP API. Metrics, Health and
// ModelsReady may be nil.
type Dependencies struct {
	Catalog     *catalog.Catalog
	Identifier  Identifier
	Speaker     Narrator
	Streamer    Narrator
	Metrics     *metrics.NarratorMetrics
	Health      func(ctx context.Context) error
	ModelsReady func() (classifier, synthesizer bool)
}

// Server is the HTTP API.
type Server struct {
	echo       *echo.Echo
	deps       Dependencies
	cfg        config.ServerConfig
	audioCache *cache.Cache
	log        *logger.Logger
}

// New creates the server and registers its routes. Synthesized audio is cached for
// audioCacheTTL.
func New(cfg config.ServerConfig, audioCacheTTL time.Duration, deps Dependencies, log *logger.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:       e,
		deps:       deps,
		cfg:        cfg,
		audioCache: cache.New(audioCacheTTL, 2*audioCacheTTL),
		log:        log,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(s.loggingMiddleware())

	s.initRoutes()

	return s
}

// imageBodyLimit rejects oversized identify bodies with the identify response shape.
func imageBodyLimit(limit string) echo.MiddlewareFunc {
	bodyLimit := middleware.BodyLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		limited := bodyLimit(next)

		return func(c echo.Context) error {
			err := limited(c)
			if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
				return c.JSON(http.StatusRequestEntityTooLarge, identifyResponse{Error: msgImageTooLarge})
			}

			return err
		}
	}
}

func (s *Server) initRoutes() {
	imageLimit := strconv.Itoa(s.cfg.MaxImageBytes*4/3+bodyLimitSlack) + "B"

	api := s.echo.Group("/api")
	api.POST("/identify", s.handleIdentify, imageBodyLimit(imageLimit))
	api.POST("/speak", s.handleSpeak)
	api.POST("/speak-stream", s.handleSpeakStream)
	api.GET("/components", s.handleListComponents)
	api.GET("/components/:id", s.handleGetComponent)

	s.echo.GET("/health", s.handleHealth)

	if s.deps.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on the configured address until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.log.System("HTTP API listening on %s", s.cfg.Address)
		errChan <- s.echo.Start(s.cfg.Address)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := s.echo.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	return nil
}

func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.log.Warn("%s %s -> %d in %s [%s]: %v", v.Method, v.URI, v.Status, v.Latency, v.RequestID, v.Error)

				return nil
			}

			s.log.Info("%s %s -> %d in %s [%s]", v.Method, v.URI, v.Status, v.Latency, v.RequestID)

			return nil
		},
	})
}
