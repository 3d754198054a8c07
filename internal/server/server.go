package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"smart-router/internal/config"
	"smart-router/internal/models"
	"smart-router/internal/provider"
	"smart-router/internal/router"
	"smart-router/internal/translator"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	idleTimeout         = 120 * time.Second

	headerClassification = "X-Smart-Router-Classification"
	headerModel          = "X-Smart-Router-Model"

	msgInternal       = "An internal error occurred."
	msgStreamInternal = "An internal error occurred while streaming the answer."
)

// Server exposes the router over an OpenAI-compatible HTTP API.
type Server struct {
	cfg      config.Config
	router   *router.Router
	registry *provider.Registry
	app      *echo.Echo
	address  string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, rt *router.Router, registry *provider.Registry) (*Server, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := log.Info()
			if v.Error != nil {
				event = log.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
		ExposeHeaders: []string{
			headerClassification,
			headerModel,
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv := &Server{
		cfg:      cfg,
		router:   rt,
		registry: registry,
		app:      e,
		address:  net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
	}

	srv.registerRoutes()

	return srv, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg)
	log.Info().Str("addr", s.address).Msg("starting server")

	httpServer := &http.Server{
		Addr:         s.address,
		Handler:      s.app,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		log.Info().Msg("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/v1/models", s.handleModels)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(c echo.Context) error {
	list := translator.NewModelList(s.registry.ModelIDs(), s.registry.Owner, time.Now().Unix())
	return c.JSON(http.StatusOK, list)
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}

	query, err := req.Query()
	if err != nil {
		return toHTTPError(err)
	}

	ctx := c.Request().Context()
	route := s.router.Decide(ctx, query)

	header := c.Response().Header()
	header.Set(headerClassification, route.Classification.String())
	header.Set(headerModel, route.Model)

	if req.Stream {
		return s.streamAnswer(c, route, query)
	}

	result, err := s.router.Answer(ctx, route, query)
	if err != nil {
		log.Error().Err(err).Str("model", route.Model).Msg("answer generation failed")
		return toHTTPError(err)
	}

	resp := translator.NewCompletionResponse(translator.NewCompletionID(), result.ModelUsed, time.Now().Unix(), result.Answer)
	return c.JSON(http.StatusOK, resp)
}

// streamAnswer opens the provider stream before committing the response so
// that an open failure can still be reported as a JSON error.
func (s *Server) streamAnswer(c echo.Context, route models.Route, query string) error {
	ctx := c.Request().Context()

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		log.Error().Msg("http writer does not support flushing")
		return requestError{Status: http.StatusInternalServerError, Message: msgInternal}
	}

	stream, err := s.router.Stream(ctx, route, query)
	if err != nil {
		if ctx.Err() != nil {
			log.Debug().Err(err).Msg("client disconnected before stream opened")
			return nil
		}
		log.Error().Err(err).Str("model", route.Model).Msg("opening answer stream failed")
		return toHTTPError(err)
	}
	defer stream.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)
	flusher.Flush()

	w := c.Response()
	id := translator.NewCompletionID()
	created := time.Now().Unix()
	fragments := 0

	for {
		fragment, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				log.Debug().Int("fragments", fragments).Msg("client disconnected during stream")
				return nil
			}
			log.Error().Err(err).Str("model", route.Model).Int("fragments", fragments).Msg("answer stream failed")
			if err := writeSSEData(w, translator.ErrorResponse{Error: msgStreamInternal}); err != nil {
				log.Debug().Err(err).Msg("failed to write stream error frame")
			}
			flusher.Flush()
			return nil
		}
		if fragment == "" {
			continue
		}

		if err := writeSSEData(w, translator.NewDeltaChunk(id, route.Model, created, fragment)); err != nil {
			log.Debug().Err(err).Msg("failed to write SSE chunk")
			return nil
		}
		flusher.Flush()
		fragments++
	}

	if err := writeSSEData(w, translator.NewStopChunk(id, route.Model, created)); err != nil {
		log.Debug().Err(err).Msg("failed to write SSE stop chunk")
		return nil
	}
	if err := writeSSEDone(w); err != nil {
		log.Debug().Err(err).Msg("failed to write SSE terminator")
		return nil
	}
	flusher.Flush()
	return nil
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
}

func (e requestError) Error() string {
	return e.Message
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = c.JSON(reqErr.Status, translator.ErrorResponse{Error: reqErr.Message})
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		_ = c.JSON(he.Code, translator.ErrorResponse{Error: fmt.Sprint(he.Message)})
		return
	}

	log.Error().Err(err).Msg("unhandled request error")
	_ = c.JSON(http.StatusInternalServerError, translator.ErrorResponse{Error: msgInternal})
}

// clientErrors maps request validation failures to their wire messages.
var clientErrors = []struct {
	err     error
	message string
}{
	{translator.ErrNoMessages, "Messages are required"},
	{translator.ErrNoUserMessage, "No user message found"},
	{translator.ErrEmptyQuery, "User message content must not be empty"},
}

func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	for _, m := range clientErrors {
		if errors.Is(err, m.err) {
			return requestError{Status: http.StatusBadRequest, Message: m.message}
		}
	}

	return requestError{Status: http.StatusInternalServerError, Message: msgInternal}
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func writeSSEDone(w io.Writer) error {
	if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("write SSE terminator: %w", err)
	}
	return nil
}

func printStartupBanner(cfg config.Config) {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	base := "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))

	fmt.Println()
	fmt.Println("smart-router ready")
	fmt.Printf("Listening on %s\n", base)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Printf("Routing: classifier=%s trivial=%s complex=%s\n", cfg.Routing.ClassifierModel, cfg.Routing.FastModel, cfg.Routing.CapableModel)
	fmt.Printf("Example:\n  curl %s/v1/chat/completions -H 'Content-Type: application/json' -d '{\"messages\":[{\"role\":\"user\",\"content\":\"What is the capital of France?\"}]}'\n\n", base)
}
