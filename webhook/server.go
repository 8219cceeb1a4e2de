package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/zap"
)

const MaxBodySize = "1M"

// Server exposes the push endpoints and the metrics endpoint.
type Server struct {
	echo     *echo.Echo
	ingestor *Ingestor
	addr     string
	logger   *zap.SugaredLogger
}

func NewServer(addr string, ingestor *Ingestor, logger *zap.SugaredLogger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		ingestor: ingestor,
		addr:     addr,
		logger:   logger,
	}
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health/live", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/webhook/:platform", s.handleNotification, middleware.BodyLimit(MaxBodySize))
	s.echo.GET("/webhook/:platform", s.handleChallenge)
}

// Handler is the underlying http.Handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	s.logger.With(zap.String("addr", s.addr)).Info("Webhook server listening")

	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleNotification(c echo.Context) error {
	platform, err := stream.ParsePlatform(c.Param("platform"))
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return httpErr
		}
		return c.NoContent(http.StatusBadRequest)
	}

	resp, err := s.ingestor.Handle(c.Request().Context(), platform, c.Request().Header, body)
	return s.respond(c, resp, err)
}

func (s *Server) handleChallenge(c echo.Context) error {
	platform, err := stream.ParsePlatform(c.Param("platform"))
	if err != nil {
		return c.NoContent(http.StatusNotFound)
	}

	resp, err := s.ingestor.HandleChallenge(c.Request().Context(), platform, c.QueryParams())
	return s.respond(c, resp, err)
}

func (s *Server) respond(c echo.Context, resp *Response, err error) error {
	switch {
	case errors.Is(err, stream.ErrSignatureInvalid):
		return c.NoContent(http.StatusUnauthorized)
	case errors.Is(err, stream.ErrUnsupportedPlatform):
		return c.NoContent(http.StatusNotFound)
	case errors.Is(err, ErrMalformedPayload):
		return c.NoContent(http.StatusBadRequest)
	case err != nil:
		s.logger.With(zap.Error(err)).Error("Failed to handle webhook")
		return c.NoContent(http.StatusInternalServerError)
	}

	if resp.Body == "" {
		return c.NoContent(resp.StatusCode)
	}
	return c.String(resp.StatusCode, resp.Body)
}
