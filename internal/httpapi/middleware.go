package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
)

const maxRequestBody = "4M"

func (s *Server) middleware() []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		middleware.Recover(),
		middleware.RequestID(),
		middleware.BodyLimit(maxRequestBody),
		middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
			MaxAge:       3600,
		}),
		middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogStatus:     true,
			LogURI:        true,
			LogMethod:     true,
			LogLatency:    true,
			LogRemoteIP:   true,
			LogRequestID:  true,
			LogError:      true,
			LogValuesFunc: s.logRequest,
		}),
	}
}

// logRequest logs server errors at error level, client errors at warn and
// health probes at debug.
func (s *Server) logRequest(c echo.Context, v middleware.RequestLoggerValues) error {
	var event *zerolog.Event
	switch {
	case v.Error != nil || v.Status >= http.StatusInternalServerError:
		event = s.logger.Error().Err(v.Error)
	case v.Status >= http.StatusBadRequest:
		event = s.logger.Warn()
	case c.Path() == "/api/v1/health":
		event = s.logger.Debug()
	default:
		event = s.logger.Info()
	}
	event.
		Str("request_id", v.RequestID).
		Str("method", v.Method).
		Str("uri", v.URI).
		Int("status", v.Status).
		Dur("latency", v.Latency).
		Str("remote_ip", v.RemoteIP).
		Msg("http request")
	return nil
}
