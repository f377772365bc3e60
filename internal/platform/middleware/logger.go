package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ipd/internal/platform/auth"
)

// requestLog decorates evt with the fields that identify a request.
func requestLog(evt *zerolog.Event, c echo.Context) *zerolog.Event {
	req := c.Request()
	evt = evt.Str("method", req.Method).Str("path", req.URL.Path)
	if rid, ok := c.Get("request_id").(string); ok {
		evt = evt.Str("request_id", rid)
	}
	if tenant, ok := c.Get("tenant_id").(string); ok && tenant != "" {
		evt = evt.Str("tenant", tenant)
	}
	if uid := auth.UserIDFromContext(req.Context()); uid != "" {
		evt = evt.Str("user", uid)
	}
	return evt
}

func statusFor(c echo.Context, err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if err != nil && !c.Response().Committed {
		return http.StatusInternalServerError
	}
	return c.Response().Status
}

// Logger writes one access line per request at info, warn for 4xx or error
// for 5xx.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			status := statusFor(c, err)

			var evt *zerolog.Event
			switch {
			case status >= http.StatusInternalServerError:
				evt = logger.Error().Err(err)
			case status >= http.StatusBadRequest:
				evt = logger.Warn()
				if err != nil {
					evt = evt.Str("error", err.Error())
				}
			default:
				evt = logger.Info()
			}
			requestLog(evt, c).
				Int("status", status).
				Int64("bytes_out", c.Response().Size).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")
			return err
		}
	}
}
