package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/ipd/pkg/apperr"
)

// Recovery turns a handler panic into a 500 with the INTERNAL error body and
// logs the panic value with its stack.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				cause, ok := r.(error)
				if !ok {
					cause = fmt.Errorf("%v", r)
				}
				requestLog(logger.Error(), c).
					Err(cause).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				err = apperr.ToHTTP(apperr.Internal("handler panicked", cause))
			}()
			return next(c)
		}
	}
}
