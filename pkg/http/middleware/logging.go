package middleware

import (
	"time"

	applogger "SignalPipe/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestLogging logs each request with the id assigned by echo's RequestID
// middleware, which must run first. Server errors log at error level and
// requests slower than slow at warn; the rest at debug.
func RequestLogging(l *applogger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			took := time.Since(start)

			req, res := c.Request(), c.Response()
			fields := []applogger.Field{
				applogger.String("request_id", res.Header().Get(echo.HeaderXRequestID)),
				applogger.String("method", req.Method),
				applogger.String("route", c.Path()),
				applogger.String("query", req.URL.RawQuery),
				applogger.String("remote", c.RealIP()),
				applogger.Int("status", res.Status),
				applogger.Duration("latency", took),
			}
			switch {
			case res.Status >= 500:
				l.Error("http request failed", fields...)
			case slow > 0 && took >= slow:
				l.Warn("http request slow", fields...)
			default:
				l.Debug("http request", fields...)
			}
			return err
		}
	}
}

// Recover turns handler panics into a 500 and logs them with the stack.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		DisablePrintStack: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			l.Error("http handler panic",
				applogger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				applogger.String("route", c.Path()),
				applogger.Error(err),
				applogger.String("stack", string(stack)))
			return err
		},
	})
}
