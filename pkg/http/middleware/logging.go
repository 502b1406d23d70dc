package middleware

import (
	"time"

	"MarketPull/pkg/logger"

	"github.com/labstack/echo/v4"
)

// RequestLogging logs every request at debug, 5xx responses at error and
// requests slower than slow at warn.
func RequestLogging(lgr *logger.Logger, slow time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			res := c.Response()
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			latency := time.Since(start)
			fields := []logger.Field{
				logger.String("method", req.Method),
				logger.String("route", routeLabel(c)),
				logger.String("remote", c.RealIP()),
				logger.Int("status", res.Status),
				logger.Int64("bytes", res.Size),
				logger.Duration("duration_ms", latency),
			}
			switch {
			case res.Status >= 500:
				lgr.Error("http request failed", append(fields, logger.Error(err))...)
			case slow > 0 && latency >= slow:
				lgr.Warn("http request slow", fields...)
			default:
				lgr.Debug("http request", fields...)
			}
			return nil
		}
	}
}
