// Package middleware wires the rate limiter and authenticator into the echo
// request pipeline.
package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/internal/requestip"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/ratelimit"
)

// ClientIPContextKey is where the derived client IP is stored on the echo
// context so handlers do not re-run extraction.
const ClientIPContextKey = "client_ip"

// RateLimit returns middleware that evaluates every request against the
// limiter before any business logic runs. Throttled and blacklisted requests
// short-circuit with 429 and never reach downstream handlers.
func RateLimit(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := requestip.FromRequest(c.Request())
			c.Set(ClientIPContextKey, ip)

			err := limiter.Check(c.Request().Context(), ip)
			if err == nil {
				return next(c)
			}
			if errors.Is(err, ratelimit.ErrThrottled) || errors.Is(err, ratelimit.ErrBlacklisted) {
				return c.JSON(http.StatusTooManyRequests, map[string]string{
					"error": err.Error(),
				})
			}
			return err
		}
	}
}

// ClientIP returns the IP the rate limiter derived for this request.
func ClientIP(c echo.Context) string {
	if ip, ok := c.Get(ClientIPContextKey).(string); ok {
		return ip
	}
	return requestip.FromRequest(c.Request())
}
