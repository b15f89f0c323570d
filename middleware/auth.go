package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/services"
)

// Context keys set by the auth middleware.
const (
	UserIDContextKey = "auth_user_id"
	TokenContextKey  = "auth_token"
)

// Authenticate returns middleware that validates the bearer token and stores
// the resolved user ID on the context. Token failures are 401, distinct from
// rate-limit 429s.
func Authenticate(tokens *services.TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identifier, err := bearerToken(c.Request())
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			userID, err := tokens.Validate(c.Request().Context(), identifier)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrTokenExpired):
					return echo.NewHTTPError(http.StatusUnauthorized, "session expired")
				case errors.Is(err, domain.ErrTokenNotFound):
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid session token")
				default:
					return err
				}
			}

			c.Set(UserIDContextKey, userID)
			c.Set(TokenContextKey, identifier)
			return next(c)
		}
	}
}

// RequireAuthority returns middleware enforcing a minimum authority level.
// It must run after Authenticate.
func RequireAuthority(auth *services.AuthService, minAuthority int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := UserID(c)
			if userID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
			}
			user, err := auth.GetUser(c.Request().Context(), userID)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
			}
			if user.Authority < minAuthority {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient authority")
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated user ID, or "" when unauthenticated.
func UserID(c echo.Context) string {
	if id, ok := c.Get(UserIDContextKey).(string); ok {
		return id
	}
	return ""
}

// Token returns the presented token identifier, or "".
func Token(c echo.Context) string {
	if t, ok := c.Get(TokenContextKey).(string); ok {
		return t
	}
	return ""
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format: expected Bearer token")
	}
	return parts[1], nil
}
