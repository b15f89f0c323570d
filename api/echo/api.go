// Package echo exposes the backend over HTTP: authentication, QuartzForums,
// and the security flag admin surface. Handlers are thin request/response
// mapping over the services.
package echo

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/domain"
	mw "github.com/oldmartijntje/oldmartijntje.nl-api-sub000/middleware"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/ratelimit"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/securityflag"
	"github.com/oldmartijntje/oldmartijntje.nl-api-sub000/services"
)

// API holds the handler dependencies.
type API struct {
	auth  *services.AuthService
	forum *services.ForumService
	flags domain.SecurityFlagRepository

	// ping reports database health; nil means /health only checks liveness.
	ping func(ctx context.Context) error
}

// NewAPI initializes the HTTP API.
func NewAPI(auth *services.AuthService, forum *services.ForumService, flags domain.SecurityFlagRepository, ping func(ctx context.Context) error) *API {
	return &API{
		auth:  auth,
		forum: forum,
		flags: flags,
		ping:  ping,
	}
}

// RegisterRoutes registers all routes. The rate-limit middleware is expected
// to be installed globally by the caller before these run.
func (a *API) RegisterRoutes(e *echo.Echo, tokens *services.TokenService) {
	e.GET("/health", a.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/auth/register", a.RegisterHandler)
	e.POST("/auth/login", a.LoginHandler)

	authed := e.Group("", mw.Authenticate(tokens))
	authed.POST("/auth/logout", a.LogoutHandler)
	authed.GET("/auth/validate", a.ValidateHandler)
	authed.POST("/profile/design", a.DesignUpdateHandler)

	e.POST("/forum/:implKey/accounts", a.ForumCreateAccountHandler)
	e.GET("/forum/:implKey/messages", a.ForumListMessagesHandler)
	e.POST("/forum/:implKey/messages", a.ForumPostMessageHandler)

	admin := e.Group("/admin", mw.Authenticate(tokens), mw.RequireAuthority(a.auth, domain.AuthorityAdmin))
	admin.GET("/flags", a.ListFlagsHandler)
	admin.POST("/flags/:id/resolve", a.ResolveFlagHandler)
	admin.DELETE("/flags", a.PurgeFlagsHandler)
}

func (a *API) HealthHandler(c echo.Context) error {
	if a.ping != nil {
		if err := a.ping(c.Request().Context()); err != nil {
			log.Error().Err(err).Msg("Health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) RegisterHandler(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody("username and password are required"))
	}

	user, err := a.auth.Register(c.Request().Context(), req.Username, req.Password, mw.ClientIP(c), c.Request())
	if err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrCreationCooldown):
			return c.JSON(http.StatusTooManyRequests, errorBody(err.Error()))
		case errors.Is(err, domain.ErrDuplicateUser):
			return c.JSON(http.StatusConflict, errorBody(err.Error()))
		}
		log.Error().Err(err).Msg("Registration failed")
		return c.JSON(http.StatusInternalServerError, errorBody("registration failed"))
	}

	return c.JSON(http.StatusCreated, user)
}

func (a *API) LoginHandler(c echo.Context) error {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	user, token, err := a.auth.Login(c.Request().Context(), req.Username, req.Password, c.Request())
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, errorBody(err.Error()))
		}
		log.Error().Err(err).Msg("Login failed")
		return c.JSON(http.StatusInternalServerError, errorBody("login failed"))
	}

	return c.JSON(http.StatusOK, map[string]any{
		"token":          token.Identifier,
		"expirationDate": token.ExpirationDate,
		"user":           user,
	})
}

func (a *API) LogoutHandler(c echo.Context) error {
	if err := a.auth.Logout(c.Request().Context(), mw.Token(c)); err != nil {
		log.Error().Err(err).Msg("Logout failed")
		return c.JSON(http.StatusInternalServerError, errorBody("logout failed"))
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) ValidateHandler(c echo.Context) error {
	user, err := a.auth.GetUser(c.Request().Context(), mw.UserID(c))
	if err != nil {
		return c.JSON(http.StatusUnauthorized, errorBody("unknown user"))
	}
	return c.JSON(http.StatusOK, user)
}

func (a *API) DesignUpdateHandler(c echo.Context) error {
	err := a.auth.UpdateDesign(c.Request().Context(), mw.UserID(c))
	if err != nil {
		if errors.Is(err, ratelimit.ErrActionCooldown) {
			return c.JSON(http.StatusTooManyRequests, errorBody(err.Error()))
		}
		log.Error().Err(err).Msg("Design update failed")
		return c.JSON(http.StatusInternalServerError, errorBody("design update failed"))
	}
	return c.NoContent(http.StatusNoContent)
}

type forumAccountRequest struct {
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

func (a *API) ForumCreateAccountHandler(c echo.Context) error {
	var req forumAccountRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if req.DisplayName == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, errorBody("displayName and password are required"))
	}

	account, err := a.forum.CreateAccount(c.Request().Context(), c.Param("implKey"), req.DisplayName, req.Password, mw.ClientIP(c))
	if err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrCreationCooldown):
			return c.JSON(http.StatusTooManyRequests, errorBody(err.Error()))
		case errors.Is(err, domain.ErrDuplicateAccount):
			return c.JSON(http.StatusConflict, errorBody(err.Error()))
		}
		log.Error().Err(err).Msg("Forum account creation failed")
		return c.JSON(http.StatusInternalServerError, errorBody("account creation failed"))
	}

	return c.JSON(http.StatusCreated, account)
}

type forumMessageRequest struct {
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
	Content     string `json:"content"`
}

func (a *API) ForumPostMessageHandler(c echo.Context) error {
	var req forumMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	ctx := c.Request().Context()
	account, err := a.forum.VerifyAccount(ctx, c.Param("implKey"), req.DisplayName, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			return c.JSON(http.StatusUnauthorized, errorBody(err.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errorBody("forum login failed"))
	}

	msg, err := a.forum.PostMessage(ctx, account.ID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, ratelimit.ErrActionCooldown):
			return c.JSON(http.StatusTooManyRequests, errorBody(err.Error()))
		case errors.Is(err, services.ErrEmptyMessage):
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		log.Error().Err(err).Msg("Forum message post failed")
		return c.JSON(http.StatusInternalServerError, errorBody("message post failed"))
	}

	return c.JSON(http.StatusCreated, msg)
}

func (a *API) ForumListMessagesHandler(c echo.Context) error {
	limit := queryInt(c, "limit", 50)
	skip := queryInt(c, "skip", 0)

	msgs, err := a.forum.ListMessages(c.Request().Context(), c.Param("implKey"), limit, skip)
	if err != nil {
		log.Error().Err(err).Msg("Forum message list failed")
		return c.JSON(http.StatusInternalServerError, errorBody("message list failed"))
	}
	return c.JSON(http.StatusOK, msgs)
}

func (a *API) ListFlagsHandler(c echo.Context) error {
	filter := domain.SecurityFlagFilter{
		RiskLevel:      int(queryInt(c, "riskLevel", 0)),
		MinRiskLevel:   int(queryInt(c, "minRiskLevel", 0)),
		IPAddress:      c.QueryParam("ip"),
		Description:    c.QueryParam("description"),
		UserIdentity:   c.QueryParam("user"),
		FileName:       c.QueryParam("fileName"),
		AdditionalData: c.QueryParam("additionalData"),
		DateText:       c.QueryParam("date"),
		Limit:          queryInt(c, "limit", 100),
		Skip:           queryInt(c, "skip", 0),
	}
	if v := c.QueryParam("resolved"); v != "" {
		resolved := v == "true"
		filter.Resolved = &resolved
	}
	if v := c.QueryParam("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.FromDate = t
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.ToDate = t
		}
	}

	flags, err := a.flags.List(c.Request().Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Security flag list failed")
		return c.JSON(http.StatusInternalServerError, errorBody("flag list failed"))
	}
	return c.JSON(http.StatusOK, flags)
}

type resolveFlagRequest struct {
	Notes string `json:"notes"`
}

func (a *API) ResolveFlagHandler(c echo.Context) error {
	var req resolveFlagRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	flag, err := securityflag.Resolve(c.Request().Context(), a.flags, c.Param("id"), mw.UserID(c), req.Notes)
	if err != nil {
		if errors.Is(err, domain.ErrFlagNotFound) {
			return c.JSON(http.StatusNotFound, errorBody(err.Error()))
		}
		log.Error().Err(err).Msg("Security flag resolve failed")
		return c.JSON(http.StatusInternalServerError, errorBody("flag resolve failed"))
	}
	return c.JSON(http.StatusOK, flag)
}

func (a *API) PurgeFlagsHandler(c echo.Context) error {
	before := c.QueryParam("before")
	cutoff, err := time.Parse(time.RFC3339, before)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("before must be an RFC3339 timestamp"))
	}

	removed, err := a.flags.PurgeResolvedBefore(c.Request().Context(), cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Security flag purge failed")
		return c.JSON(http.StatusInternalServerError, errorBody("flag purge failed"))
	}
	return c.JSON(http.StatusOK, map[string]int64{"removed": removed})
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func queryInt(c echo.Context, name string, fallback int64) int64 {
	v := c.QueryParam(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
