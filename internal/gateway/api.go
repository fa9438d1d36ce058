// ABOUTME: Control endpoint handlers: install, start, stop, status, health and result pages
// ABOUTME: Onboarding failures end on the error page; API errors use the status envelope

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/2389/coven-fleet/internal/apperr"
	"github.com/2389/coven-fleet/internal/assets"
	"github.com/2389/coven-fleet/internal/fleet"
	"github.com/2389/coven-fleet/internal/store"
)

// corsHeaders are the request headers browsers may send cross-origin.
var corsHeaders = []string{
	echo.HeaderOrigin,
	"X-Requested-With",
	echo.HeaderContentType,
	echo.HeaderAccept,
}

// StatusEnvelope is the status object every JSON response carries.
type StatusEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status StatusEnvelope `json:"status"`
}

type statusResponse struct {
	BotsCount int            `json:"botsCount"`
	Sessions  int            `json:"sessions"`
	Status    StatusEnvelope `json:"status"`
}

// startParams are read from the query string and, when present, a JSON body.
type startParams struct {
	Code        string `query:"code" json:"code"`
	State       string `query:"state" json:"state"`
	RedirectURI string `query:"redirect_uri" json:"redirect_uri"`
}

func newEcho(g *Gateway) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(permissiveCORS)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: corsHeaders,
	}))
	e.Use(g.requestLogger())

	e.GET("/health", g.handleHealth)
	e.GET("/success.html", g.handlePage(assets.PageSuccess))
	e.GET("/error.html", g.handlePage(assets.PageError))
	e.GET("/static/*", echo.WrapHandler(http.StripPrefix("/static/", assets.FileServer())))

	for _, prefix := range []string{"", "/api"} {
		grp := e.Group(prefix)
		grp.GET("/install", g.handleInstall)
		grp.GET("/start", g.handleStart)
		grp.POST("/stop", g.handleStop)
		grp.GET("/status", g.handleStatus)
	}
	return e
}

// permissiveCORS sets the CORS headers on every response, not only on
// requests that carry an Origin.
func permissiveCORS(next echo.HandlerFunc) echo.HandlerFunc {
	allowHeaders := strings.Join(corsHeaders, ", ")
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowOrigin, "*")
		h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
		return next(c)
	}
}

// requestLogger logs each request through the gateway logger.
func (g *Gateway) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			g.logger.Debug("http request",
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	})
}

func envelope(c echo.Context, code int, message string) error {
	return c.JSON(code, errorResponse{Status: StatusEnvelope{Code: code, Message: message}})
}

func (g *Gateway) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (g *Gateway) handlePage(name string) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		c.Response().WriteHeader(http.StatusOK)
		data := assets.PageData{Message: c.QueryParam("message")}
		if err := g.pages.Render(c.Response(), name, data); err != nil {
			g.logger.Error("rendering page", "page", name, "error", err)
		}
		return nil
	}
}

// handleInstall sends the browser to the platform's authorize page.
func (g *Gateway) handleInstall(c echo.Context) error {
	redirectURI := g.redirectURI()

	q := url.Values{}
	q.Set("client_id", g.config.Slack.ClientID)
	q.Set("scope", strings.Join(g.config.Slack.Scopes, ","))
	if redirectURI != "" {
		q.Set("redirect_uri", redirectURI)
	}
	if g.signer != nil {
		state, err := g.signer.Issue(redirectURI)
		if err != nil {
			g.logger.Error("issuing install state", "error", err)
			return envelope(c, http.StatusInternalServerError, "could not start install")
		}
		q.Set("state", state)
	}
	return c.Redirect(http.StatusFound, g.config.Slack.AuthorizeURL+"?"+q.Encode())
}

// handleStart completes an install: exchange the code, bring the bot up,
// then persist it.
func (g *Gateway) handleStart(c echo.Context) error {
	var params startParams
	if err := c.Bind(&params); err != nil {
		return envelope(c, http.StatusBadRequest, "invalid request")
	}
	if params.Code == "" {
		return envelope(c, http.StatusBadRequest, "Empty authentication code")
	}

	redirectURI := params.RedirectURI
	if g.signer != nil {
		bound, err := g.signer.Verify(params.State)
		if err != nil {
			return g.failStart(c, apperr.Wrap(apperr.ErrInvalidRequest, err))
		}
		if redirectURI == "" {
			redirectURI = bound
		}
	}
	if redirectURI == "" {
		redirectURI = g.redirectURI()
	}

	// the install finishes even if the browser goes away
	ctx := context.WithoutCancel(c.Request().Context())

	grant, err := g.exchanger.Exchange(ctx, params.Code, redirectURI)
	if err != nil {
		return g.failStart(c, err)
	}

	tenant := &store.Tenant{
		Token:     grant.Access.BotToken,
		BotUserID: grant.Access.BotUserID,
		CreatedBy: grant.Identity.UserID,
		Team:      grant.Identity.Team,
		TeamID:    grant.Identity.TeamID,
		FirstRun:  true,
		NLUActive: true,
	}
	logger := g.logger.With("team_id", tenant.TeamID, "token", tenant.Preview())

	if g.fleet.IsRunning(tenant.Token) {
		return g.failStart(c, fleet.ErrAlreadyRunning)
	}

	conn, err := g.fleet.Activate(ctx, tenant)
	if err != nil {
		return g.failStart(c, err)
	}

	saved := conn.Tenant()
	if err := g.store.Upsert(ctx, &saved); err != nil {
		logger.Error("persisting new tenant", "error", err)
	}

	logger.Info("tenant installed", "team", tenant.Team, "created_by", tenant.CreatedBy)
	return c.Redirect(http.StatusFound, "/success.html")
}

func (g *Gateway) failStart(c echo.Context, err error) error {
	level := g.logger.Warn
	if errors.Is(err, apperr.ErrTransport) || errors.Is(err, apperr.ErrPersistence) {
		level = g.logger.Error
	}
	level("install failed", "error", err, "http_status", apperr.HTTPStatus(err))
	return c.Redirect(http.StatusFound, "/error.html?message="+url.QueryEscape(err.Error()))
}

func (g *Gateway) handleStop(c echo.Context) error {
	return envelope(c, http.StatusBadRequest, "not implemented yet")
}

func (g *Gateway) handleStatus(c echo.Context) error {
	st := g.fleet.Status()
	return c.JSON(http.StatusOK, statusResponse{
		BotsCount: st.Bots,
		Sessions:  st.Sessions,
		Status:    StatusEnvelope{Code: http.StatusOK, Message: "bots count"},
	})
}

// redirectURI is the configured OAuth callback, derived from the public URL
// when not set explicitly.
func (g *Gateway) redirectURI() string {
	if g.config.Slack.RedirectURI != "" {
		return g.config.Slack.RedirectURI
	}
	if g.config.Server.PublicURL != "" {
		return strings.TrimSuffix(g.config.Server.PublicURL, "/") + "/start"
	}
	return ""
}
