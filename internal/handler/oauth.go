package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/taskhive/backend/internal/service"
	"github.com/taskhive/backend/internal/template"
)

const (
	stateCookieName   = "taskhive_oauth_state"
	stateCookieMaxAge = 600
)

type OAuthHandler struct {
	svc       *service.OAuthService
	auth      *AuthHandler
	appOrigin string
	secure    bool
	logger    *slog.Logger
}

func NewOAuthHandler(svc *service.OAuthService, auth *AuthHandler, appOrigin string, secure bool, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{
		svc:       svc,
		auth:      auth,
		appOrigin: appOrigin,
		secure:    secure,
		logger:    logger,
	}
}

// Begin redirects the popup into the provider consent flow. A state
// nonce cookie ties the callback to this browser.
func (h *OAuthHandler) Begin(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := uuid.NewString()

		url, err := h.svc.AuthCodeURL(provider, state)
		if err != nil {
			h.renderFailure(c, err)
			return
		}

		// Lax so the cookie survives the provider's top-level redirect back.
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(stateCookieName, state, stateCookieMaxAge, "/auth", "", h.secure, true)
		c.Redirect(http.StatusTemporaryRedirect, url)
	}
}

// Callback completes the exchange and hands the result to the opener
// window. Every outcome renders the postMessage page so the popup always
// reports back instead of stranding the opener.
func (h *OAuthHandler) Callback(provider string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.callback(c, provider)
	}
}

func (h *OAuthHandler) callback(c *gin.Context, provider string) {
	state, err := c.Cookie(stateCookieName)
	if err != nil || state == "" || c.Query("state") != state {
		h.renderFailure(c, errors.New("state mismatch"))
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookieName, "", -1, "/auth", "", h.secure, true)

	if errMsg := c.Query("error"); errMsg != "" {
		h.renderFailure(c, errors.New(errMsg))
		return
	}

	code := c.Query("code")
	if code == "" {
		h.renderFailure(c, errors.New("missing authorization code"))
		return
	}

	accessToken, refreshToken, user, err := h.svc.Exchange(c.Request.Context(), provider, code)
	if err != nil {
		h.logger.Warn("oauth exchange failed", "provider", provider, "error", err)
		h.renderFailure(c, err)
		return
	}

	h.auth.SetRefreshCookie(c, refreshToken)
	h.render(c, template.CallbackPayload{
		Success:     true,
		AccessToken: accessToken,
		Account:     user.Account(),
	})
}

func (h *OAuthHandler) renderFailure(c *gin.Context, err error) {
	msg := "authentication failed"
	switch {
	case errors.Is(err, service.ErrUnknownProvider):
		msg = "unknown provider"
	case errors.Is(err, service.ErrProviderDisabled):
		msg = "provider not configured"
	}
	h.render(c, template.CallbackPayload{Success: false, Error: msg})
}

func (h *OAuthHandler) render(c *gin.Context, payload template.CallbackPayload) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := template.RenderCallback(c.Writer, template.CallbackData{
		TargetOrigin: h.appOrigin,
		Payload:      payload,
	}); err != nil {
		h.logger.Error("render callback page", "error", err)
	}
}
