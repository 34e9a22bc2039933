package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/taskhive/backend/internal/service"
	"github.com/taskhive/backend/pkg/api"
)

type AuthHandler struct {
	svc *service.AuthService
}

func NewAuthHandler(svc *service.AuthService) *AuthHandler {
	return &AuthHandler{svc: svc}
}

// Register creates a password account. No credential is issued; clients
// follow up with a login.
func (h *AuthHandler) Register(c *gin.Context) {
	var req api.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request", api.CodeInvalidInput)
		return
	}

	user, err := h.svc.Register(c.Request.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, user.Account())
}

// Login sets the refresh cookie and returns the access token with the
// account.
func (h *AuthHandler) Login(c *gin.Context) {
	var req api.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request", api.CodeInvalidInput)
		return
	}

	accessToken, refreshToken, user, err := h.svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	h.SetRefreshCookie(c, refreshToken)
	c.JSON(http.StatusOK, api.AuthResponse{
		AccessToken: accessToken,
		Account:     user.Account(),
	})
}

// Refresh exchanges the cookie-borne refresh token for a fresh access
// token. No body; the cookie is the sole input.
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken, _ := c.Cookie(h.svc.CookieConfig().Name)
	accessToken, user, err := h.svc.Refresh(c.Request.Context(), refreshToken)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.AuthResponse{
		AccessToken: accessToken,
		Account:     user.Account(),
	})
}

// Logout clears the session slot and the refresh cookie. Safe to call
// when already logged out.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req api.LogoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.svc.Logout(c.Request.Context(), req.Email); err != nil {
		writeError(c, http.StatusInternalServerError, "server error", "")
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

// Me echoes the account behind the bearer token.
func (h *AuthHandler) Me(c *gin.Context) {
	authUser := GetAuthUser(c)
	if authUser == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	user, err := h.svc.GetUser(c.Request.Context(), authUser.ID)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	c.JSON(http.StatusOK, user.Account())
}

// DeleteAccount removes the caller's account and clears the cookie.
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	authUser := GetAuthUser(c)
	if authUser == nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	if err := h.svc.DeleteAccount(c.Request.Context(), authUser.ID); err != nil {
		writeError(c, http.StatusInternalServerError, "server error", "")
		return
	}

	h.clearRefreshCookie(c)
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (h *AuthHandler) SetRefreshCookie(c *gin.Context, token string) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, token, cfg.MaxAge, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	cfg := h.svc.CookieConfig()
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(cfg.Name, "", -1, cfg.Path, cfg.Domain, cfg.Secure, true)
}

func writeError(c *gin.Context, status int, msg, code string) {
	c.JSON(status, api.ErrorResponse{Error: msg, Code: code})
}

func writeAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, "invalid input", api.CodeInvalidInput)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, "invalid email or password", api.CodeInvalidCredentials)
	case errors.Is(err, service.ErrEmailTaken):
		writeError(c, http.StatusConflict, "email already registered", api.CodeEmailTaken)
	case errors.Is(err, service.ErrNoRefreshToken):
		writeError(c, http.StatusUnauthorized, "no refresh token", api.CodeNoRefreshToken)
	case errors.Is(err, service.ErrTokenExpired):
		writeError(c, http.StatusUnauthorized, "token expired", api.CodeExpired)
	case errors.Is(err, service.ErrInvalidToken):
		writeError(c, http.StatusUnauthorized, "invalid refresh token", api.CodeInvalidRefreshToken)
	case errors.Is(err, service.ErrSessionRevoked):
		writeError(c, http.StatusForbidden, "session revoked", api.CodeSessionRevoked)
	default:
		writeError(c, http.StatusInternalServerError, "server error", "")
	}
}
