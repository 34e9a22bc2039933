package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/taskhive/backend/internal/config"
	"github.com/taskhive/backend/internal/model"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const googleIssuer = "https://accounts.google.com"

var (
	ErrProviderDisabled = errors.New("oauth provider not configured")
	ErrUnknownProvider  = errors.New("unknown oauth provider")
	ErrOAuthExchange    = errors.New("oauth exchange failed")
)

// OAuthService runs the backend half of the popup handshake: consent
// redirect, code exchange, identity resolution and session issuance.
type OAuthService struct {
	repo           UserStore
	auth           *AuthService
	googleCfg      *oauth2.Config
	githubCfg      *oauth2.Config
	googleVerifier *oidc.IDTokenVerifier
	githubAPIBase  string
}

func NewOAuthService(ctx context.Context, repo UserStore, auth *AuthService, cfg config.OAuthConfig) (*OAuthService, error) {
	s := &OAuthService{
		repo:          repo,
		auth:          auth,
		githubAPIBase: "https://api.github.com",
	}

	if cfg.GoogleClientID != "" {
		provider, err := oidc.NewProvider(ctx, googleIssuer)
		if err != nil {
			return nil, fmt.Errorf("google oidc discovery: %w", err)
		}
		s.googleVerifier = provider.Verifier(&oidc.Config{ClientID: cfg.GoogleClientID})
		s.googleCfg = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.RedirectBase + "/auth/google/callback",
			Endpoint:     google.Endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		}
	}

	if cfg.GitHubClientID != "" {
		s.githubCfg = &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.RedirectBase + "/auth/github/callback",
			Endpoint:     github.Endpoint,
			Scopes:       []string{"read:user", "user:email"},
		}
	}

	return s, nil
}

// AuthCodeURL builds the provider consent URL for the given state nonce.
func (s *OAuthService) AuthCodeURL(provider, state string) (string, error) {
	cfg, err := s.providerConfig(provider)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state), nil
}

// Exchange trades the authorization code for provider identity, links or
// creates the account and issues a session, exactly as a password login
// would.
func (s *OAuthService) Exchange(ctx context.Context, provider, code string) (string, string, *model.User, error) {
	cfg, err := s.providerConfig(provider)
	if err != nil {
		return "", "", nil, err
	}

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}

	var email, name string
	switch provider {
	case model.ProviderGoogle:
		email, name, err = s.googleIdentity(ctx, token)
	case model.ProviderGitHub:
		email, name, err = s.githubIdentity(ctx, cfg, token)
	}
	if err != nil {
		return "", "", nil, err
	}
	if email == "" {
		return "", "", nil, fmt.Errorf("%w: provider returned no email", ErrOAuthExchange)
	}

	user, err := s.repo.UpsertFederatedUser(ctx, uuid.NewString(), strings.ToLower(email), name, provider)
	if err != nil {
		return "", "", nil, err
	}

	accessToken, refreshToken, err := s.auth.IssueSession(ctx, user)
	if err != nil {
		return "", "", nil, err
	}
	return accessToken, refreshToken, user, nil
}

func (s *OAuthService) providerConfig(provider string) (*oauth2.Config, error) {
	switch provider {
	case model.ProviderGoogle:
		if s.googleCfg == nil {
			return nil, ErrProviderDisabled
		}
		return s.googleCfg, nil
	case model.ProviderGitHub:
		if s.githubCfg == nil {
			return nil, ErrProviderDisabled
		}
		return s.githubCfg, nil
	default:
		return nil, ErrUnknownProvider
	}
}

func (s *OAuthService) googleIdentity(ctx context.Context, token *oauth2.Token) (string, string, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", "", fmt.Errorf("%w: missing id_token", ErrOAuthExchange)
	}

	idToken, err := s.googleVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}
	return claims.Email, claims.Name, nil
}

func (s *OAuthService) githubIdentity(ctx context.Context, cfg *oauth2.Config, token *oauth2.Token) (string, string, error) {
	client := cfg.Client(ctx, token)

	var user struct {
		Login string `json:"login"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := s.githubGet(client, "/user", &user); err != nil {
		return "", "", err
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	email := user.Email
	if email == "" {
		// Profile email can be hidden; fall back to the emails API.
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := s.githubGet(client, "/user/emails", &emails); err != nil {
			return "", "", err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
		if email == "" && len(emails) > 0 {
			email = emails[0].Email
		}
	}

	return email, name, nil
}

func (s *OAuthService) githubGet(client *http.Client, path string, out interface{}) error {
	resp, err := client.Get(s.githubAPIBase + path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOAuthExchange, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: github api %d: %s", ErrOAuthExchange, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
