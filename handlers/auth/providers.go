package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"realtime-editor/config"
	"realtime-editor/core"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

// Provider is an external identity provider. Identify turns an
// authorization code into the provider's profile of the user.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Identify(ctx context.Context, code string) (*core.User, error)
}

// NewProvider builds the provider selected by cfg.AuthProvider.
func NewProvider(ctx context.Context, cfg *config.Config) (Provider, error) {
	switch cfg.AuthProvider {
	case "oidc":
		logrus.Info("Initializing OIDC authentication provider.")
		return newOIDCProvider(ctx, cfg)
	case "github":
		logrus.Info("Initializing GitHub authentication provider.")
		return newGitHubProvider(cfg), nil
	default:
		logrus.Info("Initializing Google authentication provider.")
		return newGoogleProvider(cfg), nil
	}
}

func fetchJSON(ctx context.Context, conf *oauth2.Config, token *oauth2.Token, url string, into any) error {
	client := conf.Client(ctx, token)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

type googleProvider struct {
	conf        *oauth2.Config
	userInfoURL string
}

func newGoogleProvider(cfg *config.Config) *googleProvider {
	if cfg.GoogleClientID == "" || cfg.GoogleClientSecret == "" {
		logrus.Warn("Google OAuth credentials are not set. Authentication routes will not work.")
	}
	return &googleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.RedirectURL(),
			Scopes:       []string{"profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v3/userinfo",
	}
}

func (p *googleProvider) Name() string { return "google" }

func (p *googleProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

func (p *googleProvider) Identify(ctx context.Context, code string) (*core.User, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange token: %w", err)
	}

	var profile struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture string `json:"picture"`
	}
	if err := fetchJSON(ctx, p.conf, token, p.userInfoURL, &profile); err != nil {
		return nil, err
	}
	if profile.Sub == "" {
		return nil, fmt.Errorf("google profile has no subject")
	}

	user := &core.User{
		Subject:  "google:" + profile.Sub,
		Login:    profile.Email,
		Email:    profile.Email,
		Name:     profile.Name,
		Provider: p.Name(),
	}
	if profile.Picture != "" {
		user.AvatarURLs = []string{profile.Picture}
	}
	return user, nil
}

type githubProvider struct {
	conf    *oauth2.Config
	userURL string
}

func newGitHubProvider(cfg *config.Config) *githubProvider {
	if cfg.GitHubClientID == "" || cfg.GitHubClientSecret == "" {
		logrus.Warn("GitHub OAuth credentials are not set. Authentication routes will not work.")
	}
	return &githubProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.RedirectURL(),
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userURL: "https://api.github.com/user",
	}
}

func (p *githubProvider) Name() string { return "github" }

func (p *githubProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state)
}

func (p *githubProvider) Identify(ctx context.Context, code string) (*core.User, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange token: %w", err)
	}

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
		Email     string `json:"email"`
	}
	if err := fetchJSON(ctx, p.conf, token, p.userURL, &githubUser); err != nil {
		return nil, err
	}
	if githubUser.ID == 0 {
		return nil, fmt.Errorf("github profile has no id")
	}

	user := &core.User{
		Subject:  fmt.Sprintf("github:%d", githubUser.ID),
		Login:    githubUser.Login,
		Email:    githubUser.Email,
		Name:     githubUser.Name,
		Provider: p.Name(),
	}
	if githubUser.AvatarURL != "" {
		user.AvatarURLs = []string{githubUser.AvatarURL}
	}
	return user, nil
}

type oidcProvider struct {
	conf     *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// OIDCClaims represents the claims from OIDC token
type OIDCClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	Sub               string `json:"sub"`
}

func newOIDCProvider(ctx context.Context, cfg *config.Config) (*oidcProvider, error) {
	if cfg.OIDCIssuerURL == "" || cfg.OIDCClientID == "" || cfg.OIDCClientSecret == "" {
		return nil, fmt.Errorf("OIDC credentials are not set")
	}

	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	logrus.Info("OIDC provider initialized")

	return &oidcProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.RedirectURL(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			Endpoint:     provider.Endpoint(),
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID}),
	}, nil
}

func (p *oidcProvider) Name() string { return "oidc" }

func (p *oidcProvider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (p *oidcProvider) Identify(ctx context.Context, code string) (*core.User, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange token: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("no id_token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify ID token: %w", err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims from ID token: %w", err)
	}

	user := &core.User{
		Subject:  claims.Sub,
		Login:    claims.PreferredUsername,
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: p.Name(),
	}
	// If preferred_username is not available, use email
	if user.Login == "" && user.Email != "" {
		user.Login = user.Email
	}
	if claims.Picture != "" {
		user.AvatarURLs = []string{claims.Picture}
	}
	return user, nil
}
