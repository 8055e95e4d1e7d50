package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc"
	"golang.org/x/oauth2"

	"argo-workflows-mcp/backend/internal/config"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type operatorKey struct{}

const (
	// AnonymousOperator is recorded when authentication is disabled.
	AnonymousOperator = "anonymous"
	// DevOperator is recorded in DEV mode with the bypass enabled.
	DevOperator = "dev@localhost"
)

// WithOperator returns a context carrying the authenticated operator.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, operatorKey{}, operator)
}

// OperatorFromContext returns the operator set by RequireAuth.
func OperatorFromContext(ctx context.Context) string {
	if op, ok := ctx.Value(operatorKey{}).(string); ok && op != "" {
		return op
	}
	return AnonymousOperator
}

// Auth performs OpenID Connect authentication of admin API operators.
type Auth struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	logger       Logger
	disabled     bool
	authBypass   bool
}

// New creates a new Auth object using values from the application
// configuration. With auth disabled, or in DEV with the bypass set, no
// provider is contacted.
func New(ctx context.Context, cfg *config.Config, logger Logger) (*Auth, error) {
	isDev := strings.ToUpper(cfg.Environment) == "DEV"
	a := &Auth{
		logger:     logger,
		disabled:   !cfg.Auth.Enabled,
		authBypass: isDev && cfg.DevModeBypass,
	}
	if a.disabled || a.authBypass {
		return a, nil
	}

	if cfg.Auth.OktaDomain == "" || cfg.Auth.ClientID == "" ||
		cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
	if err != nil {
		return nil, err
	}

	a.oauth2Config = &oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       LoginScopes,
	}
	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})
	// Access tokens usually carry a different audience than the client ID.
	a.apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return a, nil
}

// Enabled reports whether requests are actually authenticated.
func (a *Auth) Enabled() bool {
	return !a.disabled && !a.authBypass
}

// LoginHandler starts the authorization code flow. A random state value is
// stored in a cookie to mitigate CSRF.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !a.Enabled() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "oauthstate",
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// CallbackHandler verifies the state, exchanges the code, validates the ID
// token and stores it in a session cookie.
func (a *Auth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	if !a.Enabled() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie("oauthstate")
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	idToken, err := a.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}
	if a.logger != nil {
		a.logger.Info("operator signed in", "operator", operatorFromClaims(idToken))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "id_token",
		Value:    rawIDToken,
		HttpOnly: true,
		Path:     "/",
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// RequireAuth is middleware that authenticates the operator from a bearer
// access token or the id_token cookie and stores it in the request context.
// API clients get 401 instead of a login redirect.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case a.disabled:
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), AnonymousOperator)))
			return
		case a.authBypass:
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), DevOperator)))
			return
		}

		var token *oidc.IDToken
		var err error
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token, err = a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		} else {
			cookie, cookieErr := r.Cookie("id_token")
			if cookieErr != nil || a.verifier == nil {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			token, err = a.verifier.Verify(r.Context(), cookie.Value)
		}
		if err != nil {
			if a.logger != nil {
				a.logger.Debug("rejected admin request", "path", r.URL.Path, "error", err)
			}
			http.Error(w, "invalid token: "+err.Error(), http.StatusUnauthorized)
			return
		}

		operator := operatorFromClaims(token)
		if operator == "" {
			http.Error(w, "token carries no operator identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operator)))
	})
}

// LogoutHandler clears the session cookie and redirects to the home page.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:   "id_token",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// operatorFromClaims prefers the email claim and falls back to the subject.
func operatorFromClaims(token *oidc.IDToken) string {
	var claims struct {
		Email string `json:"email"`
	}
	if err := token.Claims(&claims); err == nil && claims.Email != "" {
		return claims.Email
	}
	return token.Subject
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
