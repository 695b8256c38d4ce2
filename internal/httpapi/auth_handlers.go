package httpapi

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"agenthub.io/internal/audit"
	"agenthub.io/internal/auth"
	"agenthub.io/internal/gate"
	"agenthub.io/internal/obs"
	"agenthub.io/internal/ratelimit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	User             userView  `json:"user"`
}

type userView struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	Persona        auth.Persona   `json:"persona"`
	Roles          []auth.Role    `json:"roles"`
	Permissions    []string       `json:"permissions"`
	IsActive       bool           `json:"is_active"`
	ApprovalStatus string         `json:"approval_status,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LastLoginAt    *time.Time     `json:"last_login_at,omitempty"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
}

func viewUser(u *auth.User) userView {
	created := u.CreatedAt
	return userView{
		ID:             u.ID,
		Email:          u.Email,
		Persona:        u.Persona,
		Roles:          u.Roles,
		Permissions:    u.Permissions.Strings(),
		IsActive:       u.IsActive,
		ApprovalStatus: string(u.ApprovalStatus),
		Metadata:       u.Metadata,
		LastLoginAt:    u.LastLoginAt,
		CreatedAt:      &created,
	}
}

func viewPrincipal(p auth.Principal) userView {
	return userView{
		ID:          p.ID,
		Email:       p.Email,
		Persona:     p.Persona,
		Roles:       p.Roles,
		Permissions: p.Permissions.Strings(),
		IsActive:    true,
	}
}

func (a *API) routeAuth() {
	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.Handle("GET /v1/auth/me", a.withGate(gate.Authenticated(), a.handleMe))
}

// allowAttempt counts one attempt against limiter before any credential is looked at.
// A limiter backend failure is logged and the attempt is let through.
func (a *API) allowAttempt(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, action string) bool {
	if limiter == nil {
		return true
	}
	decision, err := limiter.IncrementAndCheck(r.Context(), ratelimit.Key(action, clientIP(r)))
	if err != nil {
		obs.Logger().Warn("rate limiter unavailable",
			zap.String("action", action),
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.Error(err))
		return true
	}
	if decision.Allowed {
		return true
	}
	obs.ObserveRateLimited(action)
	_ = audit.LogEvent(r.Context(), "auth."+action+".rate_limited", map[string]any{"ip": clientIP(r)})
	writeServiceError(w, r, &auth.RateLimitedError{RetryAfter: decision.RetryAfter})
	return false
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !a.allowAttempt(w, r, a.deps.RegisterLimiter, "register") {
		return
	}
	var req auth.RegisterInput
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := a.deps.Auth.Register(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id": user.ID,
		"persona": string(user.Persona),
	})
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":    viewUser(user),
		"message": "registration received; an administrator must approve the account before sign-in",
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.allowAttempt(w, r, a.deps.LoginLimiter, "login") {
		return
	}
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, principal, err := a.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		var account *auth.AccountStateError
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.As(err, &account) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{"reason": gateReason(err)})
		}
		writeServiceError(w, r, err)
		return
	}
	ctx := auth.ContextWithPrincipal(r.Context(), principal)
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"persona": string(principal.Persona)})
	a.writeTokens(w, pair, principal, "login")
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pair, principal, err := a.deps.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.writeTokens(w, pair, principal, "refresh")
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := a.deps.Auth.Logout(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "logged_out"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	user, err := a.deps.Auth.Me(r.Context(), p.ID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeServiceError(w, r, auth.ErrInvalidToken)
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(user)})
}

func (a *API) writeTokens(w http.ResponseWriter, pair auth.TokenPair, p auth.Principal, flow string) {
	obs.ObserveTokensIssued(flow)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(time.Until(pair.AccessExpiresAt).Seconds()),
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             viewPrincipal(p),
	})
}

func gateReason(err error) string {
	var account *auth.AccountStateError
	if errors.As(err, &account) {
		return string(account.State)
	}
	return "invalid_credentials"
}
