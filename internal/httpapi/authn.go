package httpapi

import (
	"net/http"

	"agenthub.io/internal/auth"
	"agenthub.io/internal/gate"
)

const authHeader = "Authorization"

// withGate runs the access gate for req and hands the principal to next through the context.
func (a *API) withGate(req gate.Requirement, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := gate.BearerToken(r.Header.Get(authHeader))
		principal, err := a.deps.Gate.Check(token, req)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next(w, r.WithContext(ctx))
	})
}

// withOptionalAuth attaches a principal when the request carries a valid token and never rejects.
func (a *API) withOptionalAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := gate.BearerToken(r.Header.Get(authHeader))
		if principal, ok := a.deps.Gate.Optional(token); ok {
			ctx := auth.ContextWithPrincipal(r.Context(), principal)
			r = r.WithContext(auth.ContextWithToken(ctx, token))
		}
		next(w, r)
	})
}

// principalFrom returns the principal attached by withGate.
func principalFrom(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
