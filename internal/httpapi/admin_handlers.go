package httpapi

import (
	"net/http"

	"agenthub.io/internal/audit"
	"agenthub.io/internal/auth"
	"agenthub.io/internal/gate"
)

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (a *API) routeAdmin() {
	admin := gate.RequirePermission(auth.PermManageUsers).WithPersonas(auth.PersonaSuperAdmin)
	a.mux.Handle("GET /v1/admin/users/pending", a.withGate(admin, a.handlePendingUsers))
	a.mux.Handle("POST /v1/admin/users/{id}/approve", a.withGate(admin, a.handleApproveUser))
	a.mux.Handle("POST /v1/admin/users/{id}/reject", a.withGate(admin, a.handleRejectUser))
	a.mux.Handle("POST /v1/admin/users/{id}/deactivate", a.withGate(admin, a.handleSetActive(false)))
	a.mux.Handle("POST /v1/admin/users/{id}/activate", a.withGate(admin, a.handleSetActive(true)))
}

func (a *API) handlePendingUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Auth.ListPending(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) handleApproveUser(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	user, err := a.deps.Auth.Approve(r.Context(), principalFrom(r).ID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.approve", map[string]any{"target_user_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(user)})
}

func (a *API) handleRejectUser(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := pathID(r, "id")
	user, err := a.deps.Auth.Reject(r.Context(), principalFrom(r).ID, id, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "admin.user.reject", map[string]any{"target_user_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(user)})
}

func (a *API) handleSetActive(active bool) http.HandlerFunc {
	event := "admin.user.deactivate"
	if active {
		event = "admin.user.activate"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := pathID(r, "id")
		if id == principalFrom(r).ID && !active {
			writeErrorWith(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed",
				map[string]any{"details": []string{"cannot deactivate your own account"}})
			return
		}
		user, err := a.deps.Auth.SetActive(r.Context(), id, active)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), event, map[string]any{"target_user_id": id})
		writeJSON(w, http.StatusOK, map[string]any{"user": viewUser(user)})
	}
}
