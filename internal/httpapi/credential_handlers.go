package httpapi

import (
	"net/http"
	"strings"
	"time"

	"agenthub.io/internal/audit"
	"agenthub.io/internal/auth"
	"agenthub.io/internal/credentials"
	"agenthub.io/internal/envelope"
	"agenthub.io/internal/gate"
)

type bindingRequest struct {
	LLMCredentialID  string         `json:"llm_credential_id"`
	MCPCredentialIDs []string       `json:"mcp_credential_ids"`
	LLMConfiguration map[string]any `json:"llm_configuration"`
	MCPConfiguration map[string]any `json:"mcp_configuration"`
}

type bindingView struct {
	ProjectID        string         `json:"project_id"`
	LLMCredentialID  string         `json:"llm_credential_id,omitempty"`
	MCPCredentialIDs []string       `json:"mcp_credential_ids"`
	LLMConfiguration map[string]any `json:"llm_configuration"`
	MCPConfiguration map[string]any `json:"mcp_configuration"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func viewBinding(b *credentials.ProjectBinding) bindingView {
	ids := b.MCPCredentialIDs
	if ids == nil {
		ids = []string{}
	}
	return bindingView{
		ProjectID:        b.ProjectID,
		LLMCredentialID:  b.LLMCredentialID,
		MCPCredentialIDs: ids,
		LLMConfiguration: b.LLMConfiguration,
		MCPConfiguration: b.MCPConfiguration,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

type authMethodView struct {
	ID               string   `json:"id"`
	Type             string   `json:"auth_type"`
	AuthorizationURL string   `json:"authorization_url,omitempty"`
	TokenURL         string   `json:"token_url,omitempty"`
	Scopes           []string `json:"scopes"`
	IsActive         bool     `json:"is_active"`
	IsDefault        bool     `json:"is_default"`
}

func (a *API) routeCredentials() {
	view := gate.RequireAny(auth.PermViewCredentials, auth.PermManageCredentials)
	manage := gate.RequirePermission(auth.PermManageCredentials)
	project := gate.RequirePermission(auth.PermManageProjectCredentials)

	a.mux.Handle("GET /v1/credentials/llm", a.withGate(view, a.handleListLLM))
	a.mux.Handle("POST /v1/credentials/llm", a.withGate(manage, a.handleCreateLLM))
	a.mux.Handle("PATCH /v1/credentials/llm/{id}", a.withGate(manage, a.handleUpdateLLM))
	a.mux.Handle("DELETE /v1/credentials/llm/{id}", a.withGate(manage, a.handleDeleteLLM))
	a.mux.Handle("POST /v1/credentials/llm/{id}/test", a.withGate(view, a.handleTestLLM))

	a.mux.Handle("GET /v1/credentials/mcp", a.withGate(view, a.handleListMCP))
	a.mux.Handle("POST /v1/credentials/mcp", a.withGate(manage, a.handleCreateMCP))
	a.mux.Handle("PATCH /v1/credentials/mcp/{id}", a.withGate(manage, a.handleUpdateMCP))
	a.mux.Handle("DELETE /v1/credentials/mcp/{id}", a.withGate(manage, a.handleDeleteMCP))

	a.mux.Handle("GET /v1/mcp-servers/{id}/auth-methods", a.withGate(view, a.handleAuthMethods))
	a.mux.Handle("GET /v1/mcp-servers/{id}/oauth/start", a.withGate(manage, a.handleOAuthStart))
	// The provider redirects the browser here; the signed state identifies the user.
	a.mux.Handle("GET /v1/mcp-oauth/callback", a.withOptionalAuth(a.handleOAuthCallback))

	a.mux.Handle("PUT /v1/projects/{id}/credentials", a.withGate(project, a.handleBindProject))
	a.mux.Handle("GET /v1/projects/{id}/credentials", a.withGate(project, a.handleGetBinding))
}

// usageFor describes the caller for the usage log.
func usageFor(r *http.Request, op string) credentials.Usage {
	return credentials.Usage{
		UserID:       principalFrom(r).ID,
		Operation:    op,
		RequestID:    RequestIDFromContext(r.Context()),
		UserAgent:    r.UserAgent(),
		IPAddress:    clientIP(r),
		RequireOwner: true,
	}
}

// --- LLM ---

func (a *API) handleListLLM(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Credentials.ListLLM(r.Context(), principalFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": list})
}

func (a *API) handleCreateLLM(w http.ResponseWriter, r *http.Request) {
	var req credentials.CreateLLMInput
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := a.deps.Credentials.CreateLLM(r.Context(), principalFrom(r).ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.llm.create", map[string]any{
		"credential_id": created.ID,
		"model_id":      created.ModelID,
	})
	w.Header().Set("Location", "/v1/credentials/llm/"+created.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"credential": created})
}

func (a *API) handleUpdateLLM(w http.ResponseWriter, r *http.Request) {
	var req credentials.LLMUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	id := pathID(r, "id")
	updated, err := a.deps.Credentials.UpdateLLM(r.Context(), id, principalFrom(r).ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.llm.update", map[string]any{
		"credential_id": id,
		"rotated_key":   req.APIKey != nil,
	})
	writeJSON(w, http.StatusOK, map[string]any{"credential": updated})
}

func (a *API) handleDeleteLLM(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	ok, err := a.deps.Credentials.DeleteLLM(r.Context(), id, principalFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeServiceError(w, r, credentials.ErrNotFound)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.llm.delete", map[string]any{"credential_id": id})
	w.WriteHeader(http.StatusNoContent)
}

// handleTestLLM proves the stored key can be decrypted. Only the masked key is returned.
func (a *API) handleTestLLM(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	secrets, err := a.deps.Credentials.ResolveLLMForUse(r.Context(), id, usageFor(r, credentials.OpConnectionTest))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"credential_id": secrets.CredentialID,
		"model_id":      secrets.ModelID,
		"api_key":       envelope.MaskForDisplay(secrets.APIKey),
	})
}

// --- MCP ---

func (a *API) handleListMCP(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Credentials.ListMCP(r.Context(), principalFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"credentials": list})
}

func (a *API) handleCreateMCP(w http.ResponseWriter, r *http.Request) {
	var req credentials.CreateMCPInput
	if !decodeBody(w, r, &req) {
		return
	}
	created, err := a.deps.Credentials.CreateMCP(r.Context(), principalFrom(r).ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.mcp.create", map[string]any{
		"credential_id": created.ID,
		"server_id":     created.ServerID,
	})
	w.Header().Set("Location", "/v1/credentials/mcp/"+created.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"credential": created})
}

func (a *API) handleUpdateMCP(w http.ResponseWriter, r *http.Request) {
	var req credentials.MCPUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	id := pathID(r, "id")
	updated, err := a.deps.Credentials.UpdateMCP(r.Context(), id, principalFrom(r).ID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.mcp.update", map[string]any{"credential_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"credential": updated})
}

func (a *API) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	id := pathID(r, "id")
	ok, err := a.deps.Credentials.DeleteMCP(r.Context(), id, principalFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !ok {
		writeServiceError(w, r, credentials.ErrNotFound)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.mcp.delete", map[string]any{"credential_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAuthMethods(w http.ResponseWriter, r *http.Request) {
	serverID := pathID(r, "id")
	methods, err := a.deps.Credentials.ListMcpServerAuthMethods(r.Context(), serverID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	def, hasDefault, err := a.deps.Credentials.GetDefaultMcpServerAuthMethod(r.Context(), serverID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]authMethodView, 0, len(methods))
	for _, m := range methods {
		scopes := m.Scopes
		if scopes == nil {
			scopes = []string{}
		}
		out = append(out, authMethodView{
			ID:               m.ID,
			Type:             m.Type,
			AuthorizationURL: m.AuthorizationURL,
			TokenURL:         m.TokenURL,
			Scopes:           scopes,
			IsActive:         m.IsActive,
			IsDefault:        hasDefault && m.ID == def.ID,
		})
	}
	resp := map[string]any{"server_id": serverID, "auth_methods": out}
	if hasDefault {
		resp["default_auth_type"] = def.Type
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- MCP OAuth ---

func (a *API) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if a.deps.OAuth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "OAUTH_UNAVAILABLE", "oauth is not configured")
		return
	}
	credID := strings.TrimSpace(r.URL.Query().Get("credential_id"))
	if credID == "" {
		writeErrorWith(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "validation failed",
			map[string]any{"details": []string{"credential_id is required"}})
		return
	}
	url, err := a.deps.OAuth.Start(r.Context(), pathID(r, "id"), credID, usageFor(r, credentials.OpOAuthAuthorize))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authorization_url": url})
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if a.deps.OAuth == nil {
		writeError(w, r, http.StatusServiceUnavailable, "OAUTH_UNAVAILABLE", "oauth is not configured")
		return
	}
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		writeErrorWith(w, r, http.StatusBadRequest, "OAUTH_DENIED", "authorization was not granted",
			map[string]any{"provider_error": providerErr})
		return
	}
	state, err := a.deps.OAuth.VerifyState(q.Get("state"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		if err := gate.CheckOwnership(p, state.UserID); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	usage := credentials.Usage{
		RequestID: RequestIDFromContext(r.Context()),
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
	view, err := a.deps.OAuth.Complete(r.Context(), q.Get("state"), q.Get("code"), usage)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.mcp.oauth_connected", map[string]any{
		"credential_id": view.ID,
		"user_id":       state.UserID,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "connected", "credential": view})
}

// --- Projects ---

func (a *API) handleBindProject(w http.ResponseWriter, r *http.Request) {
	var req bindingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	projectID := pathID(r, "id")
	b, err := a.deps.Credentials.BindProject(r.Context(), principalFrom(r), credentials.BindingInput{
		ProjectID:        projectID,
		LLMCredentialID:  strings.TrimSpace(req.LLMCredentialID),
		MCPCredentialIDs: req.MCPCredentialIDs,
		LLMConfiguration: req.LLMConfiguration,
		MCPConfiguration: req.MCPConfiguration,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "credentials.project.bind", map[string]any{
		"project_id":        projectID,
		"llm_credential_id": b.LLMCredentialID,
		"mcp_credentials":   len(b.MCPCredentialIDs),
	})
	writeJSON(w, http.StatusOK, map[string]any{"binding": viewBinding(b)})
}

func (a *API) handleGetBinding(w http.ResponseWriter, r *http.Request) {
	b, err := a.deps.Credentials.GetProjectBinding(r.Context(), principalFrom(r), pathID(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"binding": viewBinding(b)})
}
