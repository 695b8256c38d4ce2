package credentials

import "time"

// LLMCredential is a stored LLM provider credential. Encrypted* fields hold envelopes, never plaintext.
type LLMCredential struct {
	ID                      string
	UserID                  string
	ModelID                 string
	Name                    string
	EncryptedAPIKey         string
	EncryptedSecretKey      string
	EncryptedOrganizationID string
	EncryptedProjectID      string
	IsActive                bool
	UsageCount              int64
	LastUsedAt              *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// MCPCredential is a stored MCP server credential.
type MCPCredential struct {
	ID                    string
	UserID                string
	ServerID              string
	Name                  string
	EncryptedClientID     string
	EncryptedClientSecret string
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	EncryptedAPIKey       string
	TokenExpiresAt        *time.Time
	Scopes                []string
	IsActive              bool
	UsageCount            int64
	LastUsedAt            *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// ProjectBinding ties a project to the credentials it executes with.
type ProjectBinding struct {
	ProjectID        string
	OwnerID          string
	LLMCredentialID  string
	MCPCredentialIDs []string
	LLMConfiguration map[string]any
	MCPConfiguration map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UsageEntry is one append-only usage log row.
type UsageEntry struct {
	ID              string
	UserID          string
	ProjectID       string
	LLMCredentialID string
	MCPCredentialID string
	Operation       string
	TokensUsed      *int64
	CostInCents     *int64
	Success         bool
	ErrorMessage    string
	RequestID       string
	UserAgent       string
	IPAddress       string
	CreatedAt       time.Time
}

// Model is a catalog LLM model.
type Model struct {
	ID         string
	ProviderID string
	Name       string
	Status     string
}

// Approved reports whether credentials may be created against the model.
func (m Model) Approved() bool { return m.Status == ModelAvailable }

const (
	ModelAvailable   = "available"
	ModelUnavailable = "unavailable"
	ModelDeprecated  = "deprecated"
)

// MCPServer is a catalog MCP server.
type MCPServer struct {
	ID       string
	Name     string
	Type     string
	URL      string
	Approved bool
}

// Auth method types for MCP servers.
const (
	AuthOAuth2            = "oauth2"
	AuthClientCredentials = "client_credentials"
	AuthAPIKey            = "api_key"
)

// AuthMethod describes how an MCP server expects clients to authenticate.
type AuthMethod struct {
	ID               string
	ServerID         string
	Type             string
	AuthorizationURL string
	TokenURL         string
	Scopes           []string
	IsActive         bool
	CreatedAt        time.Time
}

// LLMCredentialView is what callers see when listing or after writes. It never holds secrets.
type LLMCredentialView struct {
	ID                string     `json:"id"`
	ModelID           string     `json:"model_id"`
	Name              string     `json:"name"`
	HasAPIKey         bool       `json:"has_api_key"`
	HasSecretKey      bool       `json:"has_secret_key"`
	HasOrganizationID bool       `json:"has_organization_id"`
	HasProjectID      bool       `json:"has_project_id"`
	IsActive          bool       `json:"is_active"`
	UsageCount        int64      `json:"usage_count"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// MCPCredentialView is the redacted form of an MCPCredential.
type MCPCredentialView struct {
	ID              string     `json:"id"`
	ServerID        string     `json:"server_id"`
	Name            string     `json:"name"`
	HasClientID     bool       `json:"has_client_id"`
	HasClientSecret bool       `json:"has_client_secret"`
	HasAccessToken  bool       `json:"has_access_token"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	HasAPIKey       bool       `json:"has_api_key"`
	TokenExpiresAt  *time.Time `json:"token_expires_at,omitempty"`
	Scopes          []string   `json:"scopes"`
	IsActive        bool       `json:"is_active"`
	UsageCount      int64      `json:"usage_count"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LLMSecrets is plaintext material returned only by ResolveLLMForUse.
type LLMSecrets struct {
	CredentialID   string
	ModelID        string
	APIKey         string
	SecretKey      string
	OrganizationID string
	ProjectID      string
}

// MCPSecrets is plaintext material returned only by ResolveMCPForUse.
type MCPSecrets struct {
	CredentialID string
	ServerID     string
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	APIKey       string
	Scopes       []string
}

// ProjectSecrets is the resolved material for a project execution.
type ProjectSecrets struct {
	LLM *LLMSecrets
	MCP []MCPSecrets
}

func (c *LLMCredential) view() LLMCredentialView {
	return LLMCredentialView{
		ID:                c.ID,
		ModelID:           c.ModelID,
		Name:              c.Name,
		HasAPIKey:         c.EncryptedAPIKey != "",
		HasSecretKey:      c.EncryptedSecretKey != "",
		HasOrganizationID: c.EncryptedOrganizationID != "",
		HasProjectID:      c.EncryptedProjectID != "",
		IsActive:          c.IsActive,
		UsageCount:        c.UsageCount,
		LastUsedAt:        c.LastUsedAt,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func (c *MCPCredential) view() MCPCredentialView {
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return MCPCredentialView{
		ID:              c.ID,
		ServerID:        c.ServerID,
		Name:            c.Name,
		HasClientID:     c.EncryptedClientID != "",
		HasClientSecret: c.EncryptedClientSecret != "",
		HasAccessToken:  c.EncryptedAccessToken != "",
		HasRefreshToken: c.EncryptedRefreshToken != "",
		HasAPIKey:       c.EncryptedAPIKey != "",
		TokenExpiresAt:  c.TokenExpiresAt,
		Scopes:          scopes,
		IsActive:        c.IsActive,
		UsageCount:      c.UsageCount,
		LastUsedAt:      c.LastUsedAt,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}
