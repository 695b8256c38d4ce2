// Package mcpoauth runs the OAuth2 authorization-code flow that fills an MCP credential
// with provider tokens. The client id and secret come from the credential itself.
package mcpoauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"agenthub.io/internal/credentials"
	"agenthub.io/internal/obs"
)

// ErrUnsupported is returned when the server's default auth method is not oauth2.
var ErrUnsupported = errors.New("mcpoauth: server does not use oauth2")

// Credentials is the part of the credential store the flow needs.
type Credentials interface {
	ResolveMCPForUse(ctx context.Context, id string, u credentials.Usage) (*credentials.MCPSecrets, error)
	GetDefaultMcpServerAuthMethod(ctx context.Context, serverID string) (credentials.AuthMethod, bool, error)
	StoreMCPTokens(ctx context.Context, id, ownerID string, tok credentials.OAuthTokens) (credentials.MCPCredentialView, error)
}

// Flow builds provider consent URLs and completes the code exchange.
type Flow struct {
	creds       Credentials
	signer      *StateSigner
	redirectURL string
	client      *http.Client
}

// Option configures a Flow.
type Option func(*Flow)

// WithHTTPClient sets the client used for the token exchange.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Flow) { f.client = c }
}

// NewFlow wires a Flow. redirectURL is the absolute callback URL registered with providers.
func NewFlow(creds Credentials, signer *StateSigner, redirectURL string, opts ...Option) (*Flow, error) {
	if creds == nil || signer == nil {
		return nil, errors.New("mcpoauth: credentials and signer are required")
	}
	if strings.TrimSpace(redirectURL) == "" {
		return nil, errors.New("mcpoauth: redirect url is required")
	}
	f := &Flow{creds: creds, signer: signer, redirectURL: redirectURL}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Start returns the provider URL the user should be sent to. The credential must belong to
// u.UserID and be attached to serverID.
func (f *Flow) Start(ctx context.Context, serverID, credentialID string, u credentials.Usage) (string, error) {
	u.RequireOwner = true
	u.Operation = credentials.OpOAuthAuthorize
	cfg, err := f.config(ctx, credentialID, u)
	if err != nil {
		return "", err
	}
	if cfg.serverID != serverID {
		return "", fmt.Errorf("%w: credential %s is not for server %s", credentials.ErrNotFound, credentialID, serverID)
	}
	state, err := f.signer.Sign(State{CredentialID: credentialID, UserID: u.UserID})
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

// VerifyState checks a callback state without consuming anything.
func (f *Flow) VerifyState(raw string) (State, error) {
	return f.signer.Verify(raw)
}

// Complete verifies state, exchanges code and stores the resulting tokens on the credential.
func (f *Flow) Complete(ctx context.Context, rawState, code string, u credentials.Usage) (credentials.MCPCredentialView, error) {
	if strings.TrimSpace(code) == "" {
		return credentials.MCPCredentialView{}, fmt.Errorf("%w: missing code", ErrInvalidState)
	}
	st, err := f.signer.Verify(rawState)
	if err != nil {
		return credentials.MCPCredentialView{}, err
	}
	u.UserID = st.UserID
	u.RequireOwner = true
	u.Operation = credentials.OpOAuthAuthorize
	cfg, err := f.config(ctx, st.CredentialID, u)
	if err != nil {
		return credentials.MCPCredentialView{}, err
	}

	if f.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	}
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		obs.Logger().Warn("mcp oauth exchange failed",
			zap.String("credential_id", st.CredentialID),
			zap.String("server_id", cfg.serverID),
			zap.Error(err))
		return credentials.MCPCredentialView{}, fmt.Errorf("mcpoauth: token exchange: %w", err)
	}
	scopes := cfg.Scopes
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		scopes = strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
	}
	return f.creds.StoreMCPTokens(ctx, st.CredentialID, st.UserID, credentials.OAuthTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       scopes,
	})
}

type serverConfig struct {
	oauth2.Config
	serverID string
}

func (f *Flow) config(ctx context.Context, credentialID string, u credentials.Usage) (*serverConfig, error) {
	secrets, err := f.creds.ResolveMCPForUse(ctx, credentialID, u)
	if err != nil {
		return nil, err
	}
	method, ok, err := f.creds.GetDefaultMcpServerAuthMethod(ctx, secrets.ServerID)
	if err != nil {
		return nil, err
	}
	if !ok || method.Type != credentials.AuthOAuth2 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, secrets.ServerID)
	}
	if secrets.ClientID == "" || secrets.ClientSecret == "" {
		return nil, fmt.Errorf("%w: credential has no client id or secret", ErrUnsupported)
	}
	scopes := secrets.Scopes
	if len(scopes) == 0 {
		scopes = method.Scopes
	}
	return &serverConfig{
		Config: oauth2.Config{
			ClientID:     secrets.ClientID,
			ClientSecret: secrets.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  method.AuthorizationURL,
				TokenURL: method.TokenURL,
			},
			RedirectURL: f.redirectURL,
			Scopes:      scopes,
		},
		serverID: secrets.ServerID,
	}, nil
}
