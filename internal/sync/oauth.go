package sync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"knowledgebase/internal/eventbus"
	"knowledgebase/internal/kberrors"
	"knowledgebase/internal/types"
)

// oauthEndpoints maps a provider kind to its OAuth2 authorization/token
// endpoints, for the handful of providers whose authorize flow uses a
// fixed, well-known host rather than a per-tenant BaseURL.
var oauthEndpoints = map[types.SyncProviderKind]oauth2.Endpoint{
	types.ProviderGitHub:      {AuthURL: "https://github.com/login/oauth/authorize", TokenURL: "https://github.com/login/oauth/access_token"},
	types.ProviderGoogleDrive: {AuthURL: "https://accounts.google.com/o/oauth2/v2/auth", TokenURL: "https://oauth2.googleapis.com/token"},
	types.ProviderBox:         {AuthURL: "https://account.box.com/api/oauth2/authorize", TokenURL: "https://api.box.com/oauth2/token"},
}

// OAuthConfigFor builds the oauth2.Config used to start an authorization
// flow for kind, reading client credentials from
// {KIND}_OAUTH_CLIENT_ID/{KIND}_OAUTH_CLIENT_SECRET and the redirect URL
// from OAUTH_REDIRECT_URL. SharePoint/Jira/Confluence are tenant-specific
// (their BaseURL lives on the folder's SyncSource, not here) and are not
// included until a folder names a tenant.
func OAuthConfigFor(kind types.SyncProviderKind) (oauth2.Config, error) {
	endpoint, ok := oauthEndpoints[kind]
	if !ok {
		return oauth2.Config{}, fmt.Errorf("oauth not configured for provider %q", kind)
	}
	prefix := strings.ToUpper(string(kind))
	return oauth2.Config{
		ClientID:     os.Getenv(prefix + "_OAUTH_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_OAUTH_CLIENT_SECRET"),
		Endpoint:     endpoint,
		RedirectURL:  os.Getenv("OAUTH_REDIRECT_URL"),
	}, nil
}

// CompleteOAuth stores the token the OAuth callback delivered on
// folderPath's sync source and announces the connection on the bus. The
// authorize URL's state parameter carries the folder path back here.
func (e *Engine) CompleteOAuth(ctx context.Context, folderPath string, tok *oauth2.Token) error {
	src, err := e.store.GetSyncSource(ctx, folderPath)
	if err != nil || src == nil {
		return kberrors.New("Engine.CompleteOAuth", kberrors.NotFound, fmt.Errorf("folder %s has no sync source", folderPath))
	}
	src.Credential.Token = tok.AccessToken
	src.Credential.ExpiresAt = tok.Expiry
	if tok.RefreshToken != "" {
		src.Credential.RefreshToken = tok.RefreshToken
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		if tenant, terr := extractTenantID(idToken); terr == nil && tenant != "" {
			src.Credential.TenantID = tenant
		}
	}
	if err := e.store.SetSyncSource(ctx, src); err != nil {
		return kberrors.New("Engine.CompleteOAuth", kberrors.StoreUnavailable, err)
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Topic: eventbus.TopicProviderConnected, Path: folderPath, Provider: string(src.Kind), Timestamp: e.clock()})
	}
	return nil
}

// refreshOAuth2Token exchanges a refresh token for a new access token
// against tokenURL, used by the SharePoint provider when its credential
// has expired and carries a refresh token.
func refreshOAuth2Token(ctx context.Context, tokenURL string, cred types.Credential) (types.Credential, error) {
	cfg := oauth2.Config{Endpoint: oauth2.Endpoint{TokenURL: tokenURL}}
	ts := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := ts.Token()
	if err != nil {
		return cred, err
	}
	out := cred
	out.Token = tok.AccessToken
	out.ExpiresAt = tok.Expiry
	if rt, ok := tok.Extra("refresh_token").(string); ok && rt != "" {
		out.RefreshToken = rt
	}
	if idToken, ok := tok.Extra("id_token").(string); ok && idToken != "" {
		if tenant, err := extractTenantID(idToken); err == nil && tenant != "" {
			out.TenantID = tenant
		}
	}
	return out, nil
}

// extractTenantID reads the "tid" claim from an Azure AD id_token without
// verifying its signature: the token already arrived over the provider's
// trusted OAuth channel, so only the claim payload is needed here.
func extractTenantID(idToken string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return "", err
	}
	if tid, ok := claims["tid"].(string); ok {
		return tid, nil
	}
	return "", nil
}
