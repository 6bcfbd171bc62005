// Package graphclient talks to Microsoft Graph on the proxy's own behalf, using an application (client-credential)
// identity rather than the caller's.
package graphclient

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// defaultScope is the OAuth2 scope requested for application-only Graph access.
const defaultScope = "https://graph.microsoft.com/.default"

// Credential acquires and caches application-identity bearer tokens for calling Microsoft Graph.
type Credential struct {
	cred  *azidentity.ClientSecretCredential
	scope string
}

// NewCredential builds a Credential from app registration values. scope defaults to the Graph application default
// scope when empty.
func NewCredential(tenantID, clientID, clientSecret, scope string) (*Credential, error) {
	cred, err := azidentity.NewClientSecretCredential(tenantID, clientID, clientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("create client secret credential: %w", err)
	}
	if scope == "" {
		scope = defaultScope
	}
	return &Credential{cred: cred, scope: scope}, nil
}

// BearerToken returns a valid bearer token for calling Microsoft Graph, acquiring or refreshing it as needed. The
// underlying azidentity credential caches and refreshes tokens internally, so callers may invoke this on every
// request without added latency once a token has been cached.
func (c *Credential) BearerToken(ctx context.Context) (string, error) {
	tok, err := c.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: []string{c.scope}})
	if err != nil {
		return "", fmt.Errorf("acquire graph token: %w", err)
	}
	return tok.Token, nil
}
