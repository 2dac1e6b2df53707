package githubapp

import (
	"context"
	"fmt"
	"time"

	"github.com/appscriptstudio/workflow-engine/auth"
	"github.com/appscriptstudio/workflow-engine/domain"
)

// InstallationTokenMinter exchanges a GitHub App's private key and
// installation id for a short-lived installation access token (the real
// flow signs a JWT with the app's private key, then POSTs to
// /app/installations/{id}/access_tokens — a different host and auth shape
// than every other connector operation, so it is not built on
// connector.HTTPEnvelope).
type InstallationTokenMinter func(ctx context.Context, appID, installationID, privateKeyPEM string) (token string, expiresAt time.Time, err error)

// Refresher implements auth.Refresher for githubapp Connections, letting
// auth.Manager's single-flight coalescing cover the installation-token mint
// the same way it covers a standard OAuth2 refresh: N node
// executions racing past an expired installation token perform exactly one
// mint call. A Connection using this refresher sets Variant to
// domain.AuthOAuth2 and Data holding appId/installationId/privateKey.
type Refresher struct {
	Mint InstallationTokenMinter
}

func (r Refresher) Refresh(ctx context.Context, conn *domain.Connection) (auth.RefreshedToken, error) {
	appID, _ := conn.Data["appId"].(string)
	installationID, _ := conn.Data["installationId"].(string)
	privateKey, _ := conn.Data["privateKey"].(string)
	if appID == "" || installationID == "" || privateKey == "" {
		return auth.RefreshedToken{}, fmt.Errorf("githubapp connection %s missing appId/installationId/privateKey", conn.ID)
	}

	token, expiresAt, err := r.Mint(ctx, appID, installationID, privateKey)
	if err != nil {
		return auth.RefreshedToken{}, err
	}
	return auth.RefreshedToken{AccessToken: token, ExpiresAt: expiresAt, TokenType: "Bearer"}, nil
}
