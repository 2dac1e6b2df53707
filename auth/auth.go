// Package auth implements the credential/token manager: per-variant
// auth header assembly, single-flight OAuth2 refresh coalescing, and
// tenant-context header injection. OAuth refresh is modeled as a
// per-connection single-flight primitive: N concurrent callers racing
// against one expired token trigger exactly one refresh call.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/appscriptstudio/workflow-engine/domain"
)

// DefaultRefreshSkew is how long before expiry a token is proactively
// refreshed.
const DefaultRefreshSkew = 60 * time.Second

// TokenPersister is the store boundary the manager calls after a
// successful refresh. Implementations
// typically write through store.Store.
type TokenPersister interface {
	OnTokenRefreshed(ctx context.Context, conn *domain.Connection) error
}

// Refresher performs the actual OAuth2 refresh HTTP call for one
// Connection's variant. Connectors that need provider-specific refresh
// quirks (e.g. ADP's tenant context) implement their own; OAuth2Refresher
// below covers the generic client-credentials and refresh-token cases.
type Refresher interface {
	Refresh(ctx context.Context, conn *domain.Connection) (RefreshedToken, error)
}

// RefreshedToken is what a Refresher returns on success.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string // empty means "unchanged"
	ExpiresAt    time.Time
	TokenType    string
	TenantHeaders map[string]string // e.g. ADP-Context
}

// Manager assembles auth headers for outbound connector calls and
// coalesces concurrent OAuth2 refreshes per connection so N callers
// racing past an expired token perform exactly one refresh HTTP call.
type Manager struct {
	persister TokenPersister
	skew      time.Duration
	group     singleflight.Group
	refreshers map[string]Refresher // keyed by connectorSlug
}

func NewManager(persister TokenPersister, skew time.Duration) *Manager {
	if skew <= 0 {
		skew = DefaultRefreshSkew
	}
	return &Manager{persister: persister, skew: skew, refreshers: make(map[string]Refresher)}
}

// RegisterRefresher installs the Refresher used for connectorSlug's
// oauth2-variant connections.
func (m *Manager) RegisterRefresher(connectorSlug string, r Refresher) {
	m.refreshers[connectorSlug] = r
}

// Headers returns the outbound auth headers for conn, refreshing its
// token first if it is an oauth2 connection within skew of expiry (or
// already expired). The returned header set is a fresh copy safe for the
// caller to mutate.
func (m *Manager) Headers(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	if conn.Variant == domain.AuthOAuth2 {
		if err := m.ensureFresh(ctx, conn); err != nil {
			return nil, err
		}
	}

	h := http.Header{}
	for k, v := range conn.TenantHeaders {
		h.Set(k, v)
	}

	switch conn.Variant {
	case domain.AuthBearer, domain.AuthOAuth2:
		token, _ := conn.Data["accessToken"].(string)
		if token == "" {
			return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "connection has no access token"}
		}
		h.Set("Authorization", "Bearer "+token)

	case domain.AuthBasic:
		user, _ := conn.Data["username"].(string)
		secret, _ := conn.Data["password"].(string)
		if secret == "" {
			secret, _ = conn.Data["apiToken"].(string)
		}
		if user == "" {
			return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "connection has no basic-auth username"}
		}
		enc := base64.StdEncoding.EncodeToString([]byte(user + ":" + secret))
		h.Set("Authorization", "Basic "+enc)

	case domain.AuthSSWS:
		token, _ := conn.Data["accessToken"].(string)
		h.Set("Authorization", "SSWS "+token)

	case domain.AuthHeaderKey:
		headerName, _ := conn.Data["headerName"].(string)
		headerValue, _ := conn.Data["headerValue"].(string)
		if headerName == "" {
			headerName = "X-API-Key"
		}
		h.Set(headerName, headerValue)

	case domain.AuthSigned:
		// Per-request request signing (e.g. AWS SigV4) is delegated to the
		// concrete connector, which has access to the full request before
		// it is sent; the manager has nothing to add here but tenant
		// headers, already set above.

	default:
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: fmt.Sprintf("unsupported auth variant %q", conn.Variant)}
	}

	return h, nil
}

// ensureFresh refreshes conn's token if it is missing or within skew of
// expiry, coalescing concurrent callers for the same connection id into a
// single refresh call.
func (m *Manager) ensureFresh(ctx context.Context, conn *domain.Connection) error {
	if conn.TokenExpiresAt != nil && time.Until(*conn.TokenExpiresAt) > m.skew {
		return nil
	}
	return m.refresh(ctx, conn)
}

// ForceRefresh refreshes conn's token regardless of its recorded expiry.
// The HTTP envelope calls this reactively when an upstream answers 401
// despite a token the skew check considered fresh (a revoked or
// server-side-expired token), before retrying the request once. Coalesced
// per connection the same way as the proactive path.
func (m *Manager) ForceRefresh(ctx context.Context, conn *domain.Connection) error {
	return m.refresh(ctx, conn)
}

func (m *Manager) refresh(ctx context.Context, conn *domain.Connection) error {
	refresher, ok := m.refreshers[conn.ConnectorSlug]
	if !ok {
		return &domain.Err{Kind: domain.ErrTokenRefreshFailed, Message: fmt.Sprintf("no refresher registered for %q", conn.ConnectorSlug)}
	}
	if refresher2, ok2 := refresher.(interface {
		Applicable(*domain.Connection) bool
	}); ok2 && !refresher2.Applicable(conn) {
		return nil
	}

	// The mutation of conn.Data/conn.TenantHeaders and the persist callback
	// live inside the singleflight closure itself, not after m.group.Do
	// returns: Do's own call-once guarantee is the only thing that can
	// gate this safely. Every one of the N coalesced callers observes the
	// same `shared` result, so a post-hoc "if shared" check outside Do
	// cannot tell the leader from a follower — both see shared=true once
	// more than one caller joins the flight. Installing the token from
	// inside fn means it runs exactly once per flight no matter how many
	// goroutines are waiting on conn.ID, which is what actually prevents
	// the concurrent map write.
	_, err, _ := m.group.Do(conn.ID, func() (any, error) {
		// Never retry the refresh itself inside the critical section:
		// one attempt, success or failure, propagated to every
		// waiter sharing this flight.
		tok, rerr := refresher.Refresh(ctx, conn)
		if rerr != nil {
			return nil, rerr
		}

		conn.Data["accessToken"] = tok.AccessToken
		if tok.RefreshToken != "" {
			conn.Data["refreshToken"] = tok.RefreshToken
		}
		expiresAt := tok.ExpiresAt
		conn.TokenExpiresAt = &expiresAt
		if len(tok.TenantHeaders) > 0 {
			if conn.TenantHeaders == nil {
				conn.TenantHeaders = map[string]string{}
			}
			for k, v := range tok.TenantHeaders {
				conn.TenantHeaders[k] = v
			}
		}
		conn.UpdatedAt = time.Now()

		if m.persister != nil {
			if perr := m.persister.OnTokenRefreshed(ctx, conn); perr != nil {
				return nil, perr
			}
		}
		return tok, nil
	})
	if err != nil {
		return &domain.Err{Kind: domain.ErrTokenRefreshFailed, Message: "token refresh failed", Cause: err}
	}
	return nil
}

// OAuth2Refresher performs a standard refresh-token or client-credentials
// exchange via golang.org/x/oauth2, for connectors whose provider needs no
// refresh quirks beyond the RFC 6749 flow.
type OAuth2Refresher struct {
	TokenURL string
}

func (r OAuth2Refresher) Refresh(ctx context.Context, conn *domain.Connection) (RefreshedToken, error) {
	clientID, _ := conn.Data["clientId"].(string)
	clientSecret, _ := conn.Data["clientSecret"].(string)
	if clientID == "" || clientSecret == "" {
		return RefreshedToken{}, fmt.Errorf("connection %s missing clientId/clientSecret for refresh", conn.ID)
	}

	refreshToken, _ := conn.Data["refreshToken"].(string)
	var ts oauth2.TokenSource
	if refreshToken != "" {
		cfg := &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: r.TokenURL},
		}
		ts = cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	} else {
		cfg := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     r.TokenURL,
		}
		ts = cfg.TokenSource(ctx)
	}

	tok, err := ts.Token()
	if err != nil {
		return RefreshedToken{}, err
	}
	return RefreshedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}, nil
}
