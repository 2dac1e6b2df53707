package adp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/appscriptstudio/workflow-engine/auth"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const defaultTokenURL = "https://accounts.adp.com/auth/oauth/v2/token"

// Refresher implements auth.Refresher for ADP connections: a
// client-credentials exchange whose response carries the opaque tenant
// context ADP expects back as the ADP-Context header on every data call.
// The application key configured on the connection rides along the same
// way, so the Credential Manager attaches both without the connector
// knowing they exist.
type Refresher struct {
	TokenURL   string
	HTTPClient *http.Client
}

func (r Refresher) Refresh(ctx context.Context, conn *domain.Connection) (auth.RefreshedToken, error) {
	clientID, _ := conn.Data["clientId"].(string)
	clientSecret, _ := conn.Data["clientSecret"].(string)
	if clientID == "" || clientSecret == "" {
		return auth.RefreshedToken{}, fmt.Errorf("adp connection %s missing clientId/clientSecret", conn.ID)
	}

	tokenURL := r.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	httpClient := r.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return auth.RefreshedToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return auth.RefreshedToken{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return auth.RefreshedToken{}, err
	}
	if resp.StatusCode >= 300 {
		return auth.RefreshedToken{}, fmt.Errorf("adp token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
		ExpiresIn   int    `json:"expires_in"`
		ADPContext  string `json:"adp-context"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return auth.RefreshedToken{}, fmt.Errorf("adp token response: %w", err)
	}
	if payload.AccessToken == "" {
		return auth.RefreshedToken{}, fmt.Errorf("adp token response missing access_token")
	}

	tenant := map[string]string{}
	if payload.ADPContext != "" {
		tenant["ADP-Context"] = payload.ADPContext
	}
	if appKey, _ := conn.Data["applicationKey"].(string); appKey != "" {
		tenant["ADP-Application-Key"] = appKey
	}

	return auth.RefreshedToken{
		AccessToken:   payload.AccessToken,
		TokenType:     payload.TokenType,
		ExpiresAt:     time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
		TenantHeaders: tenant,
	}, nil
}
