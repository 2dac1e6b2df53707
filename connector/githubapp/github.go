// Package githubapp implements a GitHub connector on top of
// connector.HTTPEnvelope, authenticating as a GitHub App installation.
package githubapp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "githubapp"

const apiBase = "https://api.github.com"

type Client struct {
	envelope *connector.HTTPEnvelope
}

func New() *Client {
	return &Client{envelope: connector.NewHTTPEnvelope(headers)}
}

// headers expects conn.Data["accessToken"] to already hold a valid,
// unexpired GitHub App installation access token and sends it as-is. It
// does not call auth.Manager: the githubapp.Refresher (refresher.go) mints
// and refreshes that token only when a caller runs auth.Manager.Headers or
// ForceRefresh for the Connection, and neither this client nor the
// HTTPEnvelope it builds does so, so an expired token is not refreshed on
// this client's request path.
func headers(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	token, _ := conn.Data["accessToken"].(string)
	if token == "" {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "github connection missing accessToken"}
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h, nil
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "create_issue", Kind: "action", RequiredFields: []string{"owner", "repo", "title"}},
		{Name: "create_comment", Kind: "action", RequiredFields: []string{"owner", "repo", "issueNumber", "body"}},
		{Name: "create_pull_request_review", Kind: "action", RequiredFields: []string{"owner", "repo", "pullNumber", "event"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	_, _, err := c.envelope.Do(ctx, conn, "GET", apiBase+"/rate_limit", nil, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	switch operation {
	case "create_issue":
		if err := connector.RequireFields(input, []string{"owner", "repo", "title"}); err != nil {
			return connector.Result{}, err
		}
		owner, _ := input["owner"].(string)
		repo, _ := input["repo"].(string)
		body := map[string]any{"title": input["title"]}
		if b, ok := input["body"]; ok {
			body["body"] = b
		}
		out, _, err := c.envelope.Do(ctx, conn, "POST", fmt.Sprintf("%s/repos/%s/%s/issues", apiBase, owner, repo), body, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out}, nil

	case "create_comment":
		if err := connector.RequireFields(input, []string{"owner", "repo", "issueNumber", "body"}); err != nil {
			return connector.Result{}, err
		}
		owner, _ := input["owner"].(string)
		repo, _ := input["repo"].(string)
		num := input["issueNumber"]
		body := map[string]any{"body": input["body"]}
		out, _, err := c.envelope.Do(ctx, conn, "POST", fmt.Sprintf("%s/repos/%s/%s/issues/%v/comments", apiBase, owner, repo, num), body, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out}, nil

	case "create_pull_request_review":
		if err := connector.RequireFields(input, []string{"owner", "repo", "pullNumber", "event"}); err != nil {
			return connector.Result{}, err
		}
		owner, _ := input["owner"].(string)
		repo, _ := input["repo"].(string)
		num := input["pullNumber"]
		body := map[string]any{"event": input["event"]}
		if b, ok := input["body"]; ok {
			body["body"] = b
		}
		out, _, err := c.envelope.Do(ctx, conn, "POST", fmt.Sprintf("%s/repos/%s/%s/pulls/%v/reviews", apiBase, owner, repo, num), body, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out}, nil

	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}
