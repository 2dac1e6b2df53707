// Package jira implements a Jira Cloud connector directly on top of
// connector.HTTPEnvelope, talking to the REST v3 API with Basic auth.
package jira

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "jira"

type Client struct {
	envelope *connector.HTTPEnvelope
}

func New() *Client {
	return &Client{envelope: connector.NewHTTPEnvelope(headers)}
}

func headers(ctx context.Context, conn *domain.Connection) (http.Header, error) {
	email, _ := conn.Data["email"].(string)
	token, _ := conn.Data["apiToken"].(string)
	if email == "" || token == "" {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "jira connection missing email/apiToken"}
	}
	h := http.Header{}
	h.Set("Authorization", "Basic "+basicAuthToken(email, token))
	return h, nil
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "create_issue", Kind: "action", RequiredFields: []string{"projectKey", "summary", "issueType"}},
		{Name: "get_issue", Kind: "action", RequiredFields: []string{"issueKey"}},
		{Name: "add_comment", Kind: "action", RequiredFields: []string{"issueKey", "body"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	siteURL, _ := conn.Data["siteUrl"].(string)
	_, _, err := c.envelope.Do(ctx, conn, "GET", siteURL+"/rest/api/3/myself", nil, nil)
	return err
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	siteURL, _ := conn.Data["siteUrl"].(string)
	if siteURL == "" {
		return connector.Result{}, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "jira connection missing siteUrl"}
	}

	switch operation {
	case "create_issue":
		if err := connector.RequireFields(input, []string{"projectKey", "summary", "issueType"}); err != nil {
			return connector.Result{}, err
		}
		body := map[string]any{
			"fields": map[string]any{
				"project":   map[string]any{"key": input["projectKey"]},
				"summary":   input["summary"],
				"issuetype": map[string]any{"name": input["issueType"]},
			},
		}
		out, _, err := c.envelope.Do(ctx, conn, "POST", siteURL+"/rest/api/3/issue", body, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out}, nil

	case "get_issue":
		if err := connector.RequireFields(input, []string{"issueKey"}); err != nil {
			return connector.Result{}, err
		}
		key, _ := input["issueKey"].(string)
		out, _, err := c.envelope.Do(ctx, conn, "GET", fmt.Sprintf("%s/rest/api/3/issue/%s", siteURL, key), nil, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out}, nil

	case "add_comment":
		if err := connector.RequireFields(input, []string{"issueKey", "body"}); err != nil {
			return connector.Result{}, err
		}
		key, _ := input["issueKey"].(string)
		body := map[string]any{"body": input["body"]}
		out, _, err := c.envelope.Do(ctx, conn, "POST", fmt.Sprintf("%s/rest/api/3/issue/%s/comment", siteURL, key), body, nil)
		if err != nil {
			return connector.Result{}, err
		}
		return connector.Result{Output: out}, nil

	default:
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
}

func basicAuthToken(email, token string) string {
	return base64.StdEncoding.EncodeToString([]byte(email + ":" + token))
}
