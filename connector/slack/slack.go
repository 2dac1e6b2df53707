// Package slack adapts the slack-go/slack client to the connector.Client
// contract.
package slack

import (
	"context"
	"fmt"

	slackapi "github.com/slack-go/slack"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "slack"

type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "post_message", Kind: "action", RequiredFields: []string{"channel", "text"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	api := c.sdkClient(conn)
	_, err := api.AuthTestContext(ctx)
	if err != nil {
		return translateErr(err)
	}
	return nil
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	if operation != "post_message" {
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
	if err := connector.RequireFields(input, []string{"channel", "text"}); err != nil {
		return connector.Result{}, err
	}
	channel, _ := input["channel"].(string)
	text, _ := input["text"].(string)

	api := c.sdkClient(conn)
	respChannel, ts, err := api.PostMessageContext(ctx, channel, slackapi.MsgOptionText(text, false))
	if err != nil {
		return connector.Result{}, translateErr(err)
	}

	return connector.Result{
		Output: map[string]any{
			"channel":   respChannel,
			"timestamp": ts,
		},
	}, nil
}

// DynamicOptions populates the workflow editor's "pick a channel" field by
// listing the workspace's public channels. Slack's own pagination cursor is
// followed to exhaustion here since the pick-list wants the full set.
func (c *Client) DynamicOptions(ctx context.Context, field string, conn *domain.Connection) ([]connector.DynamicOption, error) {
	if field != "channel" {
		return nil, &domain.Err{Kind: domain.ErrUnknownOperation, Message: fmt.Sprintf("no dynamic options for field %q", field)}
	}

	api := c.sdkClient(conn)
	var opts []connector.DynamicOption
	cursor := ""
	for {
		channels, next, err := api.GetConversationsContext(ctx, &slackapi.GetConversationsParameters{
			Cursor: cursor,
			Limit:  200,
		})
		if err != nil {
			return nil, translateErr(err)
		}
		for _, ch := range channels {
			opts = append(opts, connector.DynamicOption{Value: ch.ID, Label: "#" + ch.Name})
		}
		if next == "" {
			return opts, nil
		}
		cursor = next
	}
}

func (c *Client) sdkClient(conn *domain.Connection) *slackapi.Client {
	token, _ := conn.Data["botToken"].(string)
	// apiUrl points the SDK at a Slack-compatible endpoint (enterprise
	// grid proxies, test doubles); empty means api.slack.com.
	if apiURL, _ := conn.Data["apiUrl"].(string); apiURL != "" {
		return slackapi.New(token, slackapi.OptionAPIURL(apiURL))
	}
	return slackapi.New(token)
}

func translateErr(err error) error {
	if rlErr, ok := err.(*slackapi.RateLimitedError); ok {
		return &domain.Err{
			Kind:    domain.ErrRateLimited,
			Message: "slack rate limited",
			Data:    map[string]any{"retryAfter": rlErr.RetryAfter},
			Cause:   err,
		}
	}
	return &domain.Err{Kind: domain.ErrServerError, Message: fmt.Sprintf("slack request failed: %v", err)}
}
