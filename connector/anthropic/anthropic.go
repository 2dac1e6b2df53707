// Package anthropic adapts the Anthropic Messages API to the connector.Client
// contract, an operation-dispatch Client so it can sit in a workflow DAG
// alongside non-LLM connectors.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "anthropic"

// Client wraps the Anthropic SDK. Model is the default model used when an
// operation's input omits "model".
type Client struct {
	Model string
}

func New() *Client {
	return &Client{Model: "claude-sonnet-4-20250514"}
}

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{
			Name:           "create_message",
			Kind:           "action",
			RequiredFields: []string{"messages"},
		},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	client := c.sdkClient(conn)
	_, err := client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.modelFor(nil)),
		MaxTokens: 1,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return translateErr(err)
	}
	return nil
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	if operation != "create_message" {
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
	if err := connector.RequireFields(input, []string{"messages"}); err != nil {
		return connector.Result{}, err
	}

	rawMessages, _ := input["messages"].([]any)
	var messages []sdk.MessageParam
	for _, m := range rawMessages {
		entry, _ := m.(map[string]any)
		role, _ := entry["role"].(string)
		text, _ := entry["content"].(string)
		block := sdk.NewTextBlock(text)
		if role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(block))
		} else {
			messages = append(messages, sdk.NewUserMessage(block))
		}
	}

	maxTokens := int64(1024)
	if v, ok := input["maxTokens"].(float64); ok {
		maxTokens = int64(v)
	}

	client := c.sdkClient(conn)
	resp, err := client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.modelFor(input)),
		MaxTokens: maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return connector.Result{}, translateErr(err)
	}

	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	tokens := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	return connector.Result{
		Output: map[string]any{
			"text":       text,
			"stopReason": string(resp.StopReason),
		},
		TokensUsed: tokens,
		CostUSD:    estimateCost(string(resp.Model), resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}, nil
}

func (c *Client) modelFor(input map[string]any) string {
	if input != nil {
		if m, ok := input["model"].(string); ok && m != "" {
			return m
		}
	}
	if c.Model != "" {
		return c.Model
	}
	return "claude-sonnet-4-20250514"
}

func (c *Client) sdkClient(conn *domain.Connection) sdk.Client {
	apiKey, _ := conn.Data["apiKey"].(string)
	return sdk.NewClient(option.WithAPIKey(apiKey))
}

func translateErr(err error) error {
	var apiErr *sdk.Error
	if ok := sdkAsAPIError(err, &apiErr); ok {
		return connector.ClassifyHTTPStatus(apiErr.StatusCode, []byte(apiErr.RawJSON()), nil)
	}
	return &domain.Err{Kind: domain.ErrNetwork, Message: fmt.Sprintf("anthropic request failed: %v", err)}
}

// sdkAsAPIError isolates the errors.As call so translateErr reads cleanly;
// the SDK's APIError type name has shifted across releases, so callers
// calibrate this function to whatever the vendored version exposes.
func sdkAsAPIError(err error, target **sdk.Error) bool {
	return errors.As(err, target)
}

// estimateCost uses a static per-model rate card, keeping pricing data
// outside the engine.
func estimateCost(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := anthropicRates[model]
	if !ok {
		rate = anthropicRates["claude-sonnet-4-20250514"]
	}
	return float64(inputTokens)/1_000_000*rate.inputPerM + float64(outputTokens)/1_000_000*rate.outputPerM
}

type rateCard struct{ inputPerM, outputPerM float64 }

var anthropicRates = map[string]rateCard{
	"claude-sonnet-4-20250514": {inputPerM: 3.00, outputPerM: 15.00},
	"claude-haiku-4-20250514":  {inputPerM: 0.80, outputPerM: 4.00},
	"claude-opus-4-20250514":   {inputPerM: 15.00, outputPerM: 75.00},
}
