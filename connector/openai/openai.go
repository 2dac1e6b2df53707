// Package openai adapts the OpenAI Chat Completions API to the
// connector.Client contract, the sibling of connector/anthropic built the
// same way.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "openai"

type Client struct {
	Model string
}

func New() *Client { return &Client{Model: "gpt-4o-mini"} }

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "create_chat_completion", Kind: "action", RequiredFields: []string{"messages"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	client := c.sdkClient(conn)
	_, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.modelFor(nil)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("ping"),
		},
	})
	if err != nil {
		return translateErr(err)
	}
	return nil
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	if operation != "create_chat_completion" {
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
	if err := connector.RequireFields(input, []string{"messages"}); err != nil {
		return connector.Result{}, err
	}

	rawMessages, _ := input["messages"].([]any)
	var messages []openai.ChatCompletionMessageParamUnion
	for _, m := range rawMessages {
		entry, _ := m.(map[string]any)
		role, _ := entry["role"].(string)
		text, _ := entry["content"].(string)
		switch role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(text))
		case "system":
			messages = append(messages, openai.SystemMessage(text))
		default:
			messages = append(messages, openai.UserMessage(text))
		}
	}

	client := c.sdkClient(conn)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.modelFor(input)),
		Messages: messages,
	})
	if err != nil {
		return connector.Result{}, translateErr(err)
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	tokens := int(resp.Usage.TotalTokens)

	return connector.Result{
		Output:     map[string]any{"text": text},
		TokensUsed: tokens,
		CostUSD:    estimateCost(string(resp.Model), resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
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
	return "gpt-4o-mini"
}

func (c *Client) sdkClient(conn *domain.Connection) openai.Client {
	apiKey, _ := conn.Data["apiKey"].(string)
	return openai.NewClient(option.WithAPIKey(apiKey))
}

func translateErr(err error) error {
	var apiErr *openai.Error
	if ok := errAs(err, &apiErr); ok {
		return connector.ClassifyHTTPStatus(apiErr.StatusCode, []byte(apiErr.Message), nil)
	}
	return &domain.Err{Kind: domain.ErrNetwork, Message: fmt.Sprintf("openai request failed: %v", err)}
}

func errAs(err error, target **openai.Error) bool {
	apiErr, ok := err.(*openai.Error)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

func estimateCost(model string, promptTokens, completionTokens int64) float64 {
	rate, ok := openaiRates[model]
	if !ok {
		rate = openaiRates["gpt-4o-mini"]
	}
	return float64(promptTokens)/1_000_000*rate.inputPerM + float64(completionTokens)/1_000_000*rate.outputPerM
}

type rateCard struct{ inputPerM, outputPerM float64 }

var openaiRates = map[string]rateCard{
	"gpt-4o-mini": {inputPerM: 0.15, outputPerM: 0.60},
	"gpt-4o":      {inputPerM: 2.50, outputPerM: 10.00},
}
