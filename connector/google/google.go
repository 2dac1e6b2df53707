// Package google adapts the Gemini Generative Language API (via
// google/generative-ai-go) to the connector.Client contract.
package google

import (
	"context"
	"fmt"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/appscriptstudio/workflow-engine/connector"
	"github.com/appscriptstudio/workflow-engine/domain"
)

const Slug = "google"

type Client struct {
	Model string
}

func New() *Client { return &Client{Model: "gemini-1.5-flash"} }

func (c *Client) Slug() string { return Slug }

func (c *Client) Operations() []domain.OperationSpec {
	return []domain.OperationSpec{
		{Name: "generate_content", Kind: "action", RequiredFields: []string{"prompt"}},
	}
}

func (c *Client) TestConnection(ctx context.Context, conn *domain.Connection) error {
	client, err := c.sdkClient(ctx, conn)
	if err != nil {
		return err
	}
	defer client.Close()
	model := client.GenerativeModel(c.modelFor(nil))
	_, err = model.GenerateContent(ctx, genai.Text("ping"))
	if err != nil {
		return translateErr(err)
	}
	return nil
}

func (c *Client) Invoke(ctx context.Context, operation string, input map[string]any, conn *domain.Connection) (connector.Result, error) {
	if operation != "generate_content" {
		return connector.Result{}, &domain.Err{Kind: domain.ErrUnknownOperation, Message: operation}
	}
	if err := connector.RequireFields(input, []string{"prompt"}); err != nil {
		return connector.Result{}, err
	}
	prompt, _ := input["prompt"].(string)

	client, err := c.sdkClient(ctx, conn)
	if err != nil {
		return connector.Result{}, err
	}
	defer client.Close()

	model := client.GenerativeModel(c.modelFor(input))
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return connector.Result{}, translateErr(err)
	}

	text := ""
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if t, ok := part.(genai.Text); ok {
				text += string(t)
			}
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return connector.Result{
		Output:     map[string]any{"text": text},
		TokensUsed: tokens,
		CostUSD:    estimateCost(tokens),
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
	return "gemini-1.5-flash"
}

func (c *Client) sdkClient(ctx context.Context, conn *domain.Connection) (*genai.Client, error) {
	apiKey, _ := conn.Data["apiKey"].(string)
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &domain.Err{Kind: domain.ErrAuthInvalid, Message: "build gemini client", Cause: err}
	}
	return client, nil
}

func translateErr(err error) error {
	return &domain.Err{Kind: domain.ErrServerError, Message: fmt.Sprintf("gemini request failed: %v", err)}
}

// estimateCost uses a flat blended per-token rate; Gemini's published
// pricing does not split input/output as cleanly as the other two
// providers at the flash tier this connector defaults to.
func estimateCost(tokens int) float64 {
	const perMillion = 0.075
	return float64(tokens) / 1_000_000 * perMillion
}
