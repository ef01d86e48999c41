// Package suggestgen proposes pipeline actions from aggregate stats
// using the Anthropic API.
package suggestgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-engine/internal/model"
)

// Generator proposes actions for a pipeline. Output is untrusted: the
// caller validates every proposal before persisting anything.
type Generator interface {
	Propose(ctx context.Context, stats model.PipelineStats, leads []model.Lead) ([]model.Proposal, error)
}

const systemPrompt = `You are a sales pipeline analyst. Given aggregate pipeline statistics and a list of leads, suggest concrete next actions.

Respond with ONLY a JSON array. Each element:
{
  "lead_id": "<id of an existing lead>",
  "action": "<one of: auto_notify, auto_assign, auto_move_stage, auto_escalate, auto_tag>",
  "priority": "<one of: critical, high, medium, low>",
  "reasoning": "<one sentence>",
  "suggested_data": { "notify_roles": [], "assign_to": "", "target_stage": "", "escalate_to": "", "tag": "" }
}

Suggest at most 10 actions. An empty array is a valid answer when the pipeline looks healthy.`

// Client calls the Anthropic API to generate proposals.
type Client struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewClient creates a Generator backed by the SDK.
func NewClient(apiKey, modelID string) *Client {
	if modelID == "" {
		modelID = string(sdk.ModelClaudeSonnet4_5)
	}
	return &Client{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     modelID,
		maxTokens: 4096,
	}
}

func (c *Client) Propose(ctx context.Context, stats model.PipelineStats, leads []model.Lead) ([]model.Proposal, error) {
	prompt, err := buildPrompt(stats, leads)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "suggestgen: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	proposals, err := ParseProposals(text.String())
	if err != nil {
		return nil, err
	}

	zap.L().Info("suggestions generated",
		zap.String("company_id", stats.CompanyID),
		zap.Int("proposals", len(proposals)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens))
	return proposals, nil
}

func buildPrompt(stats model.PipelineStats, leads []model.Lead) (string, error) {
	statsJSON, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "suggestgen: marshal stats")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline statistics:\n%s\n\nLeads:\n", statsJSON)
	for i := range leads {
		l := &leads[i]
		fmt.Fprintf(&b, "- id=%s title=%q stage=%s value=%.0f probability=%d%% score=%d updated=%s\n",
			l.ID, l.Title, l.Stage, l.ExpectedValue, l.Probability, l.Score, l.UpdatedAt.Format("2006-01-02"))
	}
	return b.String(), nil
}

// ParseProposals extracts the JSON array from a model response, which
// may be wrapped in markdown fences or surrounding prose.
func ParseProposals(text string) ([]model.Proposal, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, eris.New("suggestgen: no JSON array in response")
	}

	var proposals []model.Proposal
	if err := json.Unmarshal([]byte(text[start:end+1]), &proposals); err != nil {
		return nil, eris.Wrap(err, "suggestgen: parse proposals")
	}
	return proposals, nil
}
