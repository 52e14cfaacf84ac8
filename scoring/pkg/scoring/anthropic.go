package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/getsentry/sentry-go"

	"github.com/flowdroplabs/flowdrop/api/metrics"
	"github.com/flowdroplabs/flowdrop/scoring/pkg/history"
)

// AnthropicEvaluator is the primary evaluation path. It asks Claude for the
// four factor scores plus reasoning and quality flags. Any failure (API
// error, timeout, malformed or out-of-range response) surfaces as an error
// so the caller can fall back to the rule evaluator.
type AnthropicEvaluator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	targets   []string
	log       *slog.Logger
}

// NewAnthropicEvaluator creates an evaluator using the ambient Anthropic
// credentials (ANTHROPIC_API_KEY).
func NewAnthropicEvaluator(log *slog.Logger, model anthropic.Model, maxTokens int64, targetAccounts []string) *AnthropicEvaluator {
	return &AnthropicEvaluator{
		client:    anthropic.NewClient(),
		model:     model,
		maxTokens: maxTokens,
		targets:   targetAccounts,
		log:       log,
	}
}

// Name labels the evaluation path in breakdowns and metrics.
func (e *AnthropicEvaluator) Name() string { return "anthropic" }

// Evaluate scores one post via the Anthropic API.
func (e *AnthropicEvaluator) Evaluate(ctx context.Context, post Post, hist history.Entry) (Evaluation, error) {
	span := sentry.StartSpan(ctx, "gen_ai.chat", sentry.WithDescription(fmt.Sprintf("chat %s", e.model)))
	span.SetData("gen_ai.operation.name", "chat")
	span.SetData("gen_ai.request.model", string(e.model))
	span.SetData("gen_ai.request.max_tokens", e.maxTokens)
	span.SetData("gen_ai.system", "anthropic")
	span.SetTag("post_id", post.ID)
	ctx = span.Context()
	defer span.Finish()

	userPrompt := buildUserPrompt(post, hist, e.targets)

	start := time.Now()
	e.log.Debug("Anthropic evaluation starting", "postID", post.ID, "model", e.model, "userPromptLen", len(userPrompt))

	msg, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: evaluatorSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})

	duration := time.Since(start)
	if err != nil {
		e.log.Error("Anthropic evaluation failed", "postID", post.ID, "duration", duration, "error", err)
		metrics.RecordAnthropicRequest("evaluate", duration, err)
		span.Status = sentry.SpanStatusInternalError
		return Evaluation{}, fmt.Errorf("anthropic API error: %w", err)
	}

	e.log.Debug("Anthropic evaluation completed",
		"postID", post.ID,
		"duration", duration,
		"stopReason", msg.StopReason,
		"inputTokens", msg.Usage.InputTokens,
		"outputTokens", msg.Usage.OutputTokens,
	)

	metrics.RecordAnthropicRequest("evaluate", duration, nil)
	metrics.RecordAnthropicTokens(msg.Usage.InputTokens, msg.Usage.OutputTokens)

	span.SetData("gen_ai.usage.input_tokens", msg.Usage.InputTokens)
	span.SetData("gen_ai.usage.output_tokens", msg.Usage.OutputTokens)
	span.Status = sentry.SpanStatusOK

	var raw string
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw = block.Text
			break
		}
	}
	if raw == "" {
		return Evaluation{}, fmt.Errorf("no text content in response")
	}

	ev, err := parseEvaluation(raw)
	if err != nil {
		return Evaluation{}, fmt.Errorf("parse model response: %w", err)
	}
	return ev, nil
}

// modelResponse mirrors the JSON shape the system prompt demands.
type modelResponse struct {
	CommunicationQuality float64       `json:"communication_quality"`
	CommunityImpact      float64       `json:"community_impact"`
	Consistency          float64       `json:"consistency"`
	CampaignEngagement   float64       `json:"campaign_engagement"`
	Reasoning            *Reasoning    `json:"reasoning"`
	Flags                *QualityFlags `json:"flags"`
}

// parseEvaluation decodes the model's JSON reply. Models sometimes wrap the
// object in markdown fences despite instructions; strip those before
// decoding. Any factor outside [0,100] rejects the whole response.
func parseEvaluation(raw string) (Evaluation, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var resp modelResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return Evaluation{}, fmt.Errorf("invalid JSON: %w", err)
	}

	factors := map[string]float64{
		"communication_quality": resp.CommunicationQuality,
		"community_impact":      resp.CommunityImpact,
		"consistency":           resp.Consistency,
		"campaign_engagement":   resp.CampaignEngagement,
	}
	for name, v := range factors {
		if v < 0 || v > 100 {
			return Evaluation{}, fmt.Errorf("factor %s out of range: %v", name, v)
		}
	}

	return Evaluation{
		Factors: Factors{
			CommunicationQuality: resp.CommunicationQuality,
			CommunityImpact:      resp.CommunityImpact,
			Consistency:          resp.Consistency,
			CampaignEngagement:   resp.CampaignEngagement,
		},
		Reasoning: resp.Reasoning,
		Flags:     resp.Flags,
	}, nil
}
