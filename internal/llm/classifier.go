// Package llm provides the model-backed secondary classifier, consulted
// only when rule-based classification is not confident. It is
// non-deterministic; its verdicts are always validated before use.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ordino-dev/ordino/internal/classify"
	"github.com/ordino-dev/ordino/pkg/models"
)

// ClientConfig contains configuration for creating a Classifier.
type ClientConfig struct {
	// Model is the model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// UseAWSBedrock indicates whether to use AWS Bedrock instead of direct API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
}

// Classifier asks a language model for a complexity verdict.
type Classifier struct {
	inner anthropic.Client
	model anthropic.Model
}

// NewClassifier creates a model-backed Classifier.
func NewClassifier(cfg ClientConfig) (*Classifier, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		ctx := context.Background()

		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}

		opts = append(opts, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaude3_5Haiku20241022
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	return &Classifier{
		inner: anthropic.NewClient(opts...),
		model: model,
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to
// Bedrock cross-region inference profile format: us.anthropic.{model}-v1:0.
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:  "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:  "us.anthropic.claude-3-5-haiku-20241022-v1:0",
		anthropic.ModelClaude3_7Sonnet20250219: "us.anthropic.claude-3-7-sonnet-20250219-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

const classifySystemPrompt = `You grade the complexity of a task request for an orchestration system.
Respond with a single JSON object, nothing else:
{"score": <0-100>, "level": "simple|medium|complex", "should_decompose": <bool>, "estimated_subtasks": <int>, "suggested_tier": "simple|standard|batch|orchestrator|deep", "confidence": <0-1>, "reason": "<short>"}`

// verdictJSON is the wire shape the model is asked to produce.
type verdictJSON struct {
	Score             int     `json:"score"`
	Level             string  `json:"level"`
	ShouldDecompose   bool    `json:"should_decompose"`
	EstimatedSubtasks int     `json:"estimated_subtasks"`
	SuggestedTier     string  `json:"suggested_tier"`
	Confidence        float64 `json:"confidence"`
	Reason            string  `json:"reason"`
}

// Classify asks the model for a verdict. The response is parsed and
// validated against the closed tier set before it is returned; an invalid
// verdict is an error, never silently coerced.
func (c *Classifier) Classify(ctx context.Context, text string) (models.Verdict, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Text: classifySystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return models.Verdict{}, fmt.Errorf("secondary classify: %w", err)
	}

	var raw strings.Builder
	for _, block := range resp.Content {
		if t, ok := block.AsAny().(anthropic.TextBlock); ok {
			raw.WriteString(t.Text)
		}
	}

	v, err := parseVerdict(raw.String())
	if err != nil {
		return models.Verdict{}, err
	}
	if err := classify.ValidateExternal(v); err != nil {
		return models.Verdict{}, fmt.Errorf("secondary classifier returned invalid verdict: %w", err)
	}
	log.Printf("[llm] secondary verdict: tier=%s level=%s confidence=%.2f", v.SuggestedTier, v.Level, v.Confidence)
	return v, nil
}

// parseVerdict extracts the JSON object from the model output, tolerating
// surrounding prose or code fences.
func parseVerdict(raw string) (models.Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return models.Verdict{}, fmt.Errorf("no JSON object in classifier output %q", raw)
	}

	var vj verdictJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &vj); err != nil {
		return models.Verdict{}, fmt.Errorf("parse classifier output: %w", err)
	}

	return models.Verdict{
		Score:             vj.Score,
		Level:             models.ComplexityLevel(vj.Level),
		ShouldDecompose:   vj.ShouldDecompose,
		EstimatedSubtasks: vj.EstimatedSubtasks,
		SuggestedTier:     models.Tier(vj.SuggestedTier),
		Confidence:        vj.Confidence,
		Reason:            vj.Reason,
	}, nil
}
