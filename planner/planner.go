package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
)

// Planner turns a topic or a fixed script into an ordered list of scenes.
type Planner struct {
	baseURL string
	model   string
}

func New(cfg config.PlannerConfig) *Planner {
	return &Planner{baseURL: cfg.BaseURL, model: cfg.Model}
}

// Plan produces the scene list for a request. Generate mode makes exactly
// one language-model call; fixed mode is pure and makes none.
func (p *Planner) Plan(ctx context.Context, req *models.VideoRequest) ([]models.Scene, error) {
	switch req.Mode {
	case models.ModeGenerate:
		return p.generate(ctx, req.Text, req.SceneCount)
	case models.ModeFixed:
		return Split(req.Text, req.SplitStrategy)
	default:
		return nil, failure.New(failure.InvalidRequest, "unknown planner mode %q", req.Mode)
	}
}

// ScriptBreakdown is the structured output for the script-writing LLM call.
type ScriptBreakdown struct {
	Scenes []string `json:"scenes" jsonschema_description:"The narration text for each scene, in playback order. Must contain exactly the requested number of scenes."`
}

// GenerateSchema generates a JSON schema for structured outputs
func GenerateSchema[T any]() interface{} {
	// Structured Outputs uses a subset of JSON schema
	// These flags are necessary to comply with the subset
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

var scriptBreakdownSchema = GenerateSchema[ScriptBreakdown]()

func (p *Planner) generate(ctx context.Context, topic string, n int) ([]models.Scene, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, failure.New(failure.InvalidRequest, "topic is required")
	}
	// Reject out-of-range counts before any external call is made.
	if n < 1 || n > 20 {
		return nil, failure.New(failure.InvalidRequest, "scene count must be between 1 and 20, got %d", n)
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	client := openai.NewClient(opts...)

	prompt := fmt.Sprintf(`You are writing the narration script for a short video about the topic: "%s".
Split the narration into exactly %d scenes.
Each scene is one self-contained passage of spoken narration, two to four sentences long.
The scenes must read as one continuous script when played back to back.
Return only the narration text for each scene, no scene numbers, no stage directions.`, topic, n)

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "script_breakdown",
		Description: openai.String("Narration text split into scenes"),
		Schema:      scriptBreakdownSchema,
		Strict:      openai.Bool(true),
	}

	chatCompletion, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(p.model),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(chatCompletion.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	rawResponse := chatCompletion.Choices[0].Message.Content

	var breakdown ScriptBreakdown
	if err := json.Unmarshal([]byte(rawResponse), &breakdown); err != nil {
		// Model output is non-deterministic; a blind retry may recur, so
		// this is surfaced for the caller to resubmit.
		return nil, failure.Wrap(failure.UpstreamFormat, err, "failed to parse script response")
	}
	if len(breakdown.Scenes) != n {
		return nil, failure.New(failure.UpstreamFormat, "requested %d scenes, model returned %d", n, len(breakdown.Scenes))
	}

	scenes := make([]models.Scene, 0, n)
	for i, text := range breakdown.Scenes {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, failure.New(failure.UpstreamFormat, "model returned empty scene at index %d", i)
		}
		scenes = append(scenes, models.Scene{Index: i, Text: text})
	}
	log.Printf("Planned %d scenes for topic %q", len(scenes), topic)
	return scenes, nil
}
