package planner

import (
	"context"
	"testing"

	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
)

func TestPlan_FixedModeMakesNoExternalCalls(t *testing.T) {
	// No API key is set; a fixed-mode plan must still succeed.
	t.Setenv("OPENAI_API_KEY", "")

	p := New(config.PlannerConfig{Model: "gpt-4o-mini"})
	scenes, err := p.Plan(context.Background(), &models.VideoRequest{
		Text: "One. Two. Three.",
		Mode: models.ModeFixed, SplitStrategy: models.SplitSentence,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(scenes))
	}
}

func TestPlan_GenerateRejectsBadInputBeforeAnyCall(t *testing.T) {
	// No API key: if validation happens first these fail with invalid
	// request, never with a missing-key error.
	t.Setenv("OPENAI_API_KEY", "")
	p := New(config.PlannerConfig{Model: "gpt-4o-mini"})

	cases := []struct {
		name string
		req  models.VideoRequest
	}{
		{"zero scenes", models.VideoRequest{Text: "topic", Mode: models.ModeGenerate}},
		{"too many scenes", models.VideoRequest{Text: "topic", Mode: models.ModeGenerate, SceneCount: 21}},
		{"negative scenes", models.VideoRequest{Text: "topic", Mode: models.ModeGenerate, SceneCount: -1}},
		{"empty topic", models.VideoRequest{Text: "  ", Mode: models.ModeGenerate, SceneCount: 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Plan(context.Background(), &tc.req)
			if !failure.Is(err, failure.InvalidRequest) {
				t.Fatalf("expected invalid request, got %v", err)
			}
		})
	}
}

func TestPlan_UnknownMode(t *testing.T) {
	p := New(config.PlannerConfig{})
	_, err := p.Plan(context.Background(), &models.VideoRequest{Text: "x", Mode: "auto"})
	if !failure.Is(err, failure.InvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestScriptBreakdownSchema(t *testing.T) {
	// The structured-output schema must reflect without panicking and be
	// built once at init.
	if scriptBreakdownSchema == nil {
		t.Fatal("schema not generated")
	}
}
