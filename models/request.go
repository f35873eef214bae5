package models

import (
	"strings"

	"github.com/reelsmith/reelsmith-api/failure"
)

// Planner modes.
const (
	ModeGenerate = "generate"
	ModeFixed    = "fixed"
)

// Fixed-mode split strategies.
const (
	SplitParagraph = "paragraph"
	SplitLine      = "line"
	SplitSentence  = "sentence"
)

// VideoRequest is the user-facing request for one video-generation task.
// Binding tags validate the HTTP boundary; Validate covers everything the
// tags cannot express and non-HTTP callers.
type VideoRequest struct {
	Text          string            `json:"text" binding:"required"`
	Mode          string            `json:"mode" binding:"required,oneof=generate fixed"`
	SceneCount    int               `json:"n_scenes,omitempty"`
	SplitStrategy string            `json:"split_strategy,omitempty"`
	FrameTemplate string            `json:"frame_template,omitempty"`
	TemplateParams map[string]string `json:"template_params,omitempty"`
	MediaWorkflow string            `json:"media_workflow,omitempty"`
	TTSWorkflow   string            `json:"tts_workflow,omitempty"`
	ReferenceAudio string           `json:"reference_audio,omitempty"`
	PromptPrefix  string            `json:"prompt_prefix,omitempty"`
	BGMPath       string            `json:"bgm_path,omitempty"`
	BGMVolume     float64           `json:"bgm_volume,omitempty"`
}

// Validate checks the request before any external call is made.
func (r *VideoRequest) Validate() error {
	if strings.TrimSpace(r.Text) == "" {
		return failure.New(failure.InvalidRequest, "text is required")
	}
	switch r.Mode {
	case ModeGenerate:
		if r.SceneCount < 1 || r.SceneCount > 20 {
			return failure.New(failure.InvalidRequest, "n_scenes must be between 1 and 20, got %d", r.SceneCount)
		}
	case ModeFixed:
		switch r.SplitStrategy {
		case "", SplitParagraph, SplitLine, SplitSentence:
		default:
			return failure.New(failure.InvalidRequest, "unknown split_strategy %q", r.SplitStrategy)
		}
	default:
		return failure.New(failure.InvalidRequest, "mode must be %q or %q", ModeGenerate, ModeFixed)
	}
	// Out-of-range bgm_volume is clamped by the assembler with a warning,
	// not rejected here.
	return nil
}
