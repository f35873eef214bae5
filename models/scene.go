package models

// Scene is one ordinal segment of the script, the atomic unit of media and
// audio generation. Ordinals are contiguous from 0 and never reused within a
// task. Created by the planner, immutable afterwards.
type Scene struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SceneArtifacts holds the materialized generation outputs for one scene,
// ready for assembly. Visual is empty for static frame templates.
type SceneArtifacts struct {
	Index     int    `json:"index"`
	Visual    string `json:"visual,omitempty"`
	Narration string `json:"narration"`
}
