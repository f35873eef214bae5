package manager

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"

	"github.com/reelsmith/reelsmith-api/assembler"
	"github.com/reelsmith/reelsmith-api/models"
	"github.com/reelsmith/reelsmith-api/scheduler"
)

// The pipeline stages, kept behind interfaces so tests can stub slow
// external collaborators.
type Planner interface {
	Plan(ctx context.Context, req *models.VideoRequest) ([]models.Scene, error)
}

type JobScheduler interface {
	Run(ctx context.Context, req scheduler.Request) ([]models.SceneArtifacts, error)
}

type MediaAssembler interface {
	Assemble(ctx context.Context, req assembler.Request) (*models.VideoResult, error)
}

// runPipeline executes planner → scheduler → assembler for one task. The
// frame template decides which media jobs exist before scheduling begins.
func (m *Manager) runPipeline(ctx context.Context, taskID string, req *models.VideoRequest) (*models.VideoResult, error) {
	tmpl, err := assembler.ParseTemplate(req.FrameTemplate)
	if err != nil {
		return nil, err
	}

	scenes, err := m.planner.Plan(ctx, req)
	if err != nil {
		return nil, err
	}

	outputDir := filepath.Join(m.outputDir, taskID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	saveStoryboard(outputDir, scenes)

	artifacts, err := m.scheduler.Run(ctx, scheduler.Request{
		Scenes:         scenes,
		MediaKind:      tmpl.MediaKind(),
		MediaWorkflow:  req.MediaWorkflow,
		TTSWorkflow:    req.TTSWorkflow,
		PromptPrefix:   req.PromptPrefix,
		ReferenceAudio: req.ReferenceAudio,
		OutputDir:      outputDir,
	})
	if err != nil {
		return nil, err
	}

	return m.assembler.Assemble(ctx, assembler.Request{
		Scenes:         artifacts,
		Template:       tmpl,
		TemplateParams: req.TemplateParams,
		BGMPath:        req.BGMPath,
		BGMVolume:      req.BGMVolume,
		OutputDir:      outputDir,
	})
}

// saveStoryboard writes the planned scenes next to the artifacts so a task's
// output dir is self-describing. Best-effort: a failed write never fails the
// task.
func saveStoryboard(outputDir string, scenes []models.Scene) {
	data, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(outputDir, "storyboard.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Printf("Could not write storyboard for %s: %v", outputDir, err)
	}
}
