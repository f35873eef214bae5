package assembler

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/models"
)

// Assembler combines per-scene artifacts into one timed video via ffmpeg.
// Every failure here is fatal to the task: a missing artifact or codec
// problem is a defect, not a transient condition, so nothing is retried.
type Assembler struct{}

func New() *Assembler {
	return &Assembler{}
}

// Request for one assembly run. Scenes must be in ordinal order with every
// narration path present; Visual is required unless the template is static.
type Request struct {
	Scenes         []models.SceneArtifacts
	Template       Template
	TemplateParams map[string]string
	BGMPath        string
	BGMVolume      float64
	OutputDir      string
}

// Assemble produces output_dir/final.mp4 and reports duration, size and
// shot count.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*models.VideoResult, error) {
	if len(req.Scenes) == 0 {
		return nil, failure.New(failure.Assembly, "no scenes to assemble")
	}

	clipDir := filepath.Join(req.OutputDir, "clips")
	if err := os.MkdirAll(clipDir, 0755); err != nil {
		return nil, failure.Wrap(failure.Assembly, err, "create clip dir")
	}

	// Build one clip per scene; clip duration follows the narration.
	clips := make([]string, len(req.Scenes))
	for i, scene := range req.Scenes {
		if scene.Narration == "" {
			return nil, failure.New(failure.Assembly, "scene %d has no narration artifact", scene.Index)
		}
		dur, err := ProbeDuration(ctx, scene.Narration)
		if err != nil {
			return nil, failure.Wrap(failure.Assembly, err, "probe narration for scene %d", scene.Index)
		}

		clip := filepath.Join(clipDir, fmt.Sprintf("clip_%02d.mp4", scene.Index))
		if err := a.buildSceneClip(ctx, scene, req, dur, clip); err != nil {
			return nil, err
		}
		clips[i] = clip
	}

	// Concatenate in ordinal order with no gaps.
	merged := filepath.Join(req.OutputDir, "merged.mp4")
	if err := a.concat(ctx, clips, merged); err != nil {
		return nil, err
	}

	final := filepath.Join(req.OutputDir, "final.mp4")
	if req.BGMPath != "" {
		if err := a.mixBGM(ctx, merged, req.BGMPath, req.BGMVolume, final); err != nil {
			return nil, err
		}
	} else {
		if err := os.Rename(merged, final); err != nil {
			return nil, failure.Wrap(failure.Assembly, err, "move final video")
		}
	}

	dur, err := ProbeDuration(ctx, final)
	if err != nil {
		return nil, failure.Wrap(failure.Assembly, err, "probe final video")
	}
	info, err := os.Stat(final)
	if err != nil {
		return nil, failure.Wrap(failure.Assembly, err, "stat final video")
	}

	return &models.VideoResult{
		VideoPath:       final,
		DurationSeconds: dur,
		FileSizeBytes:   info.Size(),
		ShotCount:       len(req.Scenes),
	}, nil
}

// buildSceneClip renders one scene to a uniform clip: the visual held or
// looped for the narration's duration, sized to the template.
func (a *Assembler) buildSceneClip(ctx context.Context, scene models.SceneArtifacts, req Request, duration float64, outFile string) error {
	size := req.Template.Size()
	scale := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		req.Template.Width, req.Template.Height, req.Template.Width, req.Template.Height)

	var args []string
	switch req.Template.Mode {
	case ModeStatic:
		// Template-only visual: a colored background card. The background
		// color rides in via template params.
		bg := req.TemplateParams["background"]
		if bg == "" {
			bg = "black"
		}
		args = []string{
			"-f", "lavfi",
			"-i", fmt.Sprintf("color=c=%s:s=%s:d=%.3f", bg, size, duration),
			"-i", scene.Narration,
		}
	case ModeImage:
		if scene.Visual == "" {
			return failure.New(failure.Assembly, "scene %d has no image artifact", scene.Index)
		}
		args = []string{
			"-loop", "1",
			"-i", scene.Visual,
			"-i", scene.Narration,
		}
	case ModeVideo:
		if scene.Visual == "" {
			return failure.New(failure.Assembly, "scene %d has no clip artifact", scene.Index)
		}
		// Loop the generated clip so it covers the narration.
		args = []string{
			"-stream_loop", "-1",
			"-i", scene.Visual,
			"-i", scene.Narration,
		}
	default:
		return failure.New(failure.Assembly, "unknown template mode %q", req.Template.Mode)
	}

	args = append(args,
		"-t", fmt.Sprintf("%.3f", duration),
		"-map", "0:v", "-map", "1:a",
		"-vf", scale,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		outFile,
	)
	return runFFmpeg(ctx, args...)
}

// concat joins the scene clips with ffmpeg's concat demuxer.
func (a *Assembler) concat(ctx context.Context, clips []string, outFile string) error {
	listFile := filepath.Join(filepath.Dir(outFile), "concat_list.txt")
	var lines []string
	for _, clip := range clips {
		lines = append(lines, fmt.Sprintf("file '%s'", clip))
	}
	if err := os.WriteFile(listFile, []byte(strings.Join(lines, "\n")), 0644); err != nil {
		return failure.Wrap(failure.Assembly, err, "write concat list")
	}

	return runFFmpeg(ctx,
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		outFile,
	)
}

// mixBGM mixes background music under the narration track. Out-of-range
// volume is clamped with a warning, not an error.
func (a *Assembler) mixBGM(ctx context.Context, videoFile, bgmFile string, volume float64, outFile string) error {
	if volume < 0 || volume > 1 {
		clamped := volume
		if clamped < 0 {
			clamped = 0
		} else if clamped > 1 {
			clamped = 1
		}
		log.Printf("bgm_volume %.2f out of range, clamping to %.2f", volume, clamped)
		volume = clamped
	}

	filter := fmt.Sprintf(
		"[1:a]volume=%.3f,aloop=loop=-1:size=2e9[bgm];[0:a][bgm]amix=inputs=2:duration=first:dropout_transition=0[a]",
		volume)

	return runFFmpeg(ctx,
		"-i", videoFile,
		"-i", bgmFile,
		"-filter_complex", filter,
		"-map", "0:v",
		"-map", "[a]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-shortest",
		outFile,
	)
}

// runFFmpeg executes ffmpeg, keeping the tail of stderr for diagnostics.
func runFFmpeg(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", append([]string{"-y"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return failure.Wrap(failure.Assembly, err, "ffmpeg failed: %s", tail(string(out), 400))
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
