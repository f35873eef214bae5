package assembler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/workflow"
)

// Visual composition modes a frame template can select.
const (
	ModeStatic = "static" // template-only visuals, no generated media
	ModeImage  = "image"  // one still image per scene
	ModeVideo  = "video"  // one generated clip per scene
)

// mediaKindByMode is the explicit template-to-job-kind mapping, consulted
// once before scheduling begins. Static templates need no media job at all.
var mediaKindByMode = map[string]workflow.Kind{
	ModeStatic: "",
	ModeImage:  workflow.KindImage,
	ModeVideo:  workflow.KindVideo,
}

// Template is a parsed frame-template identifier. Identifiers are shaped
// "<mode>_<width>x<height>_<name>", e.g. "image_1080x1920_default".
type Template struct {
	ID     string
	Mode   string
	Width  int
	Height int
	Name   string
}

// ParseTemplate validates and decomposes a frame-template identifier.
func ParseTemplate(id string) (Template, error) {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 {
		return Template{}, failure.New(failure.InvalidRequest,
			"frame template %q must be shaped mode_WxH_name (e.g. image_1080x1920_default)", id)
	}
	mode, size, name := parts[0], parts[1], parts[2]
	if _, ok := mediaKindByMode[mode]; !ok {
		return Template{}, failure.New(failure.InvalidRequest, "unknown template mode %q", mode)
	}
	w, h, err := parseSize(size)
	if err != nil {
		return Template{}, failure.New(failure.InvalidRequest, "frame template %q: %v", id, err)
	}
	return Template{ID: id, Mode: mode, Width: w, Height: h, Name: name}, nil
}

// MediaKind returns the generation job kind this template requires per
// scene, or "" when none is needed.
func (t Template) MediaKind() workflow.Kind {
	return mediaKindByMode[t.Mode]
}

// Size returns the video dimensions as an ffmpeg "WxH" string.
func (t Template) Size() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q must be WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("bad width in %q", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("bad height in %q", s)
	}
	if w < 100 || h < 100 || w > 10000 || h > 10000 {
		return 0, 0, fmt.Errorf("size %dx%d out of range", w, h)
	}
	return w, h, nil
}
