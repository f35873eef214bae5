package assembler

import (
	"testing"

	"github.com/reelsmith/reelsmith-api/failure"
	"github.com/reelsmith/reelsmith-api/workflow"
)

func TestParseTemplate(t *testing.T) {
	cases := []struct {
		id       string
		mode     string
		width    int
		height   int
		name     string
		wantKind workflow.Kind
	}{
		{"image_1080x1920_default", ModeImage, 1080, 1920, "default", workflow.KindImage},
		{"video_1280x720_cinematic", ModeVideo, 1280, 720, "cinematic", workflow.KindVideo},
		{"static_1080x1080_plain", ModeStatic, 1080, 1080, "plain", ""},
		{"image_1080x1920_two_columns", ModeImage, 1080, 1920, "two_columns", workflow.KindImage},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			tpl, err := ParseTemplate(tc.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tpl.Mode != tc.mode || tpl.Width != tc.width || tpl.Height != tc.height || tpl.Name != tc.name {
				t.Fatalf("parsed %+v", tpl)
			}
			if tpl.MediaKind() != tc.wantKind {
				t.Fatalf("media kind %q, want %q", tpl.MediaKind(), tc.wantKind)
			}
		})
	}
}

func TestParseTemplate_Invalid(t *testing.T) {
	cases := []string{
		"",
		"image",
		"image_1080x1920",
		"hologram_1080x1920_default",
		"image_1080_default",
		"image_0x1920_default",
		"image_99999x1920_default",
		"image_WxH_default",
	}
	for _, id := range cases {
		t.Run(id, func(t *testing.T) {
			_, err := ParseTemplate(id)
			if !failure.Is(err, failure.InvalidRequest) {
				t.Fatalf("expected invalid request for %q, got %v", id, err)
			}
		})
	}
}

func TestTemplateSize(t *testing.T) {
	tpl, err := ParseTemplate("video_1920x1080_wide")
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Size() != "1920x1080" {
		t.Fatalf("size %q", tpl.Size())
	}
}
