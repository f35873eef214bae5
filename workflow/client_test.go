package workflow

import (
	"context"
	"testing"

	"github.com/reelsmith/reelsmith-api/failure"
)

type recordClient struct {
	submittedWorkflow string
	polledRef         string
	fetchedRef        string
	cancelledRef      string
}

func (r *recordClient) Submit(ctx context.Context, workflowID string, kind Kind, params map[string]string) (string, error) {
	r.submittedWorkflow = workflowID
	return "ref-1", nil
}

func (r *recordClient) Poll(ctx context.Context, ref string) (PollResult, error) {
	r.polledRef = ref
	return PollResult{Status: StatusSucceeded, ArtifactRef: "art-1"}, nil
}

func (r *recordClient) Fetch(ctx context.Context, artifactRef, destDir string) (string, error) {
	r.fetchedRef = artifactRef
	return destDir + "/out.dat", nil
}

func (r *recordClient) Cancel(ctx context.Context, ref string) error {
	r.cancelledRef = ref
	return nil
}

func TestRouter_DispatchesByWorkflowPrefix(t *testing.T) {
	local := &recordClient{}
	cloud := &recordClient{}
	router := &Router{Local: local, Cloud: cloud}
	ctx := context.Background()

	ref, err := router.Submit(ctx, "local/tts_default.json", KindTTS, nil)
	if err != nil {
		t.Fatalf("local submit: %v", err)
	}
	if ref != "local|ref-1" {
		t.Fatalf("expected backend-prefixed ref, got %q", ref)
	}
	if local.submittedWorkflow != "tts_default.json" {
		t.Fatalf("backend saw workflow %q", local.submittedWorkflow)
	}

	ref, err = router.Submit(ctx, "cloud/flux_image", KindImage, nil)
	if err != nil {
		t.Fatalf("cloud submit: %v", err)
	}
	if ref != "cloud|ref-1" {
		t.Fatalf("expected cloud ref, got %q", ref)
	}
	if cloud.submittedWorkflow != "flux_image" {
		t.Fatalf("cloud backend saw workflow %q", cloud.submittedWorkflow)
	}
}

func TestRouter_RoutesLaterCallsByRefPrefix(t *testing.T) {
	local := &recordClient{}
	cloud := &recordClient{}
	router := &Router{Local: local, Cloud: cloud}
	ctx := context.Background()

	res, err := router.Poll(ctx, "cloud|task-9")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if cloud.polledRef != "task-9" {
		t.Fatalf("cloud backend saw ref %q", cloud.polledRef)
	}
	if res.ArtifactRef != "cloud|art-1" {
		t.Fatalf("artifact ref not re-prefixed: %q", res.ArtifactRef)
	}

	if _, err := router.Fetch(ctx, "local|art-3", t.TempDir()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if local.fetchedRef != "art-3" {
		t.Fatalf("local backend saw artifact %q", local.fetchedRef)
	}

	if err := router.Cancel(ctx, "local|job-7"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if local.cancelledRef != "job-7" {
		t.Fatalf("local backend saw cancel ref %q", local.cancelledRef)
	}
}

func TestRouter_RejectsBadIdentifiers(t *testing.T) {
	router := &Router{Local: &recordClient{}}
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{"workflow without backend prefix", func() error {
			_, err := router.Submit(ctx, "tts_default.json", KindTTS, nil)
			return err
		}},
		{"unknown backend", func() error {
			_, err := router.Submit(ctx, "edge/tts.json", KindTTS, nil)
			return err
		}},
		{"unconfigured backend", func() error {
			_, err := router.Submit(ctx, "cloud/flux", KindImage, nil)
			return err
		}},
		{"ref without backend prefix", func() error {
			_, err := router.Poll(ctx, "task-9")
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			if err == nil {
				t.Fatal("expected an error")
			}
			if failure.Retryable(err) {
				t.Fatalf("routing errors are structural, must not retry: %v", err)
			}
		})
	}
}
