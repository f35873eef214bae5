package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(Submission, "backend rejected request")
	if KindOf(err) != Submission {
		t.Fatalf("kind %q", KindOf(err))
	}

	wrapped := fmt.Errorf("run pipeline: %w", err)
	if KindOf(wrapped) != Submission {
		t.Fatalf("kind lost through wrapping: %q", KindOf(wrapped))
	}

	if KindOf(errors.New("plain")) != Internal {
		t.Fatal("bare errors should classify as internal")
	}
	if KindOf(nil) != Internal {
		t.Fatal("nil should classify as internal")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"submission", New(Submission, "timeout"), true},
		{"artifact", New(Artifact, "download failed"), true},
		{"wrapped submission", fmt.Errorf("scene 2: %w", New(Submission, "x")), true},
		{"fatal submission", Fatalf(Submission, "bad workflow"), false},
		{"fatal wrap", WrapFatal(Artifact, errors.New("gone"), "expired"), false},
		{"invalid request", New(InvalidRequest, "no text"), false},
		{"upstream format", New(UpstreamFormat, "bad json"), false},
		{"assembly", New(Assembly, "ffmpeg exit 1"), false},
		{"cancelled", New(Cancelled, "aborted"), false},
		{"bare error", errors.New("plain"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Retryable(tc.err); got != tc.want {
				t.Fatalf("Retryable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(Submission, cause, "submit to %s", "local")

	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable via errors.Is")
	}
	want := "submission_error: submit to local: connection refused"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}

	bare := New(NotFound, "task %s", "abc")
	if bare.Error() != "not_found: task abc" {
		t.Fatalf("got %q", bare.Error())
	}
}
