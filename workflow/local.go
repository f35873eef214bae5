package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/failure"
)

// LocalBackend talks to a self-hosted generation engine with a ComfyUI-style
// HTTP API: POST /prompt enqueues a bound graph, GET /history reports
// completion, GET /view serves artifacts. The engine executes one graph at a
// time, which is why the default scheduler concurrency is 1.
type LocalBackend struct {
	baseURL      string
	workflowsDir string
	clientID     string
	http         *http.Client
}

func NewLocalBackend(cfg config.LocalBackendConfig, workflowsDir string) *LocalBackend {
	return &LocalBackend{
		baseURL:      cfg.BaseURL,
		workflowsDir: filepath.Join(workflowsDir, "local"),
		clientID:     uuid.NewString(),
		http:         &http.Client{Timeout: 60 * time.Second},
	}
}

type localSubmitRequest struct {
	Prompt   Graph  `json:"prompt"`
	ClientID string `json:"client_id"`
}

type localSubmitResponse struct {
	PromptID string `json:"prompt_id"`
	Error    *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *LocalBackend) Submit(ctx context.Context, workflowID string, kind Kind, params map[string]string) (string, error) {
	graph, err := LoadGraph(b.workflowsDir, workflowID)
	if err != nil {
		return "", err
	}
	if _, err := Bind(graph, params); err != nil {
		return "", err
	}

	body, err := json.Marshal(localSubmitRequest{Prompt: graph, ClientID: b.clientID})
	if err != nil {
		return "", failure.WrapFatal(failure.Submission, err, "encode workflow %q", workflowID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", failure.Wrap(failure.Submission, err, "build submit request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return "", failure.Wrap(failure.Submission, err, "local backend unreachable")
	}
	defer resp.Body.Close()

	var out localSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", failure.Wrap(failure.Submission, err, "decode submit response")
	}
	if resp.StatusCode == http.StatusBadRequest || out.Error != nil {
		msg := "rejected"
		if out.Error != nil {
			msg = out.Error.Message
		}
		// A rejected graph is structural: retrying the same graph cannot help.
		return "", failure.Fatalf(failure.Submission, "local backend rejected workflow %q: %s", workflowID, msg)
	}
	if resp.StatusCode != http.StatusOK || out.PromptID == "" {
		return "", failure.New(failure.Submission, "local backend returned status %d", resp.StatusCode)
	}
	return out.PromptID, nil
}

// localHistoryEntry mirrors the subset of the history payload we need.
type localHistoryEntry struct {
	Status struct {
		Completed bool   `json:"completed"`
		StatusStr string `json:"status_str"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []localArtifact `json:"images"`
		Audio  []localArtifact `json:"audio"`
		Videos []localArtifact `json:"gifs"`
	} `json:"outputs"`
}

type localArtifact struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

func (b *LocalBackend) Poll(ctx context.Context, ref string) (PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/history/"+url.PathEscape(ref), nil)
	if err != nil {
		return PollResult{}, failure.Wrap(failure.Submission, err, "build poll request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return PollResult{}, failure.Wrap(failure.Submission, err, "local backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return PollResult{}, failure.New(failure.Submission, "local backend returned status %d on poll", resp.StatusCode)
	}

	var history map[string]localHistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return PollResult{}, failure.Wrap(failure.Submission, err, "decode history response")
	}

	entry, ok := history[ref]
	if !ok {
		// Not in history yet: still queued or executing.
		return PollResult{Status: StatusPending}, nil
	}
	if entry.Status.StatusStr == "error" {
		return PollResult{Status: StatusFailed, Message: "execution failed"}, nil
	}
	if !entry.Status.Completed {
		return PollResult{Status: StatusPending}, nil
	}

	artifact, ok := firstArtifact(entry)
	if !ok {
		return PollResult{Status: StatusFailed, Message: "completed with no outputs"}, nil
	}
	ref, err = encodeLocalArtifact(artifact)
	if err != nil {
		return PollResult{}, err
	}
	return PollResult{Status: StatusSucceeded, ArtifactRef: ref}, nil
}

func firstArtifact(entry localHistoryEntry) (localArtifact, bool) {
	for _, out := range entry.Outputs {
		for _, group := range [][]localArtifact{out.Videos, out.Images, out.Audio} {
			if len(group) > 0 {
				return group[0], true
			}
		}
	}
	return localArtifact{}, false
}

func encodeLocalArtifact(a localArtifact) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", failure.Wrap(failure.Artifact, err, "encode artifact reference")
	}
	return string(data), nil
}

func (b *LocalBackend) Fetch(ctx context.Context, artifactRef, destDir string) (string, error) {
	var a localArtifact
	if err := json.Unmarshal([]byte(artifactRef), &a); err != nil {
		return "", failure.Wrap(failure.Artifact, err, "malformed artifact reference")
	}

	q := url.Values{}
	q.Set("filename", a.Filename)
	q.Set("subfolder", a.Subfolder)
	q.Set("type", a.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/view?"+q.Encode(), nil)
	if err != nil {
		return "", failure.Wrap(failure.Artifact, err, "build fetch request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", failure.Wrap(failure.Artifact, err, "download artifact %q", a.Filename)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", failure.New(failure.Artifact, "artifact %q unavailable, status %d", a.Filename, resp.StatusCode)
	}

	return saveArtifact(resp.Body, destDir, a.Filename)
}

// Cancel interrupts the currently executing graph. The engine cannot cancel
// queued work, so this is documented as a best-effort no-op for anything
// still in the queue.
func (b *LocalBackend) Cancel(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/interrupt", nil)
	if err != nil {
		return nil
	}
	resp, err := b.http.Do(req)
	if err != nil {
		log.Printf("Local backend cancel failed for %s: %v", ref, err)
		return nil
	}
	resp.Body.Close()
	return nil
}

// saveArtifact streams a downloaded artifact to destDir.
func saveArtifact(r io.Reader, destDir, filename string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", failure.Wrap(failure.Artifact, err, "create artifact dir")
	}
	dest := filepath.Join(destDir, filepath.Base(filename))
	out, err := os.Create(dest)
	if err != nil {
		return "", failure.Wrap(failure.Artifact, err, "create artifact file")
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		os.Remove(dest)
		return "", failure.Wrap(failure.Artifact, err, "write artifact file")
	}
	return dest, nil
}
