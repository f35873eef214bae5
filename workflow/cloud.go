package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith-api/config"
	"github.com/reelsmith/reelsmith-api/failure"
)

// CloudBackend talks to a hosted workflow service. Jobs queue behind an
// account-level concurrency quota (1-10) and run on one of two compute
// tiers. Workflow files on disk pair the service-side workflow id with a
// marker-annotated graph; bound markers are submitted as a node-info list.
type CloudBackend struct {
	baseURL      string
	workflowsDir string
	instanceTier string
	apiKey       string
	http         *http.Client
}

func NewCloudBackend(cfg config.CloudBackendConfig, workflowsDir string) *CloudBackend {
	return &CloudBackend{
		baseURL:      cfg.BaseURL,
		workflowsDir: filepath.Join(workflowsDir, "cloud"),
		instanceTier: cfg.InstanceTier,
		apiKey:       os.Getenv("CLOUD_API_KEY"),
		http:         &http.Client{Timeout: 60 * time.Second},
	}
}

// cloudWorkflowFile is the on-disk shape of a cloud workflow.
type cloudWorkflowFile struct {
	WorkflowID string `json:"workflow_id"`
	Nodes      Graph  `json:"nodes"`
}

type cloudEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Service error codes worth distinguishing.
const (
	cloudCodeOK          = 0
	cloudCodeQueueMaxed  = 421 // account quota exhausted, retryable
	cloudCodeRateLimited = 429
	cloudCodeBadWorkflow = 803 // unknown workflow id, structural
)

func (b *CloudBackend) post(ctx context.Context, endpoint string, payload map[string]interface{}) (*cloudEnvelope, error) {
	payload["apiKey"] = b.apiKey
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, failure.WrapFatal(failure.Submission, err, "encode cloud request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path.Clean("/"+endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, failure.Wrap(failure.Submission, err, "build cloud request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, failure.Wrap(failure.Submission, err, "cloud backend unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, failure.New(failure.Submission, "cloud backend returned status %d", resp.StatusCode)
	}
	var env cloudEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, failure.Wrap(failure.Submission, err, "decode cloud response")
	}
	return &env, nil
}

func (b *CloudBackend) Submit(ctx context.Context, workflowID string, kind Kind, params map[string]string) (string, error) {
	if strings.Contains(workflowID, "..") {
		return "", failure.Fatalf(failure.Submission, "invalid workflow name %q", workflowID)
	}
	data, err := os.ReadFile(filepath.Join(b.workflowsDir, workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", failure.Fatalf(failure.Submission, "workflow %q not found", workflowID)
		}
		return "", failure.Wrap(failure.Submission, err, "read workflow %q", workflowID)
	}
	var wf cloudWorkflowFile
	if err := json.Unmarshal(data, &wf); err != nil {
		return "", failure.WrapFatal(failure.Submission, err, "workflow %q is malformed", workflowID)
	}
	if wf.WorkflowID == "" {
		return "", failure.Fatalf(failure.Submission, "workflow %q has no service workflow id", workflowID)
	}

	bindings, err := Bind(wf.Nodes, params)
	if err != nil {
		return "", err
	}

	env, err := b.post(ctx, "/task/create", map[string]interface{}{
		"workflowId":   wf.WorkflowID,
		"nodeInfoList": bindings,
		"instanceType": b.instanceTier,
	})
	if err != nil {
		return "", err
	}
	switch env.Code {
	case cloudCodeOK:
	case cloudCodeQueueMaxed, cloudCodeRateLimited:
		return "", failure.New(failure.Submission, "cloud queue full (code %d): %s", env.Code, env.Msg)
	case cloudCodeBadWorkflow:
		return "", failure.Fatalf(failure.Submission, "cloud rejected workflow %q: %s", workflowID, env.Msg)
	default:
		return "", failure.New(failure.Submission, "cloud create failed (code %d): %s", env.Code, env.Msg)
	}

	var out struct {
		TaskID string `json:"taskId"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil || out.TaskID == "" {
		return "", failure.New(failure.Submission, "cloud create returned no task id")
	}
	return out.TaskID, nil
}

func (b *CloudBackend) Poll(ctx context.Context, ref string) (PollResult, error) {
	env, err := b.post(ctx, "/task/status", map[string]interface{}{"taskId": ref})
	if err != nil {
		return PollResult{}, err
	}
	if env.Code != cloudCodeOK {
		return PollResult{}, failure.New(failure.Submission, "cloud status failed (code %d): %s", env.Code, env.Msg)
	}

	var status string
	if err := json.Unmarshal(env.Data, &status); err != nil {
		return PollResult{}, failure.Wrap(failure.Submission, err, "decode cloud status")
	}
	switch status {
	case "QUEUED", "RUNNING":
		return PollResult{Status: StatusPending}, nil
	case "SUCCESS":
		// Output URLs are resolved at fetch time; the task id is the
		// artifact reference.
		return PollResult{Status: StatusSucceeded, ArtifactRef: ref}, nil
	case "FAILED":
		return PollResult{Status: StatusFailed, Message: env.Msg}, nil
	default:
		return PollResult{}, failure.New(failure.Submission, "cloud reported unknown status %q", status)
	}
}

func (b *CloudBackend) Fetch(ctx context.Context, artifactRef, destDir string) (string, error) {
	env, err := b.post(ctx, "/task/outputs", map[string]interface{}{"taskId": artifactRef})
	if err != nil {
		return "", failure.Wrap(failure.Artifact, err, "resolve outputs for task %s", artifactRef)
	}
	if env.Code != cloudCodeOK {
		return "", failure.New(failure.Artifact, "cloud outputs failed (code %d): %s", env.Code, env.Msg)
	}

	var outputs []struct {
		FileURL string `json:"fileUrl"`
	}
	if err := json.Unmarshal(env.Data, &outputs); err != nil || len(outputs) == 0 {
		return "", failure.New(failure.Artifact, "task %s has no outputs", artifactRef)
	}

	fileURL := outputs[0].FileURL
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", failure.Wrap(failure.Artifact, err, "build download request")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return "", failure.Wrap(failure.Artifact, err, "download %s", fileURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Output URLs expire; the scheduler may retry the whole job.
		return "", failure.New(failure.Artifact, "artifact expired or unavailable, status %d", resp.StatusCode)
	}
	return saveArtifact(resp.Body, destDir, path.Base(fileURL))
}

func (b *CloudBackend) Cancel(ctx context.Context, ref string) error {
	env, err := b.post(ctx, "/task/cancel", map[string]interface{}{"taskId": ref})
	if err != nil {
		log.Printf("Cloud cancel failed for task %s: %v", ref, err)
		return nil
	}
	if env.Code != cloudCodeOK {
		log.Printf("Cloud cancel rejected for task %s (code %d): %s", ref, env.Code, env.Msg)
	}
	return nil
}
