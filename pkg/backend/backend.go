// Package backend talks to the opaque external workflow backend: it
// builds and dispatches pipelines as subprocesses and polls the
// backend's run list over HTTP.
package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/pipeforge/controller/pkg/log"
	"github.com/rs/zerolog"
)

// pollTimeout bounds the backend status poll per spec's ~6s ceiling.
const pollTimeout = 6 * time.Second

// Run mirrors one entry of the backend's run list.
type Run struct {
	RunID       string       `json:"run_id"`
	DisplayName string       `json:"display_name"`
	State       string       `json:"state"`
	ScheduledAt time.Time    `json:"scheduled_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	RunDetails  RunDetails   `json:"run_details"`
}

// RunDetails carries the per-task breakdown of one run.
type RunDetails struct {
	TaskDetails []TaskDetail `json:"task_details"`
}

// TaskDetail mirrors one component's backend-side status.
type TaskDetail struct {
	DisplayName string    `json:"display_name"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	State       string    `json:"state"`
}

type runsResponse struct {
	Runs []Run `json:"runs"`
}

// TerminalStates are the run states that end a pipeline's lifecycle.
var TerminalStates = map[string]bool{"SUCCEEDED": true, "FAILED": true}

// Client is the Go-side collaborator for the backend's build, dispatch,
// and polling surfaces.
type Client struct {
	baseURL      string
	apiEndpoint  string
	enableCache  bool
	httpClient   *http.Client
	logger       zerolog.Logger
}

// New creates a backend Client bound to baseURL (KFP_URL) and
// apiEndpoint (KFP_API_ENDPOINT).
func New(baseURL, apiEndpoint string, enableCaching bool) *Client {
	return &Client{
		baseURL:     baseURL,
		apiEndpoint: apiEndpoint,
		enableCache: enableCaching,
		httpClient:  &http.Client{Timeout: pollTimeout},
		logger:      log.WithComponent("backend-client"),
	}
}

// Build runs `python3 <dir>/pipeline.py -u <backend_url> -m <mapping> [-c]`
// where mapping is a JSON array of [node, platform] tuples in
// component order. A non-zero exit is a build failure.
func (c *Client) Build(ctx context.Context, pipelineDir string, mapping [][2]string) error {
	payload, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("backend: marshaling mapping: %w", err)
	}

	args := []string{pipelineDir + "/pipeline.py", "-u", c.baseURL, "-m", string(payload)}
	if c.enableCache {
		args = append(args, "-c")
	}

	cmd := exec.CommandContext(ctx, "python3", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error().Err(err).Str("dir", pipelineDir).Str("output", string(out)).Msg("build subprocess failed")
		return fmt.Errorf("backend: build failed: %w", err)
	}
	return nil
}

// Dispatch runs `python3 <dir>/kfp_pipeline.py`, the artifact Build
// produced, and parses stdout for a "Run ID: <id>" line.
func (c *Client) Dispatch(ctx context.Context, pipelineDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "python3", pipelineDir+"/kfp_pipeline.py")
	out, err := cmd.CombinedOutput()
	if err != nil {
		c.logger.Error().Err(err).Str("dir", pipelineDir).Str("output", string(out)).Msg("dispatch subprocess failed")
		return "", fmt.Errorf("backend: dispatch failed: %w", err)
	}

	runID, ok := parseRunID(string(out))
	if !ok {
		return "", fmt.Errorf("backend: no Run ID in dispatch output")
	}
	return runID, nil
}

func parseRunID(output string) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "Run ID:")
		if idx == -1 {
			continue
		}
		fields := strings.Fields(line[idx+len("Run ID:"):])
		if len(fields) == 0 {
			continue
		}
		return fields[0], true
	}
	return "", false
}

// ListRuns fetches the full run list once per poll. Timestamps are
// returned as decoded: an epoch value decodes to 1970-01-01 and an
// absent one to the Go zero time. The Pipeline Manager maps both to nil
// with NormalizeTime.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.apiEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: building poll request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: poll request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: poll returned status %d", resp.StatusCode)
	}

	var parsed runsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("backend: decoding run list: %w", err)
	}
	return parsed.Runs, nil
}

// ResolveRunID finds the run whose display name carries pipelineID as
// a prefix, for lazy run-id resolution when dispatch returned before
// the backend assigned one.
func ResolveRunID(runs []Run, pipelineID string) (string, bool) {
	for _, r := range runs {
		if strings.HasPrefix(r.DisplayName, pipelineID) {
			return r.RunID, true
		}
	}
	return "", false
}

// NormalizeTime maps the backend's epoch-zero sentinel to nil.
func NormalizeTime(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() == 0 {
		return nil
	}
	return &t
}
