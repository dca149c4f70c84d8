package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"flinkly/core"
)

// LevelRequirement is one row of the requirement table.
type LevelRequirement struct {
	Level        core.SellerLevel `json:"level"`
	Requirements core.SellerStats `json:"requirements"`
}

// Evaluation is the result of a dry-run level evaluation.
type Evaluation struct {
	CurrentLevel core.SellerLevel          `json:"current_level"`
	NextLevel    core.SellerLevel          `json:"next_level,omitempty"`
	Upgrade      bool                      `json:"upgrade"`
	Meets        map[core.SellerLevel]bool `json:"meets"`
	Progress     *core.Progress            `json:"progress,omitempty"`
}

// JobInfo mirrors a registered scheduler job.
type JobInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next,omitempty"`
	Prev time.Time `json:"prev,omitempty"`
}

// RunRecord mirrors one finished job run.
type RunRecord struct {
	Job        string         `json:"job"`
	RunID      string         `json:"run_id"`
	Trigger    string         `json:"trigger"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyJobName is returned when a job name is empty.
var ErrEmptyJobName = errors.New("job name is required")
