package talentopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Talentops HTTP API client.
type Client struct {
	BaseURL     string
	OrgID       string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, orgID string) *Client {
	return &Client{
		BaseURL: baseURL,
		OrgID:   orgID,
		Timeout: 10 * time.Second,
	}
}

// Validation is one phase's approval record.
type Validation struct {
	Status      string `json:"status"`
	ProofURL    string `json:"proof_url,omitempty"`
	ProofText   string `json:"proof_text,omitempty"`
	SubmittedAt string `json:"submitted_at,omitempty"`
	ApprovedAt  string `json:"approved_at,omitempty"`
	RejectedAt  string `json:"rejected_at,omitempty"`
}

// PhaseProgress is a derived per-phase step.
type PhaseProgress struct {
	Phase string `json:"phase"`
	Label string `json:"label"`
	State string `json:"state"`
}

// Task represents the API task model (partial).
type Task struct {
	ID               string                `json:"id"`
	OrgID            string                `json:"org_id"`
	ProjectID        *string               `json:"project_id,omitempty"`
	Title            string                `json:"title"`
	LifecycleState   string                `json:"lifecycle_state"`
	SubState         string                `json:"sub_state"`
	PhaseValidations map[string]Validation `json:"phase_validations"`
	Status           string                `json:"status"`
	Priority         string                `json:"priority"`
	Issues           string                `json:"issues,omitempty"`
	OpenIssue        bool                  `json:"open_issue"`
	Progress         []PhaseProgress       `json:"progress"`
	Version          int64                 `json:"version"`
}

// ApproveResult distinguishes a real approval from the explicit no-op.
type ApproveResult struct {
	Outcome string `json:"outcome"`
	Task    Task   `json:"task"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title, assignedTo string) (Task, error) {
	body := map[string]any{
		"title": title,
	}
	if assignedTo != "" {
		body["assigned_to"] = assignedTo
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.orgPath("tasks"), body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.orgPath("tasks/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListTasks returns the tasks visible to the caller.
func (c *Client) ListTasks(ctx context.Context, status, search string) ([]Task, error) {
	endpoint := c.orgPath("tasks")
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if search != "" {
		q.Set("search", search)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SubmitProof records evidence for the task's current phase.
func (c *Client) SubmitProof(ctx context.Context, taskID, phase, proofURL, proofText string) (Task, error) {
	body := map[string]any{
		"phase": phase,
	}
	if proofURL != "" {
		body["proof_url"] = proofURL
	}
	if proofText != "" {
		body["proof_text"] = proofText
	}
	var resp Task
	endpoint := c.orgPath(fmt.Sprintf("tasks/%s/proof", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Approve approves the pending validation. Outcome "no_op" means there was
// nothing to approve.
func (c *Client) Approve(ctx context.Context, taskID string) (ApproveResult, error) {
	var resp ApproveResult
	endpoint := c.orgPath(fmt.Sprintf("tasks/%s/approve", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Reject sends the task back to in-progress without advancing it.
func (c *Client) Reject(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := c.orgPath(fmt.Sprintf("tasks/%s/reject", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ReportIssue appends to the task's issue log.
func (c *Client) ReportIssue(ctx context.Context, taskID, text string) (Task, error) {
	var resp Task
	endpoint := c.orgPath(fmt.Sprintf("tasks/%s/issues", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"text": text}, &resp)
	return resp, err
}

// ResolveIssue marks the open issue resolved.
func (c *Client) ResolveIssue(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	endpoint := c.orgPath(fmt.Sprintf("tasks/%s/issues/resolve", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Progress returns the derived per-phase steps for a task.
func (c *Client) Progress(ctx context.Context, taskID string) ([]PhaseProgress, error) {
	var resp []PhaseProgress
	endpoint := c.orgPath(fmt.Sprintf("tasks/%s/progress", url.PathEscape(taskID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.orgPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) orgPath(p string) string {
	org := url.PathEscape(c.OrgID)
	return fmt.Sprintf("v0/orgs/%s/%s", org, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
