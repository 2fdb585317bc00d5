package routinelysdk

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

// Client is a minimal Routinely HTTP API client.
type Client struct {
	BaseURL  string
	BasePath string
	// BearerToken authenticates as the token's subject. ActorID is sent as
	// X-Actor-Id when no token is set and the server allows it.
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Recurrence mirrors the API recurrence object.
type Recurrence struct {
	Kind       string `json:"kind"`
	Weekday    *int   `json:"weekday,omitempty"`
	DayOfMonth *int   `json:"day_of_month,omitempty"`
	Date       string `json:"date,omitempty"`
}

// Routine represents the API routine model.
type Routine struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Kind               string     `json:"kind"`
	Recurrence         Recurrence `json:"recurrence"`
	StartDate          string     `json:"start_date"`
	StartTime          string     `json:"start_time,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	Priority           string     `json:"priority"`
	ChecklistEnabled   bool       `json:"checklist_enabled"`
	AttachmentRequired bool       `json:"attachment_required"`
	CreatorID          string     `json:"creator_id"`
	ResponsibleID      string     `json:"responsible_id"`
}

// NewRoutine is the create payload.
type NewRoutine struct {
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Kind               string     `json:"kind,omitempty"`
	Recurrence         Recurrence `json:"recurrence"`
	StartDate          string     `json:"start_date,omitempty"`
	StartTime          string     `json:"start_time,omitempty"`
	DurationMinutes    int        `json:"duration_minutes"`
	Priority           string     `json:"priority,omitempty"`
	AttachmentRequired bool       `json:"attachment_required,omitempty"`
	Checklist          []string   `json:"checklist,omitempty"`
	ResponsibleID      string     `json:"responsible_id,omitempty"`
}

// ChecklistItem is a routine checklist template entry.
type ChecklistItem struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// CreatedRoutine is the create response. ChecklistError is set when the
// routine was stored without its checklist.
type CreatedRoutine struct {
	Routine        Routine         `json:"routine"`
	Checklist      []ChecklistItem `json:"checklist"`
	ChecklistError string          `json:"checklist_error,omitempty"`
}

// Execution represents an execution with its derived state.
type Execution struct {
	ID                   string     `json:"id"`
	RoutineID            string     `json:"routine_id"`
	ExecutorID           string     `json:"executor_id"`
	StartedAt            time.Time  `json:"started_at"`
	PausedAt             *time.Time `json:"paused_at,omitempty"`
	FinishedAt           *time.Time `json:"finished_at,omitempty"`
	TotalDurationSeconds *int64     `json:"total_duration_seconds,omitempty"`
	Notes                string     `json:"notes,omitempty"`
	State                string     `json:"state"`
	ElapsedSeconds       int64      `json:"elapsed_seconds"`
	Created              bool       `json:"created,omitempty"`
}

// ChecklistEntry is one item of an execution's checklist.
type ChecklistEntry struct {
	ItemID   string `json:"item_id"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	Done     bool   `json:"done"`
}

// Attachment is evidence recorded against an execution.
type Attachment struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id"`
	URL         string    `json:"url"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRoutine creates a routine.
func (c *Client) CreateRoutine(ctx context.Context, r NewRoutine) (CreatedRoutine, error) {
	var resp CreatedRoutine
	err := c.do(ctx, http.MethodPost, "routines", r, &resp)
	return resp, err
}

// GetRoutine fetches a routine by id.
func (c *Client) GetRoutine(ctx context.Context, id string) (Routine, error) {
	var resp Routine
	err := c.do(ctx, http.MethodGet, "routines/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Due lists the routines due on date (YYYY-MM-DD); empty means today.
func (c *Client) Due(ctx context.Context, date, responsibleID string) ([]Routine, error) {
	q := url.Values{}
	if date != "" {
		q.Set("date", date)
	}
	if responsibleID != "" {
		q.Set("responsible_id", responsibleID)
	}
	var resp struct {
		Items []Routine `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("routines/due", q), nil, &resp)
	return resp.Items, err
}

// Occurrences lists the dates in [from, to] on which a routine is due.
func (c *Client) Occurrences(ctx context.Context, routineID, from, to string) ([]string, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	var resp struct {
		Dates []string `json:"dates"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("routines/"+url.PathEscape(routineID)+"/occurrences", q), nil, &resp)
	return resp.Dates, err
}

// OpenExecution returns the caller's open execution of a routine, starting
// one when none exists.
func (c *Client) OpenExecution(ctx context.Context, routineID string) (Execution, error) {
	return c.transition(ctx, routineID, "open", nil)
}

func (c *Client) Pause(ctx context.Context, routineID string) (Execution, error) {
	return c.transition(ctx, routineID, "pause", nil)
}

func (c *Client) Resume(ctx context.Context, routineID string) (Execution, error) {
	return c.transition(ctx, routineID, "resume", nil)
}

func (c *Client) Finish(ctx context.Context, routineID, notes string) (Execution, error) {
	var body any
	if notes != "" {
		body = map[string]any{"notes": notes}
	}
	return c.transition(ctx, routineID, "finish", body)
}

func (c *Client) transition(ctx context.Context, routineID, action string, body any) (Execution, error) {
	var resp Execution
	endpoint := fmt.Sprintf("routines/%s/executions/%s", url.PathEscape(routineID), action)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// GetExecution fetches an execution by id.
func (c *Client) GetExecution(ctx context.Context, id string) (Execution, error) {
	var resp Execution
	err := c.do(ctx, http.MethodGet, "executions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Checklist returns an execution's checklist in item order.
func (c *Client) Checklist(ctx context.Context, executionID string) ([]ChecklistEntry, error) {
	var resp struct {
		Items []ChecklistEntry `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "executions/"+url.PathEscape(executionID)+"/checklist", nil, &resp)
	return resp.Items, err
}

// Toggle flips a checklist item and returns whether it is now done.
func (c *Client) Toggle(ctx context.Context, executionID, itemID string) (bool, error) {
	var resp struct {
		Done bool `json:"done"`
	}
	endpoint := fmt.Sprintf("executions/%s/checklist/%s/toggle", url.PathEscape(executionID), url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp.Done, err
}

// UploadAttachment stores content as evidence for an execution.
func (c *Client) UploadAttachment(ctx context.Context, executionID, filename string, content []byte) (Attachment, error) {
	var resp Attachment
	body := map[string]any{"filename": filename, "content": content}
	err := c.do(ctx, http.MethodPost, "executions/"+url.PathEscape(executionID)+"/attachments", body, &resp)
	return resp, err
}

// LinkAttachment records evidence that already lives at link.
func (c *Client) LinkAttachment(ctx context.Context, executionID, filename, link string) (Attachment, error) {
	var resp Attachment
	body := map[string]any{"filename": filename, "url": link}
	err := c.do(ctx, http.MethodPost, "executions/"+url.PathEscape(executionID)+"/attachments", body, &resp)
	return resp, err
}

// Attachments lists an execution's attachments, newest first.
func (c *Client) Attachments(ctx context.Context, executionID string) ([]Attachment, error) {
	var resp struct {
		Items []Attachment `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "executions/"+url.PathEscape(executionID)+"/attachments", nil, &resp)
	return resp.Items, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
