package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/nfgate/internal/api"
)

// --- Message types ---

type jobsMsg []api.JobResource

type healthMsg api.HealthzResponse

type tickMsg time.Time

type pollMsg struct{}

// errMsg reports a failed poll. from is "jobs" or "health".
type errMsg struct {
	from string
	err  error
}

func (e errMsg) Error() string { return e.err.Error() }

// Client polls the nfgate HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Job fetches one job. The server refreshes its state from disk on every call.
func (c *Client) Job(ctx context.Context, workflowID, jobID string) (api.JobResource, error) {
	var out api.JobResource
	err := c.get(ctx, "/workflow/"+url.PathEscape(workflowID)+"/"+url.PathEscape(jobID), &out)
	return out, err
}

// Jobs lists a workflow's jobs, then re-polls each RUNNING one so the list
// reflects jobs that finished since the last background sweep.
func (c *Client) Jobs(ctx context.Context, workflowID string) ([]api.JobResource, error) {
	var list []api.JobResource
	if err := c.get(ctx, "/workflow/"+url.PathEscape(workflowID)+"/jobs", &list); err != nil {
		return nil, err
	}
	for i, j := range list {
		if j.State != "RUNNING" {
			continue
		}
		fresh, err := c.Job(ctx, workflowID, j.JobID)
		if err != nil {
			return nil, err
		}
		list[i] = fresh
	}
	return list, nil
}

// Health queries /healthz.
func (c *Client) Health(ctx context.Context) (api.HealthzResponse, error) {
	var out api.HealthzResponse
	err := c.get(ctx, "/healthz", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("GET %s: %s (%d)", path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// --- Commands ---

func fetchJobs(c *Client, workflowID, jobID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if jobID != "" {
			j, err := c.Job(ctx, workflowID, jobID)
			if err != nil {
				return errMsg{from: "jobs", err: err}
			}
			return jobsMsg{j}
		}
		list, err := c.Jobs(ctx, workflowID)
		if err != nil {
			return errMsg{from: "jobs", err: err}
		}
		return jobsMsg(list)
	}
}

func fetchHealth(c *Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		h, err := c.Health(ctx)
		if err != nil {
			return errMsg{from: "health", err: err}
		}
		return healthMsg(h)
	}
}
