package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"chatbi/internal/models"
	"chatbi/internal/schedule"
)

type Client struct {
	baseURL    string
	userID     string
	userName   string
	httpClient *http.Client
}

func NewClient() *Client {
	baseURL := os.Getenv("CHATBI_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	userID := os.Getenv("CHATBI_USER_ID")
	if userID == "" {
		userID = "cli"
	}
	userName := os.Getenv("CHATBI_USER_NAME")
	if userName == "" {
		userName = userID
	}

	return &Client{
		baseURL:  baseURL,
		userID:   userID,
		userName: userName,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) ListTemplates(source, query, tag string) ([]models.ReportTemplate, error) {
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if query != "" {
		q.Set("q", query)
	}
	if tag != "" {
		q.Set("tag", tag)
	}

	var templates []models.ReportTemplate
	if err := c.get("/api/v1/templates?"+q.Encode(), &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (c *Client) GetTemplate(id uint) (*models.ReportTemplate, error) {
	var t models.ReportTemplate
	if err := c.get(fmt.Sprintf("/api/v1/templates/%d", id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DuplicateTemplate(id uint) (*models.ReportTemplate, error) {
	var t models.ReportTemplate
	if err := c.post(fmt.Sprintf("/api/v1/templates/%d/duplicate", id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) DeleteTemplate(id uint) error {
	return c.delete(fmt.Sprintf("/api/v1/templates/%d", id))
}

func (c *Client) ListSchedules(status string) ([]models.Schedule, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}

	var schedules []models.Schedule
	if err := c.get("/api/v1/schedules?"+q.Encode(), &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

func (c *Client) GetSchedule(id uint) (*models.Schedule, error) {
	var s models.Schedule
	if err := c.get(fmt.Sprintf("/api/v1/schedules/%d", id), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CreateSchedule(in *schedule.CreateInput) (*models.Schedule, error) {
	var s models.Schedule
	if err := c.post("/api/v1/schedules", in, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) PauseSchedule(id uint) (*models.Schedule, error) {
	return c.patchSchedule(id, "pause")
}

func (c *Client) ResumeSchedule(id uint) (*models.Schedule, error) {
	return c.patchSchedule(id, "resume")
}

func (c *Client) patchSchedule(id uint, action string) (*models.Schedule, error) {
	data := map[string]string{"action": action}
	var s models.Schedule
	if err := c.patch(fmt.Sprintf("/api/v1/schedules/%d", id), data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteSchedule(id uint) error {
	return c.delete(fmt.Sprintf("/api/v1/schedules/%d", id))
}

func (c *Client) SendNow(id uint) (*models.ExecutionRun, error) {
	var run models.ExecutionRun
	if err := c.post(fmt.Sprintf("/api/v1/schedules/%d/send-now", id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) SendTest(id uint) (*models.ExecutionRun, error) {
	var run models.ExecutionRun
	if err := c.post(fmt.Sprintf("/api/v1/schedules/%d/send-test", id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (c *Client) ListRuns(scheduleID uint) ([]models.ExecutionRun, error) {
	var runs []models.ExecutionRun
	if err := c.get(fmt.Sprintf("/api/v1/schedules/%d/runs", scheduleID), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) NextRuns(scheduleID uint, count int) ([]time.Time, error) {
	var runs []time.Time
	if err := c.get(fmt.Sprintf("/api/v1/schedules/%d/next-runs?count=%d", scheduleID, count), &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (c *Client) ListDeliveries(runID uint) ([]models.DeliveryLog, error) {
	var logs []models.DeliveryLog
	if err := c.get(fmt.Sprintf("/api/v1/runs/%d/deliveries", runID), &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (c *Client) QueryAudit(user, action string) ([]models.AuditEvent, error) {
	q := url.Values{}
	if user != "" {
		q.Set("user", user)
	}
	if action != "" {
		q.Set("action", action)
	}

	var events []models.AuditEvent
	if err := c.get("/api/v1/audit?"+q.Encode(), &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *Client) ListRecipients() ([]models.Recipient, error) {
	var recipients []models.Recipient
	if err := c.get("/api/v1/recipients", &recipients); err != nil {
		return nil, err
	}
	return recipients, nil
}

func (c *Client) get(endpoint string, v interface{}) error {
	resp, err := c.doRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) post(endpoint string, data, v interface{}) error {
	return c.send(http.MethodPost, endpoint, data, v)
}

func (c *Client) patch(endpoint string, data, v interface{}) error {
	return c.send(http.MethodPatch, endpoint, data, v)
}

func (c *Client) send(method, endpoint string, data, v interface{}) error {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %v", err)
		}
		body = bytes.NewReader(jsonData)
	}

	resp, err := c.doRequest(method, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (c *Client) delete(endpoint string) error {
	resp, err := c.doRequest(http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) doRequest(method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Id", c.userID)
	req.Header.Set("X-User-Name", c.userName)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	return resp, nil
}
