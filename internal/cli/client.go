package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не ходит в internal/api) ---

// PipelineResponse — pipeline из API.
type PipelineResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
	IsActive       bool   `json:"is_active"`
	CreatedAt      string `json:"created_at"`
}

// PipelineVersionResponse — версия pipeline из API.
type PipelineVersionResponse struct {
	PipelineID string         `json:"pipeline_id"`
	Version    int            `json:"version"`
	Config     map[string]any `json:"config"`
	CreatedAt  string         `json:"created_at"`
}

// ValidateResponse — результат серверной проверки конфигурации.
type ValidateResponse struct {
	Valid bool `json:"valid"`
	Steps int  `json:"steps"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID             string  `json:"id"`
	PipelineID     string  `json:"pipeline_id"`
	Version        int     `json:"version"`
	OrganizationID string  `json:"organization_id"`
	Instrument     string  `json:"instrument"`
	Timeframe      string  `json:"timeframe"`
	Status         string  `json:"status"`
	CostEstTotal   float64 `json:"cost_est_total"`
	StartedAt      string  `json:"started_at,omitempty"`
	FinishedAt     string  `json:"finished_at,omitempty"`
	Error          string  `json:"error,omitempty"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// StepResponse — запись шага из API.
type StepResponse struct {
	ID           string   `json:"id"`
	RunID        string   `json:"run_id"`
	StepName     string   `json:"step_name"`
	StepOrder    int      `json:"step_order"`
	Status       string   `json:"status"`
	InputBlob    string   `json:"input_blob"`
	OutputBlob   string   `json:"output_blob,omitempty"`
	Model        string   `json:"model"`
	Provider     string   `json:"provider"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	CostEst      float64  `json:"cost_est"`
	Error        string   `json:"error,omitempty"`
	ErrorKind    string   `json:"error_kind,omitempty"`
	Annotations  []string `json:"annotations,omitempty"`
	StartedAt    string   `json:"started_at"`
	FinishedAt   string   `json:"finished_at"`
}

// ScheduleResponse — schedule из API.
type ScheduleResponse struct {
	ID          string `json:"id"`
	PipelineID  string `json:"pipeline_id"`
	Name        string `json:"name"`
	Instrument  string `json:"instrument"`
	Timeframe   string `json:"timeframe"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone"`
	Enabled     bool   `json:"enabled"`
	NextDueAt   string `json:"next_due_at,omitempty"`
	LastRunAt   string `json:"last_run_at,omitempty"`
	LastRunID   string `json:"last_run_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// --- Request types ---

// CreatePipelineRequest — создание pipeline.
type CreatePipelineRequest struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

// CreateRunRequest — создание run.
type CreateRunRequest struct {
	Instrument     string `json:"instrument"`
	Timeframe      string `json:"timeframe"`
	Version        *int   `json:"version,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CreateScheduleRequest — создание schedule.
type CreateScheduleRequest struct {
	Name        string `json:"name"`
	Instrument  string `json:"instrument"`
	Timeframe   string `json:"timeframe"`
	CronExpr    string `json:"cron_expr,omitempty"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// UpdateScheduleRequest — обновление schedule.
type UpdateScheduleRequest struct {
	Name        *string `json:"name,omitempty"`
	Instrument  *string `json:"instrument,omitempty"`
	Timeframe   *string `json:"timeframe,omitempty"`
	CronExpr    *string `json:"cron_expr,omitempty"`
	IntervalSec *int    `json:"interval_sec,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	PipelineID string
	Status     string
	Instrument string
	Limit      int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

// APIError — ошибка, возвращённая сервером.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
	Field   string `json:"field,omitempty"`
}

func (e *APIError) Error() string {
	switch {
	case e.Step != "" && e.Field != "":
		return fmt.Sprintf("%s: step %s, field %s: %s", e.Code, e.Step, e.Field, e.Message)
	case e.Step != "":
		return fmt.Sprintf("%s: step %s: %s", e.Code, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для Analytica API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Pipelines ---

// ListPipelines возвращает pipelines. Пустой orgID — все организации.
func (c *Client) ListPipelines(orgID string) ([]PipelineResponse, error) {
	params := url.Values{}
	if orgID != "" {
		params.Set("organization_id", orgID)
	}

	var pipelines []PipelineResponse
	err := c.list("/api/v1/pipelines", params, &pipelines)
	return pipelines, err
}

// CreatePipeline создаёт pipeline.
func (c *Client) CreatePipeline(req CreatePipelineRequest) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.post("/api/v1/pipelines", req, &p)
	return &p, err
}

// GetPipeline возвращает pipeline по ID.
func (c *Client) GetPipeline(id string) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.get("/api/v1/pipelines/"+id, &p)
	return &p, err
}

// SetPipelineActive включает или выключает pipeline.
func (c *Client) SetPipelineActive(id string, active bool) (*PipelineResponse, error) {
	var p PipelineResponse
	err := c.put("/api/v1/pipelines/"+id, map[string]bool{"is_active": active}, &p)
	return &p, err
}

// DeletePipeline удаляет pipeline.
func (c *Client) DeletePipeline(id string) error {
	return c.delete("/api/v1/pipelines/" + id)
}

// ListVersions возвращает версии pipeline.
func (c *Client) ListVersions(pipelineID string) ([]PipelineVersionResponse, error) {
	var versions []PipelineVersionResponse
	err := c.list("/api/v1/pipelines/"+pipelineID+"/versions", nil, &versions)
	return versions, err
}

// GetVersion возвращает конкретную версию pipeline.
func (c *Client) GetVersion(pipelineID string, version int) (*PipelineVersionResponse, error) {
	var v PipelineVersionResponse
	err := c.get(fmt.Sprintf("/api/v1/pipelines/%s/versions/%d", pipelineID, version), &v)
	return &v, err
}

// CreateVersion публикует новую версию конфигурации.
func (c *Client) CreateVersion(pipelineID string, config json.RawMessage) (*PipelineVersionResponse, error) {
	body := map[string]json.RawMessage{"config": config}
	var v PipelineVersionResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/versions", body, &v)
	return &v, err
}

// ValidateConfig проверяет конфигурацию на сервере без сохранения.
func (c *Client) ValidateConfig(config json.RawMessage) (*ValidateResponse, error) {
	var res ValidateResponse
	err := c.post("/api/v1/pipelines/validate", config, &res)
	return &res, err
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Instrument != "" {
		params.Set("instrument", opts.Instrument)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// CreateRun ставит run в очередь.
func (c *Client) CreateRun(pipelineID string, req CreateRunRequest) (*RunResponse, error) {
	var run RunResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/runs", req, &run)
	return &run, err
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// ListSteps возвращает записи шагов run.
func (c *Client) ListSteps(runID string) ([]StepResponse, error) {
	var steps []StepResponse
	err := c.list("/api/v1/runs/"+runID+"/steps", nil, &steps)
	return steps, err
}

// --- Schedules ---

// ListSchedulesOpts — фильтры списка schedules; пустые поля не передаются.
type ListSchedulesOpts struct {
	PipelineID string
	Instrument string
}

// ListSchedules возвращает schedules по фильтрам.
func (c *Client) ListSchedules(opts ListSchedulesOpts) ([]ScheduleResponse, error) {
	params := url.Values{}
	if opts.PipelineID != "" {
		params.Set("pipeline_id", opts.PipelineID)
	}
	if opts.Instrument != "" {
		params.Set("instrument", opts.Instrument)
	}

	var schedules []ScheduleResponse
	err := c.list("/api/v1/schedules", params, &schedules)
	return schedules, err
}

// CreateSchedule создаёт schedule для pipeline.
func (c *Client) CreateSchedule(pipelineID string, req CreateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.post("/api/v1/pipelines/"+pipelineID+"/schedules", req, &schedule)
	return &schedule, err
}

// GetSchedule возвращает schedule по ID.
func (c *Client) GetSchedule(id string) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.get("/api/v1/schedules/"+id, &schedule)
	return &schedule, err
}

// UpdateSchedule обновляет schedule.
func (c *Client) UpdateSchedule(id string, req UpdateScheduleRequest) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id, req, &schedule)
	return &schedule, err
}

// DeleteSchedule удаляет schedule.
func (c *Client) DeleteSchedule(id string) error {
	return c.delete("/api/v1/schedules/" + id)
}

// SetScheduleEnabled включает или выключает schedule.
func (c *Client) SetScheduleEnabled(id string, enabled bool) (*ScheduleResponse, error) {
	var schedule ScheduleResponse
	err := c.put("/api/v1/schedules/"+id+"/enabled", map[string]bool{"enabled": enabled}, &schedule)
	return &schedule, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) put(path string, body any, result any) error {
	return c.doData(http.MethodPut, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	er.Error.Status = resp.StatusCode
	return &er.Error
}
