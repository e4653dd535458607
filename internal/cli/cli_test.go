package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Analytica/internal/engine"
)

const pipelineYAML = `
description: Wyckoff + SMC daily
steps:
  - step_name: wyckoff
    order: 1
    model: openai/gpt-4o-mini
    user_prompt_template: "Wyckoff analysis of {instrument} on {timeframe}:\n{candles}"
    data_sources:
      - name: candles
        type: market_data
        num_candles: 200
  - step_name: smc
    order: 2
    model: openai/gpt-4o-mini
    user_prompt_template: "SMC analysis of {instrument}"
  - step_name: merge
    order: 3
    model: anthropic/claude-3.5-sonnet
    user_prompt_template: "Merge the analyses."
    include_context:
      steps: [wyckoff, smc]
      format: full
    publish_to_telegram: true
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadPipelineConfig_YAML(t *testing.T) {
	cfg, raw, err := loadPipelineConfig(writeTemp(t, pipelineYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(cfg.Steps))
	}
	if cfg.Steps[0].DataSources[0].NumCandles != 200 {
		t.Errorf("num_candles = %d", cfg.Steps[0].DataSources[0].NumCandles)
	}
	if !cfg.Steps[2].PublishToTelegram {
		t.Error("publish_to_telegram lost")
	}

	// JSON для API использует те же имена полей.
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("raw is not JSON: %v", err)
	}
	if stepCount(decoded) != 3 {
		t.Errorf("stepCount = %d, want 3", stepCount(decoded))
	}
}

func TestLoadPipelineConfig_JSON(t *testing.T) {
	path := writeTemp(t, `{"steps":[{"step_name":"solo","order":1,"model":"m","user_prompt_template":"{instrument}"}]}`)
	cfg, _, err := loadPipelineConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Steps[0].StepName != "solo" {
		t.Errorf("step_name = %q", cfg.Steps[0].StepName)
	}
}

func TestLoadPipelineConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		target  error
	}{
		{"empty", "", "empty", nil},
		{"unknown field", "steps:\n  - step_name: a\n    orderr: 1\n", "orderr", nil},
		{"forward reference", strings.Replace(pipelineYAML, "SMC analysis of {instrument}", "SMC {merge_output}", 1), "", engine.ErrForwardReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := loadPipelineConfig(writeTemp(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestClient_APIErrorCarriesStepAndField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/pipelines/validate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":{"code":"INVALID_CONFIG","message":"bad order","step":"smc","field":"order"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).ValidateConfig(json.RawMessage(`{"steps":[]}`))

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Step != "smc" || apiErr.Field != "order" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if !strings.Contains(apiErr.Error(), "step smc, field order") {
		t.Errorf("message = %q", apiErr.Error())
	}
}

func TestClient_ListRunsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("status") != "MODEL_FAILURE" || q.Get("instrument") != "ETHUSDT" || q.Get("limit") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[{"id":"r1","status":"MODEL_FAILURE","cost_est_total":0.02}],"total":1}`))
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL).ListRuns(ListRunsOpts{Status: "MODEL_FAILURE", Instrument: "ETHUSDT", Limit: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 || runs[0].CostEstTotal != 0.02 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestOutput_Table(t *testing.T) {
	var out, errOut bytes.Buffer
	o := NewOutputTo(false, &out, &errOut)

	o.Print([]string{"STEP", "ERROR"}, [][]string{{"merge", "line one\nline two"}}, nil)
	if !strings.Contains(out.String(), "line one line two") {
		t.Errorf("multiline cell not flattened:\n%s", out.String())
	}

	out.Reset()
	o.Print([]string{"STEP"}, nil, nil)
	if out.Len() != 0 || !strings.Contains(errOut.String(), "No results") {
		t.Errorf("empty table: stdout=%q stderr=%q", out.String(), errOut.String())
	}
}

func TestCell_Truncates(t *testing.T) {
	got := cell(strings.Repeat("я", 100))
	if n := len([]rune(got)); n != maxCellRunes {
		t.Errorf("len = %d, want %d", n, maxCellRunes)
	}
}

func TestScheduleTrigger(t *testing.T) {
	tests := []struct {
		s    ScheduleResponse
		want string
	}{
		{ScheduleResponse{CronExpr: "0 9 * * *", Timezone: "Europe/Moscow"}, "cron 0 9 * * * (Europe/Moscow)"},
		{ScheduleResponse{CronExpr: "0 9 * * *"}, "cron 0 9 * * * (UTC)"},
		{ScheduleResponse{IntervalSec: 14400}, "every 4h0m0s"},
		{ScheduleResponse{}, ""},
	}
	for _, tt := range tests {
		if got := scheduleTrigger(&tt.s); got != tt.want {
			t.Errorf("scheduleTrigger(%+v) = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestScheduleFlags_Check(t *testing.T) {
	tests := []struct {
		name    string
		f       scheduleFlags
		wantErr bool
	}{
		{"cron", scheduleFlags{cron: "*/15 * * * *", timezone: "Europe/Moscow"}, false},
		{"interval", scheduleFlags{every: 4 * time.Hour}, false},
		{"bad cron", scheduleFlags{cron: "every monday"}, true},
		{"sub-second interval", scheduleFlags{every: 500 * time.Millisecond}, true},
		{"bad timezone", scheduleFlags{cron: "0 9 * * *", timezone: "Mars/Olympus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.f.check(); (err != nil) != tt.wantErr {
				t.Errorf("check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOutput_Section(t *testing.T) {
	var out bytes.Buffer
	NewOutputTo(false, &out, io.Discard).Section("merge", "  Bias: long\n")
	if out.String() != "\n=== merge ===\nBias: long\n" {
		t.Errorf("section = %q", out.String())
	}

	out.Reset()
	NewOutputTo(true, &out, io.Discard).Section("merge", "Bias: long")
	if out.Len() != 0 {
		t.Errorf("json mode printed section: %q", out.String())
	}
}
