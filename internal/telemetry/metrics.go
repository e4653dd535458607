package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в prometheus.DefaultRegisterer
// и отдаются на /metrics каждого сервиса.
var (
	// RunsFinished — завершённые runs по финальному статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytica_runs_finished_total",
		Help: "Total number of finished runs by terminal status",
	}, []string{"status"})

	// RunsActive — runs, выполняющиеся прямо сейчас.
	RunsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "analytica_runs_active",
		Help: "Number of runs currently executing",
	})

	// StepDuration — длительность шагов.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analytica_step_duration_seconds",
		Help:    "Step execution duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"model", "status"})

	// StepErrors — упавшие шаги по классу ошибки.
	StepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytica_step_errors_total",
		Help: "Total number of failed steps by error kind",
	}, []string{"kind"})

	// Tokens — потраченные токены.
	Tokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytica_llm_tokens_total",
		Help: "Total LLM tokens by model and direction",
	}, []string{"model", "direction"})

	// CostUSD — оценка стоимости вызовов.
	CostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytica_llm_cost_usd_total",
		Help: "Estimated LLM cost in USD by model and pricing source",
	}, []string{"model", "source"})

	// ToolFetchFailures — ошибки загрузки внешних данных.
	ToolFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytica_tool_fetch_failures_total",
		Help: "Total failed tool and data source fetches",
	}, []string{"source", "required"})

	// ScheduledRuns — runs, созданные scheduler'ом.
	ScheduledRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analytica_scheduled_runs_total",
		Help: "Total runs created by the scheduler",
	})
)

// HTTP-метрики API.
var (
	// HTTPRequests — запросы по шаблону маршрута и коду ответа.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analytica_http_requests_total",
		Help: "Total HTTP requests by route pattern and status code",
	}, []string{"route", "status"})

	// HTTPDuration — время обработки запросов.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "analytica_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// MQDeliveries — обработанные сообщения по очереди и исходу (ack, requeue, dead_letter).
var MQDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "analytica_mq_deliveries_total",
	Help: "Total consumed AMQP deliveries by queue and outcome",
}, []string{"queue", "outcome"})
