// Package metrics 提供对话服务的 Prometheus 业务指标。
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kart-io/company-chat/internal/chat/biz"
	"github.com/kart-io/company-chat/internal/model"
)

// Namespace 所有指标的命名空间。
const Namespace = "company_chat"

// ChatMetrics 对话服务指标，实现 biz.Recorder。
type ChatMetrics struct {
	// 轮次指标
	Turns         *prometheus.CounterVec
	TurnDuration  *prometheus.HistogramVec
	Admissions    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec

	// 外部依赖
	SearchCalls      *prometheus.CounterVec
	SearchDuration   *prometheus.HistogramVec
	Extractions      *prometheus.CounterVec
	RewriteFallbacks *prometheus.CounterVec

	// 会话
	ActiveSessions prometheus.Gauge

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
}

var (
	defaultMetrics *ChatMetrics
	defaultOnce    sync.Once
)

// Default 返回注册在 prometheus.DefaultRegisterer 上的全局实例。
func Default() *ChatMetrics {
	defaultOnce.Do(func() {
		defaultMetrics = newMetrics(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	})
	return defaultMetrics
}

// New 在独立的 registry 上创建指标，主要用于测试。
func New() *ChatMetrics {
	reg := prometheus.NewRegistry()
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *ChatMetrics {
	f := promauto.With(reg)
	return &ChatMetrics{
		Turns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "turns_total",
				Help:      "Total number of conversation turns by category and terminal state",
			},
			[]string{"category", "state"},
		),
		TurnDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "turn_duration_seconds",
				Help:      "End-to-end turn duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"category"},
		),
		Admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "admissions_total",
				Help:      "Rate limiter decisions by result",
			},
			[]string{"result"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"stage", "outcome"},
		),
		SearchCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "search_calls_total",
				Help:      "Web search calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SearchDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "search_duration_seconds",
				Help:      "Web search call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"provider"},
		),
		Extractions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "extractions_total",
				Help:      "Document text extractions by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		RewriteFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rewrite_fallbacks_total",
				Help:      "Query rewrites that fell back to the original text",
			},
			[]string{"reason"},
		),
		ActiveSessions: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "active_sessions",
				Help:      "Number of live conversation sessions",
			},
		),
		registerer: reg,
		gatherer:   gatherer,
	}
}

// ObserveTurn implements biz.Recorder.
func (m *ChatMetrics) ObserveTurn(category model.Category, state biz.State, elapsed time.Duration) {
	m.Turns.WithLabelValues(string(category), string(state)).Inc()
	m.TurnDuration.WithLabelValues(string(category)).Observe(elapsed.Seconds())
}

// ObserveAdmission implements biz.Recorder.
func (m *ChatMetrics) ObserveAdmission(result string) {
	m.Admissions.WithLabelValues(result).Inc()
}

// ObserveStage implements biz.Recorder.
func (m *ChatMetrics) ObserveStage(stage biz.Stage, outcome string, elapsed time.Duration) {
	m.StageDuration.WithLabelValues(string(stage), outcome).Observe(elapsed.Seconds())
}

// ObserveSearch 匹配 search.Observer。
func (m *ChatMetrics) ObserveSearch(provider, outcome string, elapsed time.Duration) {
	m.SearchCalls.WithLabelValues(provider, outcome).Inc()
	m.SearchDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveExtraction 匹配 ocr.Observer。
func (m *ChatMetrics) ObserveExtraction(method, outcome string, _ time.Duration) {
	if method == "" {
		method = "none"
	}
	m.Extractions.WithLabelValues(method, outcome).Inc()
}

// ObserveRewriteFallback 作为 Rewriter 的 onFallback 回调。
func (m *ChatMetrics) ObserveRewriteFallback(reason string) {
	m.RewriteFallbacks.WithLabelValues(reason).Inc()
}

// SetActiveSessions 作为 store.MemoryConfig.OnChange 回调。
func (m *ChatMetrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}

// Registerer 返回指标所在的 registry，HTTP 中间件指标也注册在这里。
func (m *ChatMetrics) Registerer() prometheus.Registerer {
	return m.registerer
}

// Handler 返回 /metrics 的 HTTP handler。
func (m *ChatMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

var _ biz.Recorder = (*ChatMetrics)(nil)
