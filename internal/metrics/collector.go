package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 工作流指标收集器
type Collector struct {
	// 工作流指标
	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec

	// 步骤指标
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	stepRetries  *prometheus.CounterVec

	// 并行拓扑指标
	parallelBranches *prometheus.HistogramVec

	// 评估循环指标
	iterationsPerRun *prometheus.HistogramVec
	finalScore       *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.workflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of workflow runs by topology and terminal status",
		},
		[]string{"topology", "status"},
	)

	c.workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Wall-clock duration of workflow runs",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"topology"},
	)

	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Total number of executed workflow steps by agent and outcome",
		},
		[]string{"agent_id", "outcome"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of single workflow steps including retries",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"agent_id"},
	)

	c.stepRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Total number of step retry attempts by error code",
		},
		[]string{"agent_id", "code"},
	)

	c.parallelBranches = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parallel_branches",
			Help:      "Number of branches fanned out per parallel run",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 12, 16, 32},
		},
		[]string{"status"},
	)

	c.iterationsPerRun = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluator_iterations",
			Help:      "Number of generate/evaluate/optimize iterations per run",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10, 15, 20},
		},
		[]string{"status"},
	)

	c.finalScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluator_final_score",
			Help:      "Final evaluation score (0-100) of evaluator-optimizer runs",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"status"},
	)

	return c
}

// All Record methods tolerate a nil receiver so callers with metrics
// disabled can skip the nil check at every site.

// RecordWorkflow 记录一次工作流执行
func (c *Collector) RecordWorkflow(topology, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.workflowsTotal.WithLabelValues(topology, status).Inc()
	c.workflowDuration.WithLabelValues(topology).Observe(duration.Seconds())
}

// RecordStep 记录一个步骤
func (c *Collector) RecordStep(agentID, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(agentID, outcome).Inc()
	c.stepDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordRetry 记录一次重试
func (c *Collector) RecordRetry(agentID, code string) {
	if c == nil {
		return
	}
	c.stepRetries.WithLabelValues(agentID, code).Inc()
}

// RecordParallelRun 记录一次并行执行的分支数
func (c *Collector) RecordParallelRun(status string, branches int) {
	if c == nil {
		return
	}
	c.parallelBranches.WithLabelValues(status).Observe(float64(branches))
}

// RecordEvaluatorRun 记录一次评估循环
func (c *Collector) RecordEvaluatorRun(status string, iterations int, score float64) {
	if c == nil {
		return
	}
	c.iterationsPerRun.WithLabelValues(status).Observe(float64(iterations))
	c.finalScore.WithLabelValues(status).Observe(score)
}
