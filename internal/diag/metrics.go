package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 进程级指标，注册到默认 Registry，由 serve 的 /metrics 导出。
var (
	opTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "k4ai_op_total",
		Help: "Operations by component, stage and result",
	}, []string{"comp", "stage", "result"})

	errorTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "k4ai_error_total",
		Help: "Errors by component and classification code",
	}, []string{"comp", "code"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "k4ai_op_duration_ms",
		Help:    "Stage duration in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1ms ~ 262s
	}, []string{"comp", "stage"})

	keysProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "k4ai_keys_processed_total",
		Help: "Candidate keys evaluated by discipline",
	}, []string{"discipline"})

	bestScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "k4ai_best_score",
		Help: "Best score of the most recently updated run",
	})
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddKeys 累加已评估密钥数。
func AddKeys(discipline string, n uint64) {
	if n == 0 {
		return
	}
	keysProcessed.WithLabelValues(discipline).Add(float64(n))
}

// SetBestScore 设置最近一次运行的最高分。
func SetBestScore(v float64) { bestScore.Set(v) }
