package diag

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// 进程内指标，使用私有 Registry（不注册到全局默认注册表）。
// - tractkit_op_total{comp,stage,result}
// - tractkit_error_total{comp,code}
// - tractkit_op_duration_ms{comp,stage}
// - tractkit_streamlines_total{op}
var (
	metricsMu sync.Mutex
	registry  *prometheus.Registry
	opTotal   *prometheus.CounterVec
	errTotal  *prometheus.CounterVec
	opDur     *prometheus.HistogramVec
	slTotal   *prometheus.CounterVec
)

func init() { ResetMetrics() }

// ResetMetrics 重建注册表与全部指标（测试使用）。
func ResetMetrics() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	registry = prometheus.NewRegistry()
	opTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tractkit_op_total",
		Help: "Operations by component, stage and result.",
	}, []string{"comp", "stage", "result"})
	errTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tractkit_error_total",
		Help: "Errors by component and classification code.",
	}, []string{"comp", "code"})
	opDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tractkit_op_duration_ms",
		Help:    "Stage duration in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"comp", "stage"})
	slTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tractkit_streamlines_total",
		Help: "Streamlines processed by operation.",
	}, []string{"op"})
	registry.MustRegister(opTotal, errTotal, opDur, slTotal)
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	errTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	opDur.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddStreamlines 累加某操作处理的流线数。
func AddStreamlines(op string, n int) {
	if n <= 0 {
		return
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()
	slTotal.WithLabelValues(op).Add(float64(n))
}

// Gatherer 返回当前注册表。
func Gatherer() prometheus.Gatherer {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	return registry
}

// WriteMetrics 以 node_exporter textfile 格式原子写出当前指标。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, Gatherer())
}
