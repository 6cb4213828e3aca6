package queue

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phrazzld/contentq/internal/domain"
)

// Operation labels.
const (
	opCreate         = "create"
	opUpdate         = "update"
	opRetry          = "retry"
	opClaimBatch     = "claim_batch"
	opClaimTask      = "claim_task"
	opUpdateStatus   = "update_status"
	opUpdateStep     = "update_step"
	opIncrementRetry = "increment_retry"
	opComplete       = "complete"
	opFail           = "fail"
	opRelease        = "release"
	opSaveSnapshot   = "save_snapshot"
)

// Outcome labels. A rejected write is a lost CAS, a failed guard or a
// missing task.
const (
	outcomeApplied  = "applied"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Metrics holds the queue's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	operations   *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	claims       *prometheus.CounterVec
	claimLatency prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg, if non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentq",
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queue operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentq",
			Subsystem: "queue",
			Name:      "transitions_total",
			Help:      "Accepted status transitions by target status.",
		}, []string{"status"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentq",
			Subsystem: "queue",
			Name:      "claims_total",
			Help:      "Tasks claimed, split by whether they were started before the lease window.",
		}, []string{"kind"}),
		claimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "contentq",
			Subsystem: "queue",
			Name:      "claim_duration_seconds",
			Help:      "Latency of batch claim statements.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.transitions, m.claims, m.claimLatency)
	}
	return m
}

func (m *Metrics) observe(op, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) transition(status domain.TaskStatus) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(status)).Inc()
}

// claimed counts one claim. startedBeforeWindow covers both a stale task
// taken from a silent worker and a task that was released and claimed
// again later; the row does not record which.
func (m *Metrics) claimed(startedBeforeWindow bool) {
	if m == nil {
		return
	}
	kind := "fresh"
	if startedBeforeWindow {
		kind = "started_before_window"
	}
	m.claims.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeClaimLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.claimLatency.Observe(d.Seconds())
}
