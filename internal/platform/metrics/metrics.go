package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	ApprovalsCreated  *prometheus.CounterVec
	ApprovalsAuto     *prometheus.CounterVec
	DecisionsApplied  *prometheus.CounterVec
	ApprovalsExpired  prometheus.Counter
	RepliesRejected   *prometheus.CounterVec
	WebhookDuplicates prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		ApprovalsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_gate_approvals_created_total",
			Help: "Approvals created, labelled by delivery channel",
		}, []string{"channel"}),
		ApprovalsAuto: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_gate_approvals_auto_total",
			Help: "Approvals auto-approved at creation, labelled by rule kind",
		}, []string{"rule"}),
		DecisionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_gate_decisions_applied_total",
			Help: "Human decisions applied, labelled by decision code",
		}, []string{"code"}),
		ApprovalsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approval_gate_approvals_expired_total",
			Help: "Approvals lazily transitioned to expired",
		}),
		RepliesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approval_gate_replies_rejected_total",
			Help: "Ingested replies rejected, labelled by reason",
		}, []string{"reason"}),
		WebhookDuplicates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approval_gate_webhook_duplicates_total",
			Help: "Telegram webhook updates dropped by the dedupe cache",
		}),
	}
}
