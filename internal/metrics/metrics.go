// Package metrics exposes Prometheus collectors for the security core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricAuditEntriesTotal      = "ledger_audit_entries_total"
	MetricAuditDroppedTotal      = "ledger_audit_mirror_dropped_total"
	MetricRateLimitRejectedTotal = "ledger_rate_limit_rejected_total"
	MetricLoginAttemptsTotal     = "ledger_login_attempts_total"
	MetricBackupsTotal           = "ledger_backups_total"
	MetricBackupDurationSeconds  = "ledger_backup_duration_seconds"
	MetricCSRFRejectedTotal      = "ledger_csrf_rejected_total"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds every collector. All methods are safe for concurrent use
// and tolerate a nil receiver.
type Metrics struct {
	auditEntries   *prometheus.CounterVec
	auditDropped   prometheus.Counter
	rateLimited    *prometheus.CounterVec
	loginAttempts  *prometheus.CounterVec
	backups        *prometheus.CounterVec
	backupDuration prometheus.Histogram
	csrfRejected   prometheus.Counter
}

// NewMetrics creates the collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		auditEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditEntriesTotal,
				Help: "Audit log entries recorded, by action",
			},
			[]string{"action"},
		),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricAuditDroppedTotal,
			Help: "Audit entries not mirrored to the database because the buffer was full",
		}),
		rateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitRejectedTotal,
				Help: "Requests rejected with 429, by limiter",
			},
			[]string{"limiter"},
		),
		loginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricLoginAttemptsTotal,
				Help: "Login attempts by result",
			},
			[]string{"status"},
		),
		backups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackupsTotal,
				Help: "Backup runs by status",
			},
			[]string{"status"},
		),
		backupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricBackupDurationSeconds,
			Help:    "Histogram of backup duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		csrfRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCSRFRejectedTotal,
			Help: "Requests rejected by CSRF validation",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.auditEntries,
		m.auditDropped,
		m.rateLimited,
		m.loginAttempts,
		m.backups,
		m.backupDuration,
		m.csrfRejected,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) AuditRecorded(action string) {
	if m == nil {
		return
	}
	m.auditEntries.WithLabelValues(action).Inc()
}

func (m *Metrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limiter).Inc()
}

func (m *Metrics) LoginAttempt(status string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(status).Inc()
}

// BackupCompleted records one backup run and its duration in seconds.
func (m *Metrics) BackupCompleted(status string, seconds float64) {
	if m == nil {
		return
	}
	m.backups.WithLabelValues(status).Inc()
	m.backupDuration.Observe(seconds)
}

func (m *Metrics) CSRFRejected() {
	if m == nil {
		return
	}
	m.csrfRejected.Inc()
}
