package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/pkg/db"
	"gorm.io/gorm"
)

const (
	ErrorTypeDeadlineExceeded = "deadline_exceeded"
	ErrorTypePlatform         = "platform"
	ErrorTypeStateConflict    = "state_conflict"
	ErrorTypeDB               = "db"
	ErrorTypeBusinessRule     = "business_rule"
	ErrorTypeUnknown          = "unknown"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonPermissionDenied     = "permission_denied"
	JobReasonPlatformTransient    = "platform_transient"
	JobReasonPlatformNotFound     = "platform_not_found"
	JobReasonStateConflict        = "state_conflict"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
)

// Lifecycle transitions counted by IncTransition.
const (
	TransitionIssued   = "issued"
	TransitionJoined   = "joined"
	TransitionLeft     = "left"
	TransitionRemoved  = "removed"
	TransitionUnbanned = "unbanned"
	TransitionExpired  = "expired"
	TransitionPaid     = "paid"
	TransitionHealed   = "healed"
)

// MembershipMetrics captures sweep health and lifecycle transitions.
type MembershipMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	itemFailures   *prometheus.CounterVec
	sweepsSkipped  *prometheus.CounterVec
	runLoopLag     *prometheus.HistogramVec
	transitions    *prometheus.CounterVec
	warnings       *prometheus.CounterVec
	stateConflicts *prometheus.CounterVec
	platformCalls  *prometheus.CounterVec
	joinOutcomes   *prometheus.CounterVec
}

var (
	membershipMetricsOnce sync.Once
	membershipMetrics     *MembershipMetrics
)

// Membership returns the singleton membership metrics registry.
func Membership() *MembershipMetrics {
	return MembershipWithConfig(Config{})
}

// MembershipWithConfig returns the singleton registry, labelled with cfg on first use.
func MembershipWithConfig(cfg Config) *MembershipMetrics {
	membershipMetricsOnce.Do(func() {
		membershipMetrics = newMembershipMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return membershipMetrics
}

// ResetMembershipMetricsForTest resets the singleton for tests.
func ResetMembershipMetricsForTest() {
	membershipMetricsOnce = sync.Once{}
	membershipMetrics = nil
}

func newMembershipMetrics(registerer prometheus.Registerer, cfg Config) *MembershipMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "trialgate"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}

	m := &MembershipMetrics{
		jobRuns:     counter("trialgate_scheduler_job_runs_total", "Sweep runs by job.", "job"),
		jobTimeouts: counter("trialgate_scheduler_job_timeouts_total", "Sweeps cut short by their timeout.", "job"),
		jobErrors:   counter("trialgate_scheduler_job_errors_total", "Sweep errors by low-cardinality reason.", "job", "reason"),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "trialgate_scheduler_job_duration_seconds",
			Help:        "Sweep latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		}, []string{"job"}),
		itemsProcessed: counter("trialgate_scheduler_items_processed_total", "Rows examined by a sweep pass.", "job", "pass"),
		itemFailures:   counter("trialgate_scheduler_item_failures_total", "Per-subject failures skipped by a sweep pass.", "job", "pass", "reason"),
		sweepsSkipped:  counter("trialgate_scheduler_sweeps_skipped_total", "Sweeps skipped because another holder had the guard.", "job"),
		runLoopLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "trialgate_scheduler_runloop_lag_seconds",
			Help:        "Run loop lag beyond the configured interval.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		transitions:    counter("trialgate_membership_transitions_total", "Invite lifecycle transitions.", "transition"),
		warnings:       counter("trialgate_membership_warnings_total", "Warnings delivered by kind.", "kind"),
		stateConflicts: counter("trialgate_membership_state_conflicts_total", "Compare-and-swap writes that lost a race.", "op"),
		platformCalls:  counter("trialgate_platform_calls_total", "Platform calls by operation and outcome.", "op", "result"),
		joinOutcomes:   counter("trialgate_join_outcomes_total", "Join correlation outcomes.", "outcome"),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.itemsProcessed,
		m.itemFailures,
		m.sweepsSkipped,
		m.runLoopLag,
		m.transitions,
		m.warnings,
		m.stateConflicts,
		m.platformCalls,
		m.joinOutcomes,
	)
	return m
}

func (m *MembershipMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *MembershipMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *MembershipMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *MembershipMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *MembershipMetrics) AddItemsProcessed(job, pass string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(job, pass).Add(float64(count))
}

func (m *MembershipMetrics) IncItemFailure(job, pass string, err error) {
	if m == nil || err == nil {
		return
	}
	m.itemFailures.WithLabelValues(job, pass, ClassifyJobReason(err)).Inc()
}

func (m *MembershipMetrics) IncSweepSkipped(job string) {
	if m == nil {
		return
	}
	m.sweepsSkipped.WithLabelValues(job).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and the sweep start.
func (m *MembershipMetrics) ObserveRunLoopLag(job string, lag time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.WithLabelValues(job).Observe(max(lag, 0).Seconds())
}

func (m *MembershipMetrics) IncTransition(transition string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(transition).Inc()
}

func (m *MembershipMetrics) IncWarning(kind string) {
	if m == nil {
		return
	}
	m.warnings.WithLabelValues(kind).Inc()
}

func (m *MembershipMetrics) IncStateConflict(op string) {
	if m == nil {
		return
	}
	m.stateConflicts.WithLabelValues(op).Inc()
}

func (m *MembershipMetrics) IncPlatformCall(op string, err error) {
	if m == nil {
		return
	}
	m.platformCalls.WithLabelValues(op, platform.Kind(err)).Inc()
}

func (m *MembershipMetrics) IncJoinOutcome(outcome string) {
	if m == nil {
		return
	}
	m.joinOutcomes.WithLabelValues(outcome).Inc()
}

// ClassifyErrorType returns a low-cardinality error type for logging.
func ClassifyErrorType(err error) string {
	switch {
	case err == nil:
		return ErrorTypeUnknown
	case isDeadline(err):
		return ErrorTypeDeadlineExceeded
	case errors.Is(err, invitedomain.ErrStateConflict):
		return ErrorTypeStateConflict
	case isPlatformError(err):
		return ErrorTypePlatform
	case isDBError(err):
		return ErrorTypeDB
	default:
		return ErrorTypeBusinessRule
	}
}

// IsRetryable reports whether the next sweep may succeed where this one failed.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case isDeadline(err), platform.IsTransient(err), errors.Is(err, invitedomain.ErrStateConflict):
		return true
	case errors.Is(err, platform.ErrPermissionDenied), errors.Is(err, platform.ErrNotFound):
		return false
	default:
		return isDBError(err)
	}
}

// ClassifyJobReason maps errors to low-cardinality metric reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case isDeadline(err):
		return JobReasonDeadlineExceeded
	case errors.Is(err, platform.ErrPermissionDenied), errors.Is(err, invitedomain.ErrPermissionDenied):
		return JobReasonPermissionDenied
	case errors.Is(err, platform.ErrTransient):
		return JobReasonPlatformTransient
	case errors.Is(err, platform.ErrNotFound):
		return JobReasonPlatformNotFound
	case errors.Is(err, invitedomain.ErrStateConflict):
		return JobReasonStateConflict
	case db.HasPGCode(err, db.PGLockNotAvailable):
		return JobReasonDBLockTimeout
	case db.HasPGCode(err, db.PGSerializationFailure):
		return JobReasonSerializationFailure
	case db.IsDuplicateKeyErr(err):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func isPlatformError(err error) bool {
	var perr *platform.Error
	return errors.As(err, &perr)
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return db.IsPGError(err)
}
