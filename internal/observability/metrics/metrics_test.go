package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	invitedomain "github.com/smallbiznis/trialgate/internal/invite/domain"
	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/gorm"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("kind", "trial"),
		attribute.String("subject_id", "42"),
		attribute.String("link", "https://t.me/+x"),
		attribute.String("outcome", "matched"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("kind"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, JobReasonDeadlineExceeded},
		{"permission", platform.NewError("createChatInviteLink", platform.ErrPermissionDenied, 403, "not enough rights"), JobReasonPermissionDenied},
		{"transient", fmt.Errorf("ban: %w", platform.NewError("banChatMember", platform.ErrTransient, 429, "slow down")), JobReasonPlatformTransient},
		{"not found", platform.NewError("getChatMember", platform.ErrNotFound, 400, "user not found"), JobReasonPlatformNotFound},
		{"conflict", invitedomain.ErrStateConflict, JobReasonStateConflict},
		{"db lock", &pgconn.PgError{Code: "55P03"}, JobReasonDBLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, JobReasonSerializationFailure},
		{"unique", gorm.ErrDuplicatedKey, JobReasonUniqueViolation},
		{"unknown", errors.New("boom"), JobReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyJobReason(tc.err))
		})
	}
}

func TestClassifyErrorTypeAndRetryable(t *testing.T) {
	transient := platform.NewError("banChatMember", platform.ErrTransient, 0, "timeout")
	assert.Equal(t, ErrorTypePlatform, ClassifyErrorType(transient))
	assert.True(t, IsRetryable(transient))

	denied := platform.NewError("banChatMember", platform.ErrPermissionDenied, 403, "forbidden")
	assert.False(t, IsRetryable(denied))

	assert.Equal(t, ErrorTypeStateConflict, ClassifyErrorType(invitedomain.ErrStateConflict))
	assert.True(t, IsRetryable(invitedomain.ErrStateConflict))
	assert.Equal(t, ErrorTypeDB, ClassifyErrorType(&pgconn.PgError{Code: "40001"}))
	assert.Equal(t, ErrorTypeBusinessRule, ClassifyErrorType(errors.New("x")))
}

func TestMembershipMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newMembershipMetrics(registry, Config{ServiceName: "trialgate", Environment: "test"})

	m.AddItemsProcessed("reconcile", "remove_expired", 3)
	m.IncItemFailure("reconcile", "remove_expired", platform.NewError("banChatMember", platform.ErrTransient, 0, "timeout"))
	m.IncPlatformCall("banChatMember", nil)
	m.IncSweepSkipped("notify")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.itemsProcessed.WithLabelValues("reconcile", "remove_expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.itemFailures.WithLabelValues("reconcile", "remove_expired", JobReasonPlatformTransient)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.platformCalls.WithLabelValues("banChatMember", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepsSkipped.WithLabelValues("notify")))

	var nilMetrics *MembershipMetrics
	nilMetrics.IncTransition(TransitionRemoved)
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{})

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/api/members/:subject_id/status", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/members/1/status", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/members/:subject_id/status", "404")))
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordInviteIssued(context.Background(), "trial", false)
	m.RecordNotice(context.Background(), "welcome", "sent")

	var nilMetrics *Metrics
	nilMetrics.RecordJoin(context.Background(), "matched")
}
