package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/trialgate/internal/observability/context"
	"github.com/smallbiznis/trialgate/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithActor(context.Background(), "scheduler", "reconcile")
	ctx = obscontext.WithSubjectID(ctx, "1001")
	ctx = correlation.ContextWithCorrelationID(ctx, "01HX")

	WithContext(ctx, base).Info("member.removed")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "scheduler", fields["actor_type"])
	assert.Equal(t, "reconcile", fields["actor_id"])
	assert.Equal(t, "1001", fields["subject_id"])
	assert.Equal(t, "01HX", fields["correlation_id"])
	assert.NotContains(t, fields, "request_id")
	assert.NotContains(t, fields, "trace_id")
}

func TestNewRejectsInvalidLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "console", normalizeFormat(" Console "))
	assert.Equal(t, "json", normalizeFormat("text"))
}
