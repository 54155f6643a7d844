package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/trialgate/internal/platform"
	"github.com/smallbiznis/trialgate/internal/platform/platformtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastRetry = RetryConfig{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func transient() error {
	return platform.NewError(platformtest.OpSendMessage, platform.ErrTransient, 429, "retry later")
}

func TestSendRetriesTransientFailures(t *testing.T) {
	fake := platformtest.New(1)
	fake.FailNext(platformtest.OpSendMessage, transient(), transient())
	d := New(fake, 0, fastRetry, zap.NewNop(), nil)

	err := d.Send(context.Background(), Notice{ChatID: 42, Kind: KindWelcome, Text: "hello"})
	require.NoError(t, err)
	assert.Len(t, fake.Calls(platformtest.OpSendMessage), 3)
}

func TestSendStopsOnPermanentFailure(t *testing.T) {
	fake := platformtest.New(1)
	fake.FailNext(platformtest.OpSendMessage, platform.NewError(platformtest.OpSendMessage, platform.ErrPermissionDenied, 403, "bot was blocked by the user"))
	d := New(fake, 0, fastRetry, zap.NewNop(), nil)

	err := d.Send(context.Background(), Notice{ChatID: 42, Kind: KindRemoval, Text: "bye"})
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrPermissionDenied)
	assert.Len(t, fake.Calls(platformtest.OpSendMessage), 1)
}

func TestSendGivesUpAfterMaxTries(t *testing.T) {
	fake := platformtest.New(1)
	fake.FailNext(platformtest.OpSendMessage, transient(), transient(), transient(), transient())
	d := New(fake, 0, fastRetry, zap.NewNop(), nil)

	err := d.Send(context.Background(), Notice{ChatID: 42, Kind: KindTrialWarning, Text: "soon"})
	require.Error(t, err)
	assert.True(t, platform.IsTransient(err))
	assert.Len(t, fake.Calls(platformtest.OpSendMessage), 3)
}

func TestSendRejectsEmptyNotice(t *testing.T) {
	d := New(platformtest.New(1), 0, fastRetry, zap.NewNop(), nil)
	assert.True(t, errors.Is(d.Send(context.Background(), Notice{Kind: KindWelcome}), ErrInvalidNotice))
}

func TestAlertAdmin(t *testing.T) {
	fake := platformtest.New(1)
	New(fake, 0, fastRetry, zap.NewNop(), nil).AlertAdmin(context.Background(), "ignored")
	assert.Empty(t, fake.Calls(platformtest.OpSendMessage))

	New(fake, -500, fastRetry, zap.NewNop(), nil).AlertAdmin(context.Background(), "removal failed")
	calls := fake.Calls(platformtest.OpSendMessage)
	require.Len(t, calls, 1)
	assert.Equal(t, int64(-500), calls[0].ChatID)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "3 days", HumanDuration(72*time.Hour))
	assert.Equal(t, "1 hour", HumanDuration(time.Hour))
	assert.Equal(t, "10 seconds", HumanDuration(10*time.Second))
	assert.Equal(t, "now", HumanDuration(0))
}

func TestPaidReminderText(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Contains(t, PaidReminderText("Ada", now.Add(48*time.Hour), now), "2 days from now")
}
