package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/trialgate/internal/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewEnforcer(storetest.Open(t))
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestAuthorizeOperator(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, RoleOperator, ObjectMember, ActionMemberRegister))
	assert.NoError(t, svc.Authorize(ctx, RoleOperator, ObjectMember, ActionMemberView))
	assert.NoError(t, svc.Authorize(ctx, RoleOperator, ObjectInvite, ActionInviteView))
	assert.NoError(t, svc.Authorize(ctx, RoleOperator, ObjectInvite, ActionInviteCheck))
	assert.NoError(t, svc.Authorize(ctx, RoleOperator, ObjectStats, ActionStatsView))

	assert.ErrorIs(t, svc.Authorize(ctx, RoleOperator, ObjectInvite, ActionInviteIssue), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleOperator, ObjectPayment, ActionPaymentRecord), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleOperator, ObjectJob, ActionJobRun), ErrForbidden)
}

func TestAuthorizeAdminInheritsOperator(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, tc := range [][2]string{
		{ObjectMember, ActionMemberRegister},
		{ObjectMember, ActionMemberView},
		{ObjectInvite, ActionInviteIssue},
		{ObjectInvite, ActionInviteView},
		{ObjectInvite, ActionInviteCheck},
		{ObjectPayment, ActionPaymentRecord},
		{ObjectJob, ActionJobRun},
		{ObjectStats, ActionStatsView},
	} {
		assert.NoError(t, svc.Authorize(ctx, "Admin", tc[0], tc[1]), "%s %s", tc[0], tc[1])
	}
}

func TestAuthorizeRejectsUnknownAndBlankInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, "viewer", ObjectMember, ActionMemberView), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, " ", ObjectMember, ActionMemberView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleAdmin, "", ActionMemberView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleAdmin, ObjectMember, ""), ErrInvalidAction)
	assert.ErrorIs(t, svc.Authorize(ctx, RoleAdmin, ObjectMember, ActionJobRun), ErrForbidden)
}

func TestNewEnforcerIsIdempotent(t *testing.T) {
	db := storetest.Open(t)
	_, err := NewEnforcer(db)
	require.NoError(t, err)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	policies, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, policies, 8)
}
