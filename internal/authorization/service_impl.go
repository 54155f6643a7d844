package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	obscontext "github.com/smallbiznis/trialgate/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

const (
	ObjectMember  = "member"
	ObjectInvite  = "invite"
	ObjectPayment = "payment"
	ObjectJob     = "job"
	ObjectStats   = "stats"
)

const (
	ActionMemberRegister = "member.register"
	ActionMemberView     = "member.view"

	ActionInviteIssue = "invite.issue"
	ActionInviteView  = "invite.view"
	ActionInviteCheck = "invite.check"

	ActionPaymentRecord = "payment.record"

	ActionJobRun = "job.run"

	ActionStatsView = "stats.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads the role policy from the casbin_rule table and seeds the
// built-in roles.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role string, object string, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.logDenied(ctx, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) logDenied(ctx context.Context, role, object, action string) {
	actorType, actorID := obscontext.ActorFromContext(ctx)
	s.log.Warn("authorization.denied",
		zap.String("role", role),
		zap.String("object", object),
		zap.String("action", action),
		zap.String("actor_type", actorType),
		zap.String("actor_id", actorID),
		zap.String("request_id", obscontext.RequestIDFromContext(ctx)),
	)
}

func roleSubject(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Operator permissions
		{roleSubject(RoleOperator), ObjectMember, ActionMemberRegister},
		{roleSubject(RoleOperator), ObjectMember, ActionMemberView},
		{roleSubject(RoleOperator), ObjectInvite, ActionInviteView},
		{roleSubject(RoleOperator), ObjectInvite, ActionInviteCheck},
		{roleSubject(RoleOperator), ObjectStats, ActionStatsView},

		// Admin permissions on top of operator
		{roleSubject(RoleAdmin), ObjectInvite, ActionInviteIssue},
		{roleSubject(RoleAdmin), ObjectPayment, ActionPaymentRecord},
		{roleSubject(RoleAdmin), ObjectJob, ActionJobRun},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	if _, err := enforcer.AddGroupingPolicy(roleSubject(RoleAdmin), roleSubject(RoleOperator)); err != nil {
		return err
	}
	return nil
}
