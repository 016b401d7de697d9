package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCredits      = "credits"
	ObjectFeatures     = "features"
	ObjectAccount      = "account"
	ObjectAccounts     = "accounts"
	ObjectFeatureFlags = "feature_flags"
	ObjectAnalytics    = "analytics"
	ObjectAuditLog     = "audit_log"
	ObjectLedger       = "ledger"
)

const (
	ActionView   = "view"
	ActionSpend  = "spend"
	ActionGrant  = "grant"
	ActionManage = "manage"
	ActionDelete = "delete"
)

const actionAuthorizationDenied = "authorization.denied"

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

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
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

// Authorize checks the principal's role against the policy table. Each
// account is linked to exactly one role; a changed role replaces the link.
func (s *ServiceImpl) Authorize(ctx context.Context, principal accountdomain.Principal, object string, action string) error {
	if principal.AccountID == 0 || !principal.Role.Valid() {
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

	subject := fmt.Sprintf("account:%s", principal.AccountID)
	roleName := fmt.Sprintf("role:%s", principal.Role)
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, principal, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := s.enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, principal accountdomain.Principal, object string, action string) {
	s.log.Debug("authorization denied",
		zap.String("account_id", principal.AccountID.String()),
		zap.String("role", string(principal.Role)),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	actorID := principal.AccountID.String()
	targetID := object
	if err := s.auditSvc.AuditLog(ctx, nil, string(auditdomain.ActorTypeAccount), &actorID, actionAuthorizationDenied, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   string(principal.Role),
	}); err != nil {
		s.log.Warn("failed to audit denied authorization", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:admin", "*", "*"},
	}
	for _, role := range []accountdomain.Role{accountdomain.RoleUser, accountdomain.RoleBeta} {
		name := fmt.Sprintf("role:%s", role)
		policies = append(policies,
			[]string{name, ObjectCredits, ActionView},
			[]string{name, ObjectCredits, ActionSpend},
			[]string{name, ObjectFeatures, ActionView},
			[]string{name, ObjectAccount, ActionDelete},
		)
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
