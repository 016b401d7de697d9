package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/featureflag/domain"
	"github.com/smallbiznis/creditkit/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxNameLength = 64

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	AuditSvc    auditdomain.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	accountRepo accountdomain.Repository
	auditSvc    auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("featureflag.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		auditSvc:    p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, actor accountdomain.Principal, req domain.CreateRequest) (*domain.Flag, error) {
	name, err := NormalizeName(req.Name)
	if err != nil {
		return nil, err
	}

	var description *string
	if req.Description != nil {
		if trimmed := strings.TrimSpace(*req.Description); trimmed != "" {
			description = &trimmed
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	now := s.clock.Now()
	flag := domain.Flag{
		ID:          s.genID.Generate(),
		Name:        name,
		Description: description,
		Enabled:     enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &flag); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrFlagExists
			}
			return err
		}
		return s.audit(ctx, tx, actor, auditdomain.ActionFlagCreated, flag.ID, map[string]any{
			"name":    flag.Name,
			"enabled": flag.Enabled,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("feature flag created", zap.String("flag", flag.Name), zap.Bool("enabled", flag.Enabled))
	return &flag, nil
}

func (s *Service) List(ctx context.Context) ([]domain.FlagSummary, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Flag, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	flag, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, domain.ErrFlagNotFound
	}
	return flag, nil
}

func (s *Service) SetEnabled(ctx context.Context, actor accountdomain.Principal, id snowflake.ID, enabled bool) (*domain.Flag, error) {
	var flag *domain.Flag
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.SetEnabled(ctx, tx, id, enabled, s.clock.Now())
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrFlagNotFound
		}
		if err := s.audit(ctx, tx, actor, auditdomain.ActionFlagToggled, id, map[string]any{
			"enabled": enabled,
		}); err != nil {
			return err
		}
		flag, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return flag, nil
}

func (s *Service) Delete(ctx context.Context, actor accountdomain.Principal, id snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flag, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if flag == nil {
			return domain.ErrFlagNotFound
		}
		if _, err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, auditdomain.ActionFlagDeleted, id, map[string]any{
			"name": flag.Name,
		})
	})
}

// Assign is idempotent: assigning an already assigned account succeeds and
// keeps the original assignment time.
func (s *Service) Assign(ctx context.Context, actor accountdomain.Principal, flagID, accountID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureExists(ctx, tx, flagID, accountID); err != nil {
			return err
		}
		if err := s.repo.Assign(ctx, tx, &domain.Assignment{
			FlagID:    flagID,
			AccountID: accountID,
			CreatedAt: s.clock.Now(),
		}); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, auditdomain.ActionFlagAssigned, flagID, map[string]any{
			"account_id": accountID.String(),
		})
	})
}

func (s *Service) Unassign(ctx context.Context, actor accountdomain.Principal, flagID, accountID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureExists(ctx, tx, flagID, accountID); err != nil {
			return err
		}
		rows, err := s.repo.Unassign(ctx, tx, flagID, accountID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return nil
		}
		return s.audit(ctx, tx, actor, auditdomain.ActionFlagUnassigned, flagID, map[string]any{
			"account_id": accountID.String(),
		})
	})
}

func (s *Service) ListAccounts(ctx context.Context, flagID snowflake.ID) ([]domain.AssignedAccount, error) {
	if _, err := s.Get(ctx, flagID); err != nil {
		return nil, err
	}
	return s.repo.ListAccounts(ctx, s.db, flagID)
}

func (s *Service) ListForAccount(ctx context.Context, accountID snowflake.ID) ([]domain.AccountFlag, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}
	return s.repo.ListForAccount(ctx, s.db, accountID)
}

// CanAccess reports whether principal may use the named feature. Admins can
// use every feature, everyone else needs an assignment on an enabled flag.
func (s *Service) CanAccess(ctx context.Context, principal accountdomain.Principal, name string) (bool, error) {
	if principal.IsAdmin() {
		return true, nil
	}
	normalized, err := NormalizeName(name)
	if err != nil {
		return false, nil
	}
	return s.repo.IsAssignedAndEnabled(ctx, s.db, principal.AccountID, normalized)
}

func (s *Service) ensureExists(ctx context.Context, tx *gorm.DB, flagID, accountID snowflake.ID) error {
	flag, err := s.repo.FindByID(ctx, tx, flagID)
	if err != nil {
		return err
	}
	if flag == nil {
		return domain.ErrFlagNotFound
	}
	account, err := s.accountRepo.FindByID(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return accountdomain.ErrAccountNotFound
	}
	return nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor accountdomain.Principal, action string, flagID snowflake.ID, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorID := actor.AccountID.String()
	targetID := flagID.String()
	return s.auditSvc.AuditLog(ctx, tx, string(auditdomain.ActorTypeAccount), &actorID, action, "feature_flag", &targetID, metadata)
}

// NormalizeName turns free text like "Beta Export" into "beta_export".
func NormalizeName(raw string) (string, error) {
	name := strings.ReplaceAll(slug.Make(strings.TrimSpace(raw)), "-", "_")
	if name == "" || len(name) > maxNameLength || !namePattern.MatchString(name) {
		return "", domain.ErrInvalidName
	}
	return name, nil
}
