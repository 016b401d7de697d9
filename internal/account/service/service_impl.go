package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/internal/account/domain"
	auditdomain "github.com/smallbiznis/creditkit/internal/audit/domain"
	"github.com/smallbiznis/creditkit/internal/audit/masking"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/config"
	creditdomain "github.com/smallbiznis/creditkit/internal/credit/domain"
	ledgerdomain "github.com/smallbiznis/creditkit/internal/ledger/domain"
	"github.com/smallbiznis/creditkit/pkg/db"
	"github.com/smallbiznis/creditkit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const listPageSize = 20

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Plans     *config.PlansHolder
	Store     ledgerdomain.Store
	CreditSvc creditdomain.Service
	AuditSvc  auditdomain.Service `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	plans     *config.PlansHolder
	store     ledgerdomain.Store
	creditSvc creditdomain.Service
	auditSvc  auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("account.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		plans:     p.Plans,
		store:     p.Store,
		creditSvc: p.CreditSvc,
		auditSvc:  p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Account, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	role := domain.Role(strings.ToLower(strings.TrimSpace(string(req.Role))))
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	plan := strings.ToLower(strings.TrimSpace(req.Plan))
	if plan == "" {
		plan = config.PlanFree
	}
	allotment, ok := s.plans.Get().Allotment(plan)
	if !ok {
		return nil, domain.ErrInvalidPlan
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}

	now := s.clock.Now()
	// the initial allotment counts as this period's renewal
	account := domain.Account{
		ID:               s.genID.Generate(),
		Email:            email,
		Name:             name,
		Role:             role,
		Plan:             plan,
		CreditsRenewedAt: &now,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByEmail(ctx, tx, email)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrEmailTaken
		}
		if err := s.repo.Insert(ctx, tx, &account); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrEmailTaken
			}
			return err
		}
		if allotment == 0 {
			return nil
		}

		entry, err := s.store.ApplyDelta(ctx, tx, ledgerdomain.Delta{
			AccountID:   account.ID,
			Amount:      allotment,
			Kind:        ledgerdomain.KindPlanRenewal,
			Description: fmt.Sprintf("Initial %s plan allotment", plan),
		})
		if err != nil {
			return err
		}
		account.Balance = entry.NewBalance
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("account created",
		zap.String("account_id", account.ID.String()),
		zap.String("email", masking.MaskEmail(email)),
		zap.String("plan", plan),
		zap.Int64("allotment", allotment),
	)
	return &account, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindByEmail(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (*domain.ListResponse, error) {
	page := pagination.Page{Page: req.Page, PageSize: listPageSize}.Normalize(listPageSize, listPageSize)

	items, total, err := s.repo.List(ctx, s.db, domain.ListFilter{
		Search: strings.TrimSpace(req.Search),
		Role:   filterValue(req.Role),
		Plan:   filterValue(req.Plan),
		Limit:  page.PageSize,
		Offset: page.Offset(),
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Account{}
	}

	return &domain.ListResponse{
		Accounts: items,
		PageMeta: pagination.NewPageMeta(page, len(items), total),
	}, nil
}

func (s *Service) UpdateRole(ctx context.Context, actor domain.Principal, id snowflake.ID, role domain.Role) (*domain.Account, error) {
	role = domain.Role(strings.ToLower(strings.TrimSpace(string(role))))
	if !role.Valid() {
		return nil, domain.ErrInvalidRole
	}

	var account *domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrAccountNotFound
		}
		if _, err := s.repo.UpdateRole(ctx, tx, id, role, s.clock.Now()); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, actor, auditdomain.ActionAccountRoleChanged, current, map[string]any{
			"from": string(current.Role),
			"to":   string(role),
		}); err != nil {
			return err
		}
		account, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ChangePlan moves the account to plan and grants that plan's allotment
// right away. Changing to the current plan still grants.
func (s *Service) ChangePlan(ctx context.Context, actor domain.Principal, id snowflake.ID, plan string) (*domain.Account, error) {
	plan = strings.ToLower(strings.TrimSpace(plan))
	allotment, ok := s.plans.Get().Allotment(plan)
	if !ok {
		return nil, domain.ErrInvalidPlan
	}

	var account *domain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrAccountNotFound
		}
		if _, err := s.repo.UpdatePlan(ctx, tx, id, plan, s.clock.Now()); err != nil {
			return err
		}
		if allotment != 0 {
			var grantedBy *snowflake.ID
			if !actor.IsSystem() {
				actorID := actor.AccountID
				grantedBy = &actorID
			}
			if _, err := s.creditSvc.GrantInTx(ctx, tx, creditdomain.GrantRequest{
				AccountID:   id,
				Amount:      allotment,
				Kind:        string(ledgerdomain.KindPlanChange),
				Description: fmt.Sprintf("Plan changed to %s", plan),
				ActorID:     grantedBy,
			}); err != nil {
				return err
			}
		}
		if err := s.audit(ctx, tx, actor, auditdomain.ActionAccountPlanChanged, current, map[string]any{
			"from":      current.Plan,
			"to":        plan,
			"allotment": allotment,
		}); err != nil {
			return err
		}
		account, err = s.repo.FindByID(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) RecordLogin(ctx context.Context, id snowflake.ID) error {
	rows, err := s.repo.RecordLogin(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, actor domain.Principal, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrAccountNotFound
		}
		if _, err := s.repo.Delete(ctx, tx, id); err != nil {
			return err
		}
		return s.audit(ctx, tx, actor, auditdomain.ActionAccountDeleted, current, map[string]any{
			"balance": current.Balance,
		})
	})
	if err != nil {
		return err
	}

	s.log.Info("account deleted",
		zap.String("account_id", id.String()),
		zap.String("actor_id", actor.AccountID.String()),
	)
	return nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, actor domain.Principal, action string, target *domain.Account, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	actorType, actorID := string(auditdomain.ActorTypeAccount), actor.AccountID.String()
	if actor.IsSystem() {
		actorType, actorID = string(auditdomain.ActorTypeSystem), "system"
	}
	targetID := target.ID.String()
	metadata["email"] = masking.MaskEmail(target.Email)
	return s.auditSvc.AuditLog(ctx, tx, actorType, &actorID, action, "account", &targetID, metadata)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", domain.ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func filterValue(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "all" {
		return ""
	}
	return v
}
