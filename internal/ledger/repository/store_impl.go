package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/internal/clock"
	"github.com/smallbiznis/creditkit/internal/ledger/domain"
	"github.com/smallbiznis/creditkit/pkg/db/pagination"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPageSize = 20

type Params struct {
	fx.In

	GenID *snowflake.Node
	Clock clock.Clock
}

type store struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewStore(p Params) domain.Store {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &store{genID: p.GenID, clock: c}
}

func (s *store) ApplyDelta(ctx context.Context, db *gorm.DB, delta domain.Delta) (*domain.Entry, error) {
	if delta.Amount == 0 {
		return nil, domain.ErrZeroAmount
	}
	delta.Kind = domain.Kind(strings.TrimSpace(string(delta.Kind)))
	if !delta.Kind.Valid() {
		return nil, domain.ErrInvalidKind
	}

	now := s.clock.Now().UTC()
	row := domain.Transaction{
		ID:        s.genID.Generate(),
		AccountID: delta.AccountID,
		Amount:    delta.Amount,
		Kind:      delta.Kind,
		CreatedAt: now,
	}
	if desc := strings.TrimSpace(delta.Description); desc != "" {
		row.Description = &desc
	}
	if len(delta.Metadata) > 0 {
		row.Metadata = datatypes.JSONMap(delta.Metadata)
	}

	var balance int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := `UPDATE accounts SET balance = balance + ?, updated_at = ? WHERE id = ?`
		args := []any{delta.Amount, now, delta.AccountID}
		if delta.Floor != nil {
			stmt += ` AND balance + ? >= ?`
			args = append(args, delta.Amount, *delta.Floor)
		}

		res := tx.Exec(stmt, args...)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			exists, err := accountExists(tx, delta.AccountID)
			if err != nil {
				return err
			}
			if !exists {
				return domain.ErrAccountNotFound
			}
			return domain.ErrBelowFloor
		}

		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		return tx.Raw(`SELECT balance FROM accounts WHERE id = ?`, delta.AccountID).Scan(&balance).Error
	})
	if err != nil {
		return nil, err
	}

	return &domain.Entry{Transaction: row, NewBalance: balance}, nil
}

func (s *store) ReadBalance(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error) {
	var balances []int64
	err := db.WithContext(ctx).Raw(
		`SELECT balance FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&balances).Error
	if err != nil {
		return 0, err
	}
	if len(balances) == 0 {
		return 0, domain.ErrAccountNotFound
	}
	return balances[0], nil
}

func (s *store) ListTransactions(ctx context.Context, db *gorm.DB, accountID snowflake.ID, page pagination.Page) (*domain.Page, error) {
	page = page.Normalize(defaultPageSize, 0)

	var total int64
	if err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("account_id = ?", accountID).
		Count(&total).Error; err != nil {
		return nil, err
	}

	items := []domain.Transaction{}
	if total > 0 {
		if err := db.WithContext(ctx).
			Where("account_id = ?", accountID).
			Order("created_at desc, id desc").
			Limit(page.PageSize).
			Offset(page.Offset()).
			Find(&items).Error; err != nil {
			return nil, err
		}
	}

	return &domain.Page{
		Items:    items,
		PageMeta: pagination.NewPageMeta(page, len(items), total),
	}, nil
}

func (s *store) SumAmounts(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE account_id = ?`,
		accountID,
	).Scan(&sum).Error
	return sum, err
}

func (s *store) ListDrift(ctx context.Context, db *gorm.DB) ([]domain.Drift, error) {
	var drift []domain.Drift
	err := db.WithContext(ctx).Raw(
		`SELECT a.id AS account_id, a.balance AS balance, COALESCE(SUM(t.amount), 0) AS ledger_sum
		FROM accounts a
		LEFT JOIN credit_transactions t ON t.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(t.amount), 0)
		ORDER BY a.id`,
	).Scan(&drift).Error
	if err != nil {
		return nil, err
	}
	return drift, nil
}

func accountExists(tx *gorm.DB, accountID snowflake.ID) (bool, error) {
	var count int64
	err := tx.Raw(`SELECT COUNT(1) FROM accounts WHERE id = ?`, accountID).Scan(&count).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	return count > 0, nil
}
