package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/internal/account/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (
			id, email, name, role, plan, balance, credits_renewed_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		account.ID,
		account.Email,
		account.Name,
		account.Role,
		account.Plan,
		account.CreditsRenewedAt,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Account, error) {
	var account domain.Account
	err := db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Account, int64, error) {
	stmt := db.WithContext(ctx).Model(&domain.Account{})

	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + escapeLike(strings.ToLower(search)) + "%"
		stmt = stmt.Where(
			"(LOWER(name) LIKE ? ESCAPE '!' OR LOWER(email) LIKE ? ESCAPE '!')",
			pattern, pattern,
		)
	}
	if role := strings.TrimSpace(filter.Role); role != "" {
		stmt = stmt.Where("role = ?", role)
	}
	if plan := strings.TrimSpace(filter.Plan); plan != "" {
		stmt = stmt.Where("plan = ?", plan)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	accounts := []domain.Account{}
	if total == 0 {
		return accounts, 0, nil
	}

	query := stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if err := query.Find(&accounts).Error; err != nil {
		return nil, 0, err
	}
	return accounts, total, nil
}

func (r *repo) UpdateRole(ctx context.Context, db *gorm.DB, id snowflake.ID, role domain.Role, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET role = ?, updated_at = ? WHERE id = ?`,
		role, at, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET plan = ?, updated_at = ? WHERE id = ?`,
		plan, at, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) RecordLogin(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts
		SET last_login_at = ?, first_login_at = COALESCE(first_login_at, ?)
		WHERE id = ?`,
		at, at, id,
	)
	return res.RowsAffected, res.Error
}

// Delete removes the account and everything that hangs off it. The caller is
// expected to pass a transaction.
func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	for _, stmt := range []string{
		`DELETE FROM sessions WHERE account_id = ?`,
		`DELETE FROM feature_flag_assignments WHERE account_id = ?`,
		`DELETE FROM credit_transactions WHERE account_id = ?`,
	} {
		if err := db.WithContext(ctx).Exec(stmt, id).Error; err != nil {
			return 0, err
		}
	}
	res := db.WithContext(ctx).Exec(`DELETE FROM accounts WHERE id = ?`, id)
	return res.RowsAffected, res.Error
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
