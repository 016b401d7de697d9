package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditkit/internal/featureflag/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, flag *domain.Flag) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO feature_flags (
			id, name, description, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		flag.ID,
		flag.Name,
		flag.Description,
		flag.Enabled,
		flag.CreatedAt,
		flag.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Flag, error) {
	var flag domain.Flag
	err := db.WithContext(ctx).Where("id = ?", id).First(&flag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.FlagSummary, error) {
	items := []domain.FlagSummary{}
	err := db.WithContext(ctx).Raw(
		`SELECT f.id, f.name, f.description, f.enabled, f.created_at, f.updated_at,
			COUNT(a.account_id) AS assigned_count
		 FROM feature_flags f
		 LEFT JOIN feature_flag_assignments a ON a.flag_id = f.id
		 GROUP BY f.id, f.name, f.description, f.enabled, f.created_at, f.updated_at
		 ORDER BY f.name ASC`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetEnabled(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE feature_flags SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, at, id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	if err := db.WithContext(ctx).Exec(`DELETE FROM feature_flag_assignments WHERE flag_id = ?`, id).Error; err != nil {
		return 0, err
	}
	res := db.WithContext(ctx).Exec(`DELETE FROM feature_flags WHERE id = ?`, id)
	return res.RowsAffected, res.Error
}

func (r *repo) Assign(ctx context.Context, db *gorm.DB, assignment *domain.Assignment) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(assignment).Error
}

func (r *repo) Unassign(ctx context.Context, db *gorm.DB, flagID, accountID snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM feature_flag_assignments WHERE flag_id = ? AND account_id = ?`,
		flagID, accountID,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListAccounts(ctx context.Context, db *gorm.DB, flagID snowflake.ID) ([]domain.AssignedAccount, error) {
	items := []domain.AssignedAccount{}
	err := db.WithContext(ctx).Raw(
		`SELECT a.account_id, acc.email, acc.name, a.created_at AS assigned_at
		 FROM feature_flag_assignments a
		 JOIN accounts acc ON acc.id = a.account_id
		 WHERE a.flag_id = ?
		 ORDER BY a.created_at DESC, a.account_id DESC`,
		flagID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListForAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.AccountFlag, error) {
	items := []domain.AccountFlag{}
	err := db.WithContext(ctx).Raw(
		`SELECT f.id, f.name, f.description, f.enabled, f.created_at, f.updated_at,
			CASE WHEN a.account_id IS NULL THEN 0 ELSE 1 END AS assigned
		 FROM feature_flags f
		 LEFT JOIN feature_flag_assignments a ON a.flag_id = f.id AND a.account_id = ?
		 ORDER BY f.name ASC`,
		accountID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) IsAssignedAndEnabled(ctx context.Context, db *gorm.DB, accountID snowflake.ID, name string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM feature_flag_assignments a
		 JOIN feature_flags f ON f.id = a.flag_id
		 WHERE a.account_id = ? AND f.name = ? AND f.enabled = ?`,
		accountID, name, true,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
