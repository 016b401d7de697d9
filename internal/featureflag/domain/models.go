package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Flag struct {
	ID          snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name        string       `gorm:"type:varchar(64);not null;uniqueIndex" json:"name"`
	Description *string      `gorm:"type:text" json:"description,omitempty"`
	Enabled     bool         `gorm:"not null;default:true" json:"enabled"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null" json:"updated_at"`
}

func (Flag) TableName() string { return "feature_flags" }

// Assignment grants one account access to one flag.
type Assignment struct {
	FlagID    snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"flag_id"`
	AccountID snowflake.ID `gorm:"primaryKey;autoIncrement:false;index" json:"account_id"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
}

func (Assignment) TableName() string { return "feature_flag_assignments" }

type FlagSummary struct {
	Flag
	AssignedCount int64 `json:"assigned_count"`
}

type AccountFlag struct {
	Flag
	Assigned bool `json:"assigned"`
}

type AssignedAccount struct {
	AccountID  snowflake.ID `json:"account_id"`
	Email      string       `json:"email"`
	Name       string       `json:"name"`
	AssignedAt time.Time    `json:"assigned_at"`
}
