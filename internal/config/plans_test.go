package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewPlansHolderReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.yml")
	body := "credits:\n  plans:\n    free: 25\n    basic: 200\n    Pro: 900\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	holder, err := NewPlansHolder(Config{Credits: CreditsConfig{ConfigFile: path}}, zap.NewNop())
	require.NoError(t, err)

	free, ok := holder.Get().Allotment("free")
	assert.True(t, ok)
	assert.Equal(t, int64(25), free)

	pro, ok := holder.Get().Allotment("PRO")
	assert.True(t, ok)
	assert.Equal(t, int64(900), pro)
}

func TestNewPlansHolderRejectsMissingFreePlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credits.yml")
	require.NoError(t, os.WriteFile(path, []byte("credits:\n  plans:\n    pro: 5\n"), 0o600))

	_, err := NewPlansHolder(Config{Credits: CreditsConfig{ConfigFile: path}}, zap.NewNop())
	assert.Error(t, err)
}

func TestDefaultPlans(t *testing.T) {
	holder := NewStaticPlans(DefaultPlansConfig())

	for plan, want := range map[string]int64{PlanFree: 10, PlanBasic: 100, PlanPro: 500} {
		got, ok := holder.Get().Allotment(plan)
		assert.True(t, ok, plan)
		assert.Equal(t, want, got, plan)
	}
	_, ok := holder.Get().Allotment("enterprise")
	assert.False(t, ok)
}

func TestLoadNormalizesSpendStrategy(t *testing.T) {
	t.Setenv("CREDITS_SPEND_STRATEGY", "Compensate")
	t.Setenv("CREDITS_PAGE_SIZE", "-3")

	cfg := Load()
	assert.Equal(t, SpendStrategyCompensate, cfg.Credits.SpendStrategy)
	assert.Equal(t, 20, cfg.Credits.PageSize)

	t.Setenv("CREDITS_SPEND_STRATEGY", "bogus")
	assert.Equal(t, SpendStrategyGuarded, Load().Credits.SpendStrategy)
}
