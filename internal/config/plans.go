package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PlanFree  = "free"
	PlanBasic = "basic"
	PlanPro   = "pro"
	PlanAdmin = "admin"
)

// PlansConfig maps a plan name to its monthly credit allotment.
type PlansConfig struct {
	Plans map[string]int64 `mapstructure:"plans"`
}

func DefaultPlansConfig() PlansConfig {
	return PlansConfig{
		Plans: map[string]int64{
			PlanFree:  10,
			PlanBasic: 100,
			PlanPro:   500,
			PlanAdmin: 0,
		},
	}
}

// Allotment returns the monthly credits for plan and whether the plan exists.
func (c PlansConfig) Allotment(plan string) (int64, bool) {
	v, ok := c.Plans[strings.ToLower(strings.TrimSpace(plan))]
	return v, ok
}

type PlansHolder struct {
	current atomic.Value // holds PlansConfig
}

// NewStaticPlans returns a holder that never reloads.
func NewStaticPlans(cfg PlansConfig) *PlansHolder {
	holder := &PlansHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPlansHolder(cfg Config, log *zap.Logger) (*PlansHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.plans")

	v := viper.New()
	if cfg.Credits.ConfigFile != "" {
		v.SetConfigFile(cfg.Credits.ConfigFile)
	} else {
		v.SetConfigName("credits")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/creditkit")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREDITKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPlansConfig()
	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfg.Credits.ConfigFile != "" {
			return nil, fmt.Errorf("read credits config: %w", err)
		}
		fileLoaded = false
		v.SetDefault("credits.plans", defaults.Plans)
	}

	current, err := decodePlans(v)
	if err != nil {
		return nil, err
	}

	holder := &PlansHolder{}
	holder.current.Store(current)

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodePlans(v)
			if err != nil {
				log.Warn("credits config reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("credits config reloaded", zap.String("file", e.Name))
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *PlansHolder) Get() PlansConfig {
	return h.current.Load().(PlansConfig)
}

func decodePlans(v *viper.Viper) (PlansConfig, error) {
	var cfg PlansConfig
	if err := v.UnmarshalKey("credits", &cfg); err != nil {
		return PlansConfig{}, err
	}
	normalized := make(map[string]int64, len(cfg.Plans))
	for name, credits := range cfg.Plans {
		normalized[strings.ToLower(strings.TrimSpace(name))] = credits
	}
	cfg.Plans = normalized
	if err := validatePlans(cfg); err != nil {
		return PlansConfig{}, err
	}
	return cfg, nil
}

func validatePlans(cfg PlansConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("credits.plans cannot be empty")
	}
	if _, ok := cfg.Plans[PlanFree]; !ok {
		return errors.New("credits.plans must define the free plan")
	}
	for name, credits := range cfg.Plans {
		if credits < 0 {
			return fmt.Errorf("credits.plans.%s cannot be negative", name)
		}
	}
	return nil
}
