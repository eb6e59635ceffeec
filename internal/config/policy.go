package config

import (
	"errors"
	"log"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PenaltyTier maps an order-value bracket to the extra points charged when
// an order in that bracket is cancelled. MinAmount is exclusive: a tier
// applies when the order's final amount is strictly greater than MinAmount.
type PenaltyTier struct {
	MinAmount int64 `mapstructure:"minAmount"`
	Points    int64 `mapstructure:"points"`
}

// PolicyConfig holds the cancellation penalty schedule.
type PolicyConfig struct {
	PenaltyTiers []PenaltyTier `mapstructure:"penaltyTiers"`
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		PenaltyTiers: []PenaltyTier{
			{MinAmount: 200, Points: 50},
			{MinAmount: 100, Points: 25},
			{MinAmount: 0, Points: 10},
		},
	}
}

// PenaltyFor returns the tier penalty for an order of the given final amount.
func (c PolicyConfig) PenaltyFor(finalAmount int64) int64 {
	for _, tier := range c.PenaltyTiers {
		if finalAmount > tier.MinAmount {
			return tier.Points
		}
	}
	if n := len(c.PenaltyTiers); n > 0 {
		return c.PenaltyTiers[n-1].Points
	}
	return 0
}

// PolicyHolder serves the current policy and swaps it atomically on reload.
type PolicyHolder struct {
	current atomic.Value // holds PolicyConfig
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("loyalty")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/loyalty/config")
	v.AddConfigPath("/etc/loyalty")
	v.AddConfigPath(".")

	v.SetEnvPrefix("LOYALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultPolicyConfig()
	if fileFound {
		if err := v.UnmarshalKey("cancellation", &cfg); err != nil {
			return nil, err
		}
		normalizePolicy(&cfg)
		if err := validatePolicyConfig(cfg); err != nil {
			return nil, err
		}
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated PolicyConfig
			if err := v.UnmarshalKey("cancellation", &updated); err != nil {
				log.Printf("[loyalty-config] reload failed: %v", err)
				return
			}
			normalizePolicy(&updated)
			if err := validatePolicyConfig(updated); err != nil {
				log.Printf("[loyalty-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[loyalty-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *PolicyHolder) Get() PolicyConfig {
	return h.current.Load().(PolicyConfig)
}

// NewStaticPolicyHolder builds a holder around a fixed config, for tests.
func NewStaticPolicyHolder(cfg PolicyConfig) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func normalizePolicy(cfg *PolicyConfig) {
	// PenaltyFor takes the first matching bracket, so tiers must be
	// ordered from the highest threshold down.
	sort.Slice(cfg.PenaltyTiers, func(i, j int) bool {
		return cfg.PenaltyTiers[i].MinAmount > cfg.PenaltyTiers[j].MinAmount
	})
}

func validatePolicyConfig(cfg PolicyConfig) error {
	if len(cfg.PenaltyTiers) == 0 {
		return errors.New("cancellation.penaltyTiers cannot be empty")
	}
	for _, tier := range cfg.PenaltyTiers {
		if tier.MinAmount < 0 {
			return errors.New("cancellation.penaltyTiers minAmount cannot be negative")
		}
		if tier.Points < 0 {
			return errors.New("cancellation.penaltyTiers points cannot be negative")
		}
	}
	return nil
}
