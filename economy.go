package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxLevel is the highest level either upgrade track can reach.
const MaxLevel = 4

// EconomyConfig holds the level tables. Level tables are indexed by the
// current level; cost tables by the level being upgraded from.
type EconomyConfig struct {
	ClickCooldownMs      int64               `yaml:"click_cooldown_ms"`
	BaseClick            int64               `yaml:"base_click"`
	ClickBonusPerLevel   int64               `yaml:"click_bonus_per_level"`
	AutoMinerIntervalsMs [MaxLevel + 1]int64 `yaml:"auto_miner_intervals_ms"`
	AutoMinerRates       [MaxLevel + 1]int64 `yaml:"auto_miner_rates"`
	AutoMinerCosts       [MaxLevel]int64     `yaml:"auto_miner_costs"`
	SuperClickCosts      [MaxLevel]int64     `yaml:"super_click_costs"`
}

func DefaultEconomyConfig() EconomyConfig {
	return EconomyConfig{
		ClickCooldownMs:      5000,
		BaseClick:            1,
		ClickBonusPerLevel:   1,
		AutoMinerIntervalsMs: [MaxLevel + 1]int64{0, 30000, 15000, 10000, 5000},
		AutoMinerRates:       [MaxLevel + 1]int64{0, 1, 2, 3, 4},
		AutoMinerCosts:       [MaxLevel]int64{10, 100, 1000, 10000},
		SuperClickCosts:      [MaxLevel]int64{5, 50, 500, 5000},
	}
}

// LoadEconomyConfig reads a YAML table file over the defaults. An empty path
// returns the defaults.
func LoadEconomyConfig(path string) (EconomyConfig, error) {
	cfg := DefaultEconomyConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse economy config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("economy config %s: %w", path, err)
	}
	return cfg, nil
}

func (c EconomyConfig) Validate() error {
	if c.ClickCooldownMs <= 0 {
		return errors.New("click_cooldown_ms must be positive")
	}
	if c.BaseClick <= 0 {
		return errors.New("base_click must be positive")
	}
	if c.ClickBonusPerLevel < 0 {
		return errors.New("click_bonus_per_level must not be negative")
	}
	if c.AutoMinerIntervalsMs[0] != 0 || c.AutoMinerRates[0] != 0 {
		return errors.New("auto miner level 0 must not accrue")
	}
	for level := 1; level <= MaxLevel; level++ {
		if c.AutoMinerIntervalsMs[level] <= 0 {
			return fmt.Errorf("auto_miner_intervals_ms[%d] must be positive", level)
		}
		if c.AutoMinerRates[level] <= 0 {
			return fmt.Errorf("auto_miner_rates[%d] must be positive", level)
		}
		if level > 1 && c.AutoMinerIntervalsMs[level] >= c.AutoMinerIntervalsMs[level-1] {
			return fmt.Errorf("auto_miner_intervals_ms must decrease with level (level %d)", level)
		}
	}
	for _, costs := range [][MaxLevel]int64{c.AutoMinerCosts, c.SuperClickCosts} {
		for level := 0; level < MaxLevel; level++ {
			if costs[level] <= 0 {
				return fmt.Errorf("upgrade cost at level %d must be positive", level)
			}
			if level > 0 && costs[level] <= costs[level-1] {
				return fmt.Errorf("upgrade costs must increase with level (level %d)", level)
			}
		}
	}
	return nil
}

// CostOf returns the price of moving kind from currentLevel to
// currentLevel+1. ok is false at MaxLevel or for an unknown kind.
func (c EconomyConfig) CostOf(kind UpgradeKind, currentLevel int) (int64, bool) {
	if currentLevel < 0 || currentLevel >= MaxLevel {
		return 0, false
	}
	switch kind {
	case UpgradeAutoMiner:
		return c.AutoMinerCosts[currentLevel], true
	case UpgradeSuperClick:
		return c.SuperClickCosts[currentLevel], true
	default:
		return 0, false
	}
}

// AccrualRate is coins credited per completed interval.
func (c EconomyConfig) AccrualRate(autoMinerLevel int) int64 {
	if autoMinerLevel <= 0 || autoMinerLevel > MaxLevel {
		return 0
	}
	return c.AutoMinerRates[autoMinerLevel]
}

// Interval is zero when the auto miner is not owned.
func (c EconomyConfig) Interval(autoMinerLevel int) time.Duration {
	if autoMinerLevel <= 0 || autoMinerLevel > MaxLevel {
		return 0
	}
	return time.Duration(c.AutoMinerIntervalsMs[autoMinerLevel]) * time.Millisecond
}

func (c EconomyConfig) ClickGain(superClickLevel int) int64 {
	if superClickLevel < 0 {
		superClickLevel = 0
	}
	if superClickLevel > MaxLevel {
		superClickLevel = MaxLevel
	}
	return c.BaseClick + int64(superClickLevel)*c.ClickBonusPerLevel
}

func (c EconomyConfig) Cooldown() time.Duration {
	return time.Duration(c.ClickCooldownMs) * time.Millisecond
}
