package main

import (
	"fmt"
	"strings"
	"time"
)

type UpgradeKind string

const (
	UpgradeAutoMiner  UpgradeKind = "autoMiner"
	UpgradeSuperClick UpgradeKind = "superClick"
)

var upgradeKinds = []UpgradeKind{UpgradeAutoMiner, UpgradeSuperClick}

func ParseUpgradeKind(raw string) (UpgradeKind, error) {
	switch UpgradeKind(strings.TrimSpace(raw)) {
	case UpgradeAutoMiner:
		return UpgradeAutoMiner, nil
	case UpgradeSuperClick:
		return UpgradeSuperClick, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownUpgrade, raw)
	}
}

// Upgrades holds one level per upgrade track.
type Upgrades struct {
	AutoMiner  int `json:"autoMiner"`
	SuperClick int `json:"superClick"`
}

func (u Upgrades) Level(kind UpgradeKind) int {
	switch kind {
	case UpgradeAutoMiner:
		return u.AutoMiner
	case UpgradeSuperClick:
		return u.SuperClick
	default:
		return 0
	}
}

func (u *Upgrades) increment(kind UpgradeKind) {
	switch kind {
	case UpgradeAutoMiner:
		u.AutoMiner++
	case UpgradeSuperClick:
		u.SuperClick++
	}
}

// PlayerState is a snapshot of one player's economy. Snapshots are values;
// changing one never changes what a Store holds.
type PlayerState struct {
	PlayerID       string     `json:"userId"`
	Coins          int64      `json:"coins"`
	Upgrades       Upgrades   `json:"upgrades"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	LastClickAt    *time.Time `json:"lastClickAt"`
	CreatedAt      time.Time  `json:"-"`
	Version        int64      `json:"-"`
}

func newPlayerState(playerID string, now time.Time) PlayerState {
	now = now.UTC()
	return PlayerState{
		PlayerID:       playerID,
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// Clone returns a copy that shares no pointers with s.
func (s PlayerState) Clone() PlayerState {
	if s.LastClickAt != nil {
		t := *s.LastClickAt
		s.LastClickAt = &t
	}
	return s
}

// checkpointAt never lets an action move the accrual checkpoint backwards,
// even if the caller's clock is behind the stored one.
func (s PlayerState) checkpointAt(now time.Time) time.Time {
	if now.Before(s.LastActivityAt) {
		return s.LastActivityAt
	}
	return now
}
