package main

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPlayerNotFound  = errors.New("player not found")
	ErrCooldownActive  = errors.New("cooldown active")
	ErrNotEnoughCoins  = errors.New("not enough coins")
	ErrMaxLevelReached = errors.New("max level reached")
	ErrUnknownUpgrade  = errors.New("unknown upgrade")

	// ErrStateConflict means the player state changed between read and
	// write. Stores return it from conditional mutations; the engine
	// surfaces it only after retries run out.
	ErrStateConflict = errors.New("player state changed concurrently")
)

// CooldownError reports how long the player must wait before mining again.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active: %dms remaining", e.Remaining.Milliseconds())
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// RemainingMs is the wait rounded up to whole milliseconds.
func (e *CooldownError) RemainingMs() int64 {
	ms := e.Remaining.Milliseconds()
	if time.Duration(ms)*time.Millisecond < e.Remaining {
		ms++
	}
	return ms
}
