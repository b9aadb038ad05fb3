package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidPlayerID(t *testing.T) {
	valid := []string{"p1", "PLAYER-LX2K9ABCDEF12", "bot_runner-7", strings.Repeat("a", maxPlayerIDLength)}
	for _, id := range valid {
		assert.True(t, isValidPlayerID(id), id)
	}

	invalid := []string{"", "has space", "semi;colon", "ünïcode", "../etc", strings.Repeat("a", maxPlayerIDLength+1)}
	for _, id := range invalid {
		assert.False(t, isValidPlayerID(id), id)
	}
}
