package main

import "unicode"

const maxPlayerIDLength = 64

func isValidPlayerID(playerID string) bool {
	if playerID == "" || len(playerID) > maxPlayerIDLength {
		return false
	}

	for _, r := range playerID {
		if r == '-' || r == '_' {
			continue
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		return false
	}

	return true
}
