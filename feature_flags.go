package main

import (
	"os"
	"strings"
)

type FeatureFlags struct {
	SyncSweep bool
	Metrics   bool
	RateLimit bool
}

func loadFeatureFlags() FeatureFlags {
	return FeatureFlags{
		SyncSweep: envFlag("ENABLE_SYNC_SWEEP", true),
		Metrics:   envFlag("ENABLE_METRICS", true),
		RateLimit: envFlag("ENABLE_RATE_LIMIT", true),
	}
}

func envFlag(name string, fallback bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if val == "" {
		return fallback
	}
	return val == "true" || val == "1" || val == "yes" || val == "on"
}
