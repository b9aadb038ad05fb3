package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// gameMetrics is safe to use as a nil pointer; every method is a no-op then.
type gameMetrics struct {
	registry *prometheus.Registry

	actions      *prometheus.CounterVec
	coinsCredit  *prometheus.CounterVec
	coinsSpent   *prometheus.CounterVec
	conflicts    prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func newGameMetrics() *gameMetrics {
	m := &gameMetrics{
		registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coin_miner",
				Subsystem: "engine",
				Name:      "actions_total",
				Help:      "Player actions by outcome.",
			},
			[]string{"action", "result"},
		),
		coinsCredit: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coin_miner",
				Subsystem: "engine",
				Name:      "coins_credited_total",
				Help:      "Coins credited to players by source.",
			},
			[]string{"source"},
		),
		coinsSpent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coin_miner",
				Subsystem: "engine",
				Name:      "coins_spent_total",
				Help:      "Coins debited for upgrades by upgrade kind.",
			},
			[]string{"upgrade"},
		),
		conflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coin_miner",
				Subsystem: "engine",
				Name:      "state_conflicts_total",
				Help:      "Store writes rejected because the player changed concurrently.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coin_miner",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coin_miner",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
			},
			[]string{"method", "route"},
		),
	}

	m.registry.MustRegister(
		m.actions,
		m.coinsCredit,
		m.coinsSpent,
		m.conflicts,
		m.httpRequests,
		m.httpDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *gameMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *gameMetrics) observeAction(action string, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(action, actionResult(err)).Inc()
}

func (m *gameMetrics) creditCoins(source string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.coinsCredit.WithLabelValues(source).Add(float64(amount))
}

func (m *gameMetrics) spendCoins(upgrade string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.coinsSpent.WithLabelValues(upgrade).Add(float64(amount))
}

func (m *gameMetrics) observeConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

func (m *gameMetrics) observeRequest(method, route string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(took.Seconds())
}

func actionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCooldownActive):
		return "cooldown"
	case errors.Is(err, ErrNotEnoughCoins):
		return "not_enough_coins"
	case errors.Is(err, ErrMaxLevelReached):
		return "max_level"
	case errors.Is(err, ErrUnknownUpgrade):
		return "unknown_upgrade"
	case errors.Is(err, ErrPlayerNotFound):
		return "not_found"
	case errors.Is(err, ErrStateConflict):
		return "conflict"
	default:
		return "error"
	}
}
