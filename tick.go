package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const sweepPlayerTimeout = 5 * time.Second

// syncSweeper folds idle accrual into stored state for every known player,
// so balances move even for players who never poll.
type syncSweeper struct {
	engine *Engine
	log    *logrus.Logger
	cron   *cron.Cron
	cancel context.CancelFunc
}

type sweepResult struct {
	Synced    int
	Failed    int
	Collected int64
}

func newSyncSweeper(engine *Engine, logger *logrus.Logger) *syncSweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &syncSweeper{engine: engine, log: logger}
}

// Start runs the sweep on schedule until ctx is done or Stop is called.
// Overlapping runs are skipped.
func (s *syncSweeper) Start(ctx context.Context, schedule string) error {
	sweepCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(s.log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(s.log)),
	))
	if _, err := c.AddFunc(schedule, func() {
		s.RunOnce(sweepCtx)
	}); err != nil {
		cancel()
		return err
	}
	s.cron = c
	s.cancel = cancel
	c.Start()
	s.log.WithField("schedule", schedule).Info("sync sweep scheduled")
	return nil
}

// Stop cancels a sweep in flight and waits for it to return.
func (s *syncSweeper) Stop() {
	if s.cron == nil {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
}

// RunOnce syncs every player. A failure for one player is logged and does
// not stop the sweep.
func (s *syncSweeper) RunOnce(ctx context.Context) sweepResult {
	var res sweepResult
	ids, err := s.engine.PlayerIDs(ctx)
	if err != nil {
		s.log.WithError(err).Error("sync sweep: list players failed")
		return res
	}

	now := s.engine.Now()
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		playerCtx, cancel := context.WithTimeout(ctx, sweepPlayerTimeout)
		out, err := s.engine.Sync(playerCtx, id, now)
		cancel()
		if err != nil && ctx.Err() != nil {
			break
		}
		if err != nil {
			res.Failed++
			s.log.WithError(err).WithField("playerId", id).Warn("sync sweep: player sync failed")
			continue
		}
		res.Synced++
		res.Collected += out.Collected
	}

	s.log.WithFields(logrus.Fields{
		"synced":    res.Synced,
		"failed":    res.Failed,
		"collected": res.Collected,
		"stopped":   ctx.Err() != nil,
	}).Info("sync sweep finished")
	return res
}
