// Package scheduler batches configured vcontrold commands under a
// character budget and polls them on a fixed interval, skipping cycles
// while the MQTT broker is unreachable.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tma/vcontrold-mqttd/pkg/daemon"
	"github.com/tma/vcontrold-mqttd/pkg/publish"
)

// BatchCommands groups commands into batches whose comma-joined length
// never exceeds maxLength, except that a single command longer than
// maxLength is still emitted alone rather than dropped.
//
//	current = []; length = 0
//	for each command in commands:
//	    if current is non-empty and length + 1 + len(command) > maxLength:
//	        emit(current); current = []; length = 0
//	    append command to current
//	    length = len(command) if it is first in current, else length + 1 + len(command)
//	emit(current) if non-empty
func BatchCommands(commands []string, maxLength int) [][]string {
	var batches [][]string
	var current []string
	currentLength := 0

	for _, cmd := range commands {
		separatorLen := 0
		if len(current) > 0 {
			separatorLen = 1
		}

		if currentLength+separatorLen+len(cmd) > maxLength && len(current) > 0 {
			batches = append(batches, current)
			current = nil
			currentLength = 0
		}

		current = append(current, cmd)
		if currentLength == 0 {
			currentLength = len(cmd)
		} else {
			currentLength += 1 + len(cmd)
		}
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

// Executor runs a batch of vcontrold commands.
type Executor interface {
	ExecuteBatch(commands []string) []daemon.Result
}

// Publisher publishes a retained result.
type Publisher interface {
	PublishRetained(ctx context.Context, topic, payload string) error
}

// ConnectivityChecker reports whether the MQTT session currently holds a
// live connection.
type ConnectivityChecker interface {
	Connected() bool
}

// Scheduler owns the pre-computed command batches and drives the periodic
// polling cycle.
type Scheduler struct {
	vcontrold Executor
	pub       Publisher
	conn      ConnectivityChecker
	baseTopic string
	batches   [][]string
	debug     bool
	log       *logrus.Entry
}

// New pre-batches commands under maxLength. Returns nil if commands is
// empty; callers should skip launching the scheduler entirely in that case.
func New(commands []string, maxLength int, vcontrold Executor, pub Publisher, conn ConnectivityChecker, baseTopic string, debug bool) *Scheduler {
	if len(commands) == 0 {
		return nil
	}

	batches := BatchCommands(commands, maxLength)
	log := logrus.WithField("component", "scheduler")
	log.WithFields(logrus.Fields{
		"commands": len(commands),
		"batches":  len(batches),
	}).Info("scheduler configured")

	if debug {
		for i, b := range batches {
			log.WithField("batch", i+1).Debugf("batch contents: %s", strings.Join(b, ","))
		}
	}

	return &Scheduler{
		vcontrold: vcontrold,
		pub:       pub,
		conn:      conn,
		baseTopic: baseTopic,
		batches:   batches,
		debug:     debug,
		log:       log,
	}
}

// Run polls on every tick of interval until ctx is cancelled. A plain
// time.Ticker already discards ticks missed while the previous cycle was
// still running (its channel holds at most one pending tick), matching the
// original's explicit skip-missed-ticks interval policy.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	return s.run(ctx, ticker.C)
}

// run is the tick-channel-driven core, split out so tests can supply a
// synthetic channel instead of a real wall-clock ticker.
func (s *Scheduler) run(ctx context.Context, ticks <-chan time.Time) error {
	wasDisconnected := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			if !s.conn.Connected() {
				if !wasDisconnected {
					s.log.Warn("MQTT broker disconnected, skipping polling cycles")
					wasDisconnected = true
				}
				continue
			}
			if wasDisconnected {
				s.log.Info("MQTT broker reconnected, resuming polling")
				wasDisconnected = false
			}

			s.runCycle(ctx)
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	s.log.Debug("starting polling cycle")

	for i, batch := range s.batches {
		if s.debug {
			s.log.Debugf("executing batch %d: %s", i+1, strings.Join(batch, ","))
		}

		results := s.vcontrold.ExecuteBatch(batch)

		successful := make([]daemon.Result, 0, len(results))
		for _, r := range results {
			if r.Err != nil {
				s.log.WithError(r.Err).Errorf("failed to execute command in batch %d", i+1)
				continue
			}
			if r.CommandResult.HasError() {
				s.log.WithField("command", r.CommandResult.Command).
					Warnf("command returned error: %s", r.CommandResult.Error)
				continue
			}
			successful = append(successful, r)
		}

		for _, r := range successful {
			publish.Result(ctx, s.pub, s.baseTopic, r.CommandResult, s.log)
		}
	}

	s.log.Debug("polling cycle complete")
}
