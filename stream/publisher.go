package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/hudsonhok/px4-control/estimator"
	"github.com/hudsonhok/px4-control/logging"
)

// SnapshotSource provides estimates, e.g. an *estimator.Service.
type SnapshotSource interface {
	Snapshot() estimator.Snapshot
}

// Publisher periodically broadcasts the latest snapshot through a hub. A snapshot is only
// sent once, so a stalled estimator produces no traffic.
type Publisher struct {
	src    SnapshotSource
	hub    *Hub
	period time.Duration
	log    logr.Logger

	lastSeq uint64
	sent    bool
}

// NewPublisher returns a publisher sending at most one snapshot per period.
func NewPublisher(src SnapshotSource, hub *Hub, period time.Duration, log logr.Logger) (*Publisher, error) {
	if period <= 0 {
		return nil, fmt.Errorf("publish period %s must be positive", period)
	}
	return &Publisher{src: src, hub: hub, period: period, log: log}, nil
}

// Run publishes until ctx is done or the hub stops.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.Publish(); err != nil {
				return err
			}
		}
	}
}

// Publish broadcasts the current snapshot if it is new, and reports whether it did.
func (p *Publisher) Publish() (bool, error) {
	snap := p.src.Snapshot()
	if p.sent && snap.Seq == p.lastSeq {
		return false, nil
	}
	msg, err := json.Marshal(NewMessage(snap))
	if err != nil {
		return false, fmt.Errorf("encoding snapshot %d: %w", snap.Seq, err)
	}
	if p.hub.Clients() == 0 {
		p.log.V(logging.TRACE).Info("No stream client, snapshot skipped", "seq", snap.Seq)
		return false, nil
	}
	if !p.hub.Broadcast(msg) {
		return false, fmt.Errorf("stream hub stopped")
	}
	p.lastSeq, p.sent = snap.Seq, true
	p.log.V(logging.TRACE).Info("Snapshot published", "seq", snap.Seq, "bytes", len(msg))
	return true, nil
}
