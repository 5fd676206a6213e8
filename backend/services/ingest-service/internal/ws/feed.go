package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"parkngo/backend/parking"
)

// SessionLister supplies the sessions worth broadcasting.
type SessionLister interface {
	LiveSessions(ctx context.Context) ([]parking.SessionRecord, error)
}

// Feed periodically snapshots live sessions and broadcasts them through the hub.
type Feed struct {
	hub      *Hub
	lister   SessionLister
	interval time.Duration
	logger   *zap.Logger
}

type feedSession struct {
	ID string `json:"id"`
	parking.Session
}

// NewFeed builds the feed poller.
func NewFeed(hub *Hub, lister SessionLister, interval time.Duration, logger *zap.Logger) *Feed {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feed{hub: hub, lister: lister, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.broadcastOnce(ctx)
		}
	}
}

func (f *Feed) broadcastOnce(ctx context.Context) {
	sessions, err := f.lister.LiveSessions(ctx)
	if err != nil {
		f.logger.Warn("feed snapshot failed", zap.Error(err))
		return
	}

	views := make([]feedSession, 0, len(sessions))
	for _, rec := range sessions {
		views = append(views, feedSession{ID: rec.ID, Session: rec.Session})
	}
	msg, err := json.Marshal(map[string]interface{}{
		"ts":       time.Now().Unix(),
		"sessions": views,
	})
	if err != nil {
		f.logger.Warn("feed encode failed", zap.Error(err))
		return
	}
	f.hub.Broadcast(msg)
}
