package services

import (
	"context"
	"time"

	"github.com/guido-cesarano/claimworker/pkg/logger"
)

// Notification is a message to a claimant.
type Notification struct {
	ClaimID string
	Email   string
	Text    string
}

// Notifier delivers notifications and returns when they were sent.
type Notifier interface {
	Notify(ctx context.Context, n Notification) (time.Time, error)
}

// LogNotifier only writes notifications to the log.
type LogNotifier struct {
	Now func() time.Time
}

func (l LogNotifier) Notify(_ context.Context, n Notification) (time.Time, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	sent := now().UTC()
	logger.Log.Info().
		Str("claim_id", n.ClaimID).
		Str("email", n.Email).
		Int("length", len(n.Text)).
		Time("sent_at", sent).
		Msg("Claimant notified")
	return sent, nil
}
