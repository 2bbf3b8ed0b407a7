package event

import (
	"context"
	"time"
)

// Heartbeats publishes a heartbeat on the given interval while
// at least one subscriber is connected, so long-lived stream
// connections stay alive and stalls are detectable. It blocks
// until ctx is cancelled.
func Heartbeats(ctx context.Context, b Bus, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.Stats().Subscribers > 0 {
				b.Publish(TypeHeartbeat, &Heartbeat{Timestamp: time.Now().UTC()})
			}
		}
	}
}
