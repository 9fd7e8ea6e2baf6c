package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/summitflow/summitflow-term/internal/workerutil"
)

const pollInterval = 15 * time.Second

// Sampler returns the current value of a gauge Poll should publish.
type Sampler func() int

// Poll launches a panic-recovering background loop that samples the given
// functions every 15s and publishes them to the corresponding gauges. The
// loop runs until ctx is cancelled; wg is the caller's shutdown WaitGroup.
func Poll(ctx context.Context, wg *sync.WaitGroup, activeBridges, liveSessions, paneCount Sampler) {
	m := Get()
	workerutil.RunWithPanicRecovery(ctx, "metrics-poll", wg, func(ctx context.Context) {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.ActiveBridges.Set(float64(activeBridges()))
				m.LiveSessions.Set(float64(liveSessions()))
				m.PaneCount.Set(float64(paneCount()))
			}
		}
	}, workerutil.RecoveryOptions{})
}
