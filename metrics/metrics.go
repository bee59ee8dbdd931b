// Package metrics logs periodic server stats, the ambient observability
// surface spec.md's non-goals exclude from the gameplay protocol itself
// but any real deployment still needs.
//
// Grounded on the teacher's RunMetrics (server/metrics.go): a ticker loop
// that logs a one-line summary, skipped when the server is idle.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/BeamMP/BeamMP-Server/world"
)

// Run logs player/car counts every interval until ctx is canceled.
func Run(ctx context.Context, w *world.World, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			players := w.Active()
			if len(players) == 0 {
				continue
			}
			cars := 0
			for _, p := range players {
				cars += p.CarCount()
			}
			slog.Info("metrics: snapshot", "players", len(players), "cars", cars)
		}
	}
}
