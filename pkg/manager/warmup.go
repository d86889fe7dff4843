package manager

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// warmupWorkers bounds concurrent identity lookups during warmup
const warmupWorkers = 4

// Warmup resolves the identity of every tracked user so the first
// leaderboard does not wait on the platform. perSecond <= 0 disables rate
// limiting. Failed lookups are logged and skipped.
func (m *Manager) Warmup(ctx context.Context, perSecond float64) error {
	ids := m.UserIDs()
	m.logger.Info().Int("users", len(ids)).Msg("Warming up")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmupWorkers)
	for _, id := range ids {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		id := id
		g.Go(func() error {
			if _, err := m.users.Get(gctx, id); err != nil {
				m.logger.Warn().Err(err).Str("user_id", id).Msg("Warmup lookup failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.logger.Info().Int("cached", m.users.Len()).Msg("Warmup finished")
	return nil
}
