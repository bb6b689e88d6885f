package hackatime

import (
	"context"
	"log/slog"
	"time"

	"github.com/hackclub/siege/observability"
)

// Aggregator sums tracked seconds for a user's selected activity names over
// a date range. Upstream failures degrade to zero rather than blocking the
// caller.
type Aggregator struct {
	client StatsClient
	cache  *statsCache
	logger *slog.Logger
}

// NewAggregator wraps a StatsClient with caching and failure handling.
func NewAggregator(client StatsClient, logger *slog.Logger) *Aggregator {
	return NewAggregatorWithClock(client, logger, time.Now)
}

// NewAggregatorWithClock allows tests to control cache expiry.
func NewAggregatorWithClock(client StatsClient, logger *slog.Logger, now func() time.Time) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{client: client, cache: newStatsCache(now), logger: logger}
}

// userIDNormalizer is implemented by clients that map aliases of one user
// to a single identifier.
type userIDNormalizer interface {
	NormalizeUserID(userID string) string
}

// ProjectStats returns cached per-activity totals for the inclusive range,
// fetching from upstream on a miss. A failed fetch returns an empty slice
// and is never cached. The cache is keyed on the normalized user ID so a
// prefixed and a stripped form of the same user share one entry.
func (a *Aggregator) ProjectStats(ctx context.Context, userID, startDate, endDate string) []ProjectStat {
	if n, ok := a.client.(userIDNormalizer); ok {
		userID = n.NormalizeUserID(userID)
	}
	key := cacheKey(userID, startDate, endDate)
	if stats, ok := a.cache.get(key); ok {
		observability.AggregatorLookups.WithLabelValues("hit").Inc()
		return stats
	}
	observability.AggregatorLookups.WithLabelValues("miss").Inc()

	stats, err := a.client.Stats(ctx, userID, startDate, endDate)
	if err != nil {
		observability.UpstreamFailures.WithLabelValues("hackatime").Inc()
		a.logger.Warn("hackatime fetch failed",
			slog.String("user_id", userID),
			slog.String("start_date", startDate),
			slog.String("end_date", endDate),
			slog.String("error", err.Error()))
		return []ProjectStat{}
	}
	a.cache.put(key, endDate, stats)
	return stats
}

// TotalSeconds sums tracked seconds across the given activity names over the
// inclusive range. Matching is exact on the name string.
func (a *Aggregator) TotalSeconds(ctx context.Context, userID string, names []string, startDate, endDate string) int64 {
	if len(names) == 0 {
		return 0
	}
	stats := a.ProjectStats(ctx, userID, startDate, endDate)
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}
	var total int64
	for _, st := range stats {
		if _, ok := wanted[st.Name]; ok {
			total += st.TotalSeconds
		}
	}
	return total
}
