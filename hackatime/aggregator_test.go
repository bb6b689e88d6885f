package hackatime

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeClient struct {
	calls int
	stats []ProjectStat
	err   error
}

func (f *fakeClient) Stats(ctx context.Context, userID, startDate, endDate string) ([]ProjectStat, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.stats, nil
}

func TestTotalSecondsExactNameMatch(t *testing.T) {
	client := &fakeClient{stats: []ProjectStat{
		{Name: "castle", TotalSeconds: 3600},
		{Name: "castle-v2", TotalSeconds: 1800},
		{Name: "moat", TotalSeconds: 900},
	}}
	agg := NewAggregator(client, nil)

	got := agg.TotalSeconds(context.Background(), "U123", []string{"castle", "moat"}, "2025-08-04", "2025-08-10")
	if got != 4500 {
		t.Fatalf("expected 4500 seconds, got %d", got)
	}
}

func TestTotalSecondsNoNames(t *testing.T) {
	client := &fakeClient{stats: []ProjectStat{{Name: "castle", TotalSeconds: 3600}}}
	agg := NewAggregator(client, nil)

	if got := agg.TotalSeconds(context.Background(), "U123", nil, "2025-08-04", "2025-08-10"); got != 0 {
		t.Fatalf("expected 0 for empty name list, got %d", got)
	}
	if client.calls != 0 {
		t.Fatalf("expected no upstream call, got %d", client.calls)
	}
}

func TestProjectStatsCacheHit(t *testing.T) {
	client := &fakeClient{stats: []ProjectStat{{Name: "castle", TotalSeconds: 60}}}
	agg := NewAggregator(client, nil)
	ctx := context.Background()

	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	if client.calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", client.calls)
	}
}

type prefixedFakeClient struct {
	fakeClient
	prefix string
}

func (f *prefixedFakeClient) NormalizeUserID(userID string) string {
	return strings.TrimPrefix(userID, f.prefix)
}

func TestProjectStatsCacheKeyedOnNormalizedUserID(t *testing.T) {
	client := &prefixedFakeClient{
		fakeClient: fakeClient{stats: []ProjectStat{{Name: "castle", TotalSeconds: 60}}},
		prefix:     "T0266FRGM-",
	}
	agg := NewAggregator(client, nil)
	ctx := context.Background()

	agg.ProjectStats(ctx, "T0266FRGM-U123", "2025-08-04", "2025-08-10")
	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	if client.calls != 1 {
		t.Fatalf("prefixed and stripped ids must share a cache entry, got %d calls", client.calls)
	}
}

func TestProjectStatsCacheExpiryForLiveRange(t *testing.T) {
	now := time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	client := &fakeClient{stats: []ProjectStat{{Name: "castle", TotalSeconds: 60}}}
	agg := NewAggregatorWithClock(client, nil, clock)
	ctx := context.Background()

	// End date covers today, so the short TTL applies.
	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	now = now.Add(6 * time.Minute)
	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	if client.calls != 2 {
		t.Fatalf("expected refetch after short TTL, got %d calls", client.calls)
	}
}

func TestProjectStatsCacheLongTTLForClosedRange(t *testing.T) {
	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	client := &fakeClient{stats: []ProjectStat{{Name: "castle", TotalSeconds: 60}}}
	agg := NewAggregatorWithClock(client, nil, clock)
	ctx := context.Background()

	// Range ended before today, so the entry survives well past 5 minutes.
	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	now = now.Add(6 * time.Minute)
	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	if client.calls != 1 {
		t.Fatalf("expected cached result for closed range, got %d calls", client.calls)
	}
}

func TestProjectStatsUpstreamFailureDegrades(t *testing.T) {
	client := &fakeClient{err: errors.New("boom")}
	agg := NewAggregator(client, nil)
	ctx := context.Background()

	stats := agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	if len(stats) != 0 {
		t.Fatalf("expected empty stats on failure, got %v", stats)
	}
	// Failures are not cached.
	agg.ProjectStats(ctx, "U123", "2025-08-04", "2025-08-10")
	if client.calls != 2 {
		t.Fatalf("expected retry after failure, got %d calls", client.calls)
	}
}

func TestNormalizeUserIDStripsTeamPrefix(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "https://hackatime.example", TeamPrefix: "T0266FRGM-"})
	if got := c.NormalizeUserID("T0266FRGM-U04QH1TTMBP"); got != "U04QH1TTMBP" {
		t.Fatalf("unexpected normalized id %q", got)
	}
	if got := c.NormalizeUserID("U04QH1TTMBP"); got != "U04QH1TTMBP" {
		t.Fatalf("unexpected normalized id %q", got)
	}
}
