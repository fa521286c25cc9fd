package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/district-airquality/internal/weather"
)

type fakeFetcher struct {
	fail map[string]error

	mu       sync.Mutex
	inFlight int
	maxSeen  int
	block    time.Duration
}

func (f *fakeFetcher) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	f.mu.Lock()
	f.inFlight++
	f.maxSeen = max(f.maxSeen, f.inFlight)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.block > 0 {
		time.Sleep(f.block)
	}
	if err := f.fail[loc.ID]; err != nil {
		return weather.Reading{}, err
	}
	return weather.Reading{DistrictID: loc.ID, Components: weather.Components{PM25: 10}}, nil
}

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func locations(n int) []weather.Location {
	locs := make([]weather.Location, n)
	for i := range locs {
		locs[i] = weather.Location{ID: fmt.Sprintf("%d", 1000+i), DistrictEN: fmt.Sprintf("d%d", i)}
	}
	return locs
}

func TestBatcher_GroupsAndDelays(t *testing.T) {
	cases := []struct {
		n, size        int
		groups, delays int
	}{
		{n: 30, size: 25, groups: 2, delays: 1},
		{n: 25, size: 25, groups: 1, delays: 0},
		{n: 26, size: 25, groups: 2, delays: 1},
		{n: 100, size: 25, groups: 4, delays: 3},
		{n: 1, size: 25, groups: 1, delays: 0},
		{n: 0, size: 25, groups: 0, delays: 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_by_%d", tc.n, tc.size), func(t *testing.T) {
			rs := &recordingSleep{}
			b := NewBatcher(&fakeFetcher{}, tc.size, 70*time.Second, WithSleep(rs.sleep))

			res, err := b.Run(context.Background(), locations(tc.n))
			require.NoError(t, err)
			assert.Equal(t, tc.groups, res.Groups)
			assert.Equal(t, tc.delays, res.Delays)
			assert.Len(t, rs.calls, tc.delays)
			for _, d := range rs.calls {
				assert.Equal(t, 70*time.Second, d)
			}
			assert.Len(t, res.Readings(), tc.n)
		})
	}
}

func TestBatcher_FailuresDoNotAffectSiblings(t *testing.T) {
	f := &fakeFetcher{fail: map[string]error{
		"1001": &weather.FetchError{LocationID: "1001", Stage: weather.StagePollution, Kind: weather.FailureMalformed, Err: weather.ErrEmptyPollution},
		"1027": errors.New("boom"),
	}}
	rs := &recordingSleep{}
	b := NewBatcher(f, 25, time.Second, WithSleep(rs.sleep))

	res, err := b.Run(context.Background(), locations(30))
	require.NoError(t, err)

	assert.Len(t, res.Outcomes, 30)
	assert.Len(t, res.Readings(), 28)
	failures := res.Failures()
	require.Len(t, failures, 2)
	ids := []string{failures[0].Location.ID, failures[1].Location.ID}
	assert.ElementsMatch(t, []string{"1001", "1027"}, ids)
	for _, r := range res.Readings() {
		assert.NotEqual(t, "1001", r.DistrictID)
	}
}

// resettingFetcher records, per group reset, how many fetches had started.
type resettingFetcher struct {
	fakeFetcher
	fetches atomic.Int32
	resets  []int32
}

func (f *resettingFetcher) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	f.fetches.Add(1)
	return f.fakeFetcher.Fetch(ctx, loc)
}

func (f *resettingFetcher) ResetBreaker() {
	f.resets = append(f.resets, f.fetches.Load())
}

func TestBatcher_ResetsBreakerBeforeEachGroup(t *testing.T) {
	f := &resettingFetcher{}
	b := NewBatcher(f, 4, time.Second, WithSleep((&recordingSleep{}).sleep))

	res, err := b.Run(context.Background(), locations(10))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Groups)
	assert.Equal(t, []int32{0, 4, 8}, f.resets)
}

func TestBatcher_GroupOrderPreserved(t *testing.T) {
	rs := &recordingSleep{}
	b := NewBatcher(&fakeFetcher{}, 3, time.Second, WithSleep(rs.sleep))

	res, err := b.Run(context.Background(), locations(7))
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 7)

	groupOf := func(id string) int {
		var n int
		fmt.Sscanf(id, "%d", &n)
		return (n - 1000) / 3
	}
	for i := 1; i < len(res.Outcomes); i++ {
		assert.LessOrEqual(t, groupOf(res.Outcomes[i-1].Location.ID), groupOf(res.Outcomes[i].Location.ID))
	}
}

func TestBatcher_GroupRunsConcurrently(t *testing.T) {
	f := &fakeFetcher{block: 20 * time.Millisecond}
	rs := &recordingSleep{}
	b := NewBatcher(f, 5, time.Second, WithSleep(rs.sleep))

	_, err := b.Run(context.Background(), locations(5))
	require.NoError(t, err)
	assert.Greater(t, f.maxSeen, 1)
	assert.LessOrEqual(t, f.maxSeen, 5)
}

func TestBatcher_CancelDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBatcher(&fakeFetcher{}, 2, time.Hour, WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	res, err := b.Run(ctx, locations(5))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, res.Groups)
	assert.Len(t, res.Outcomes, 2)
}

type countingObserver struct {
	n atomic.Int32
}

func (c *countingObserver) ObserveOutcome(weather.Outcome) { c.n.Add(1) }

func TestBatcher_NotifiesObserver(t *testing.T) {
	obs := &countingObserver{}
	rs := &recordingSleep{}
	b := NewBatcher(&fakeFetcher{}, 4, time.Second, WithSleep(rs.sleep), WithObserver(obs))

	_, err := b.Run(context.Background(), locations(9))
	require.NoError(t, err)
	assert.EqualValues(t, 9, obs.n.Load())
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
