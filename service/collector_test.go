package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kevinaaaquil/bookcatalog/metrics"
	"github.com/kevinaaaquil/bookcatalog/models"
)

type metricsStoreMock struct {
	system []models.SystemMetric
	users  []models.UserMetric
	books  []models.BookMetric
	since  []time.Time
}

func (m *metricsStoreMock) PushSystemMetric(_ context.Context, s models.SystemMetric) error {
	m.system = append(m.system, s)
	return nil
}

func (m *metricsStoreMock) PushUserMetric(_ context.Context, u models.UserMetric) error {
	m.users = append(m.users, u)
	return nil
}

func (m *metricsStoreMock) PushBookMetric(_ context.Context, b models.BookMetric) error {
	m.books = append(m.books, b)
	return nil
}

func (m *metricsStoreMock) UsersCount(context.Context) (int64, error) { return 25, nil }

func (m *metricsStoreMock) UsersCreatedSince(_ context.Context, since time.Time) (int64, error) {
	m.since = append(m.since, since)
	return 2, nil
}

func (m *metricsStoreMock) CountBooks(context.Context) (int64, error) { return 140, nil }

func (m *metricsStoreMock) CountBooksSince(_ context.Context, since time.Time) (int64, error) {
	m.since = append(m.since, since)
	return 6, nil
}

func (m *metricsStoreMock) PopularGenres(_ context.Context, limit int) ([]models.GenreCount, error) {
	return []models.GenreCount{{Genre: "Fantasy", Count: 40}, {Genre: "Mystery", Count: 22}}[:min(limit, 2)], nil
}

type probeFunc func(ctx context.Context) (float64, models.MemoryUsage, float64, error)

func (f probeFunc) Sample(ctx context.Context) (float64, models.MemoryUsage, float64, error) {
	return f(ctx)
}

func TestCollectSystemDrainsRequests(t *testing.T) {
	st := &metricsStoreMock{}
	counter := metrics.NewRequestCounter()
	counter.Record(200)
	counter.Record(201)
	counter.Record(404)

	probe := probeFunc(func(context.Context) (float64, models.MemoryUsage, float64, error) {
		return 0.75, models.MemoryUsage{Total: 100, Used: 60, Free: 40}, 42.5, nil
	})
	c := NewCollector(st, probe, counter)

	require.NoError(t, c.CollectSystem(context.Background()))
	require.Len(t, st.system, 1)
	got := st.system[0]
	require.Equal(t, 0.75, got.CPUUsage)
	require.Equal(t, uint64(60), got.MemoryUsage.Used)
	require.Equal(t, 42.5, got.DiskUsage)
	require.Equal(t, models.RequestStats{Total: 3, Successful: 2, Failed: 1}, got.Requests)
	require.Equal(t, models.RequestStats{}, counter.Snapshot())
}

func TestCollectSystemKeepsPartialSample(t *testing.T) {
	st := &metricsStoreMock{}
	probe := probeFunc(func(context.Context) (float64, models.MemoryUsage, float64, error) {
		return 1.5, models.MemoryUsage{}, 10, errors.New("memory: unsupported")
	})
	c := NewCollector(st, probe, metrics.NewRequestCounter())

	require.NoError(t, c.CollectSystem(context.Background()))
	require.Len(t, st.system, 1)
	require.Equal(t, 1.5, st.system[0].CPUUsage)
}

func TestRollup(t *testing.T) {
	st := &metricsStoreMock{}
	c := NewCollector(st, nil, metrics.NewRequestCounter())
	loc := time.FixedZone("test", 2*3600)
	c.now = func() time.Time { return time.Date(2024, 5, 1, 23, 59, 0, 0, loc) }

	require.NoError(t, c.Rollup(context.Background()))
	require.Len(t, st.users, 1)
	require.Equal(t, models.UserMetric{
		Date:        time.Date(2024, 5, 1, 21, 59, 0, 0, time.UTC),
		TotalUsers:  25,
		ActiveUsers: 3,
		NewUsers:    2,
	}, st.users[0])
	require.Equal(t, int64(140), st.books[0].TotalBooks)
	require.Equal(t, int64(6), st.books[0].BooksAdded)
	require.Len(t, st.books[0].PopularGenres, 2)
	for _, s := range st.since {
		require.True(t, s.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, loc)))
	}
}

func TestUntilRollup(t *testing.T) {
	now := time.Date(2024, 5, 1, 22, 30, 0, 0, time.UTC)
	require.Equal(t, 89*time.Minute, UntilRollup(now))
	require.Equal(t, 23*time.Hour+59*time.Minute, UntilRollup(StartOfDay(now)))

	at := time.Date(2024, 5, 1, 23, 59, 0, 0, time.UTC)
	require.Equal(t, 24*time.Hour, UntilRollup(at))
	require.Equal(t, 24*time.Hour-time.Second, UntilRollup(at.Add(time.Second)))
}
