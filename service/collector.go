package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/models"
)

// activeUserRatio estimates daily active users from the total; login
// activity is not tracked.
const activeUserRatio = 0.1

const popularGenreLimit = 5

// HostProbe samples host resource usage.
type HostProbe interface {
	Sample(ctx context.Context) (load1 float64, memory models.MemoryUsage, diskPercent float64, err error)
}

// RequestSource hands out request counts accumulated since the last call.
type RequestSource interface {
	Drain() models.RequestStats
}

type MetricsStore interface {
	PushSystemMetric(ctx context.Context, m models.SystemMetric) error
	PushUserMetric(ctx context.Context, m models.UserMetric) error
	PushBookMetric(ctx context.Context, m models.BookMetric) error
	UsersCount(ctx context.Context) (int64, error)
	UsersCreatedSince(ctx context.Context, since time.Time) (int64, error)
	CountBooks(ctx context.Context) (int64, error)
	CountBooksSince(ctx context.Context, since time.Time) (int64, error)
	PopularGenres(ctx context.Context, limit int) ([]models.GenreCount, error)
}

// Collector records system samples and the daily user/book rollups into the
// analytics series.
type Collector struct {
	store    MetricsStore
	host     HostProbe
	requests RequestSource
	now      func() time.Time
}

func NewCollector(store MetricsStore, host HostProbe, requests RequestSource) *Collector {
	return &Collector{store: store, host: host, requests: requests, now: time.Now}
}

// CollectSystem pushes one system sample. Request counts are drained even when
// the host probe fails so the next sample does not double count.
func (c *Collector) CollectSystem(ctx context.Context) error {
	stats := c.requests.Drain()
	load1, memory, diskPct, err := c.host.Sample(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("host sample incomplete")
	}
	m := models.SystemMetric{
		Timestamp:   c.now().UTC(),
		CPUUsage:    load1,
		MemoryUsage: memory,
		DiskUsage:   diskPct,
		Requests:    stats,
	}
	if err := c.store.PushSystemMetric(ctx, m); err != nil {
		return fmt.Errorf("push system metric: %w", err)
	}
	return nil
}

// Rollup pushes the daily user and book summaries. "Today" starts at local
// midnight.
func (c *Collector) Rollup(ctx context.Context) error {
	now := c.now()
	today := StartOfDay(now)

	totalUsers, err := c.store.UsersCount(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	newUsers, err := c.store.UsersCreatedSince(ctx, today)
	if err != nil {
		return fmt.Errorf("count new users: %w", err)
	}
	totalBooks, err := c.store.CountBooks(ctx)
	if err != nil {
		return fmt.Errorf("count books: %w", err)
	}
	booksAdded, err := c.store.CountBooksSince(ctx, today)
	if err != nil {
		return fmt.Errorf("count new books: %w", err)
	}
	genres, err := c.store.PopularGenres(ctx, popularGenreLimit)
	if err != nil {
		return fmt.Errorf("popular genres: %w", err)
	}

	um := models.UserMetric{
		Date:        now.UTC(),
		TotalUsers:  totalUsers,
		ActiveUsers: int64(math.Round(float64(totalUsers) * activeUserRatio)),
		NewUsers:    newUsers,
	}
	bm := models.BookMetric{
		Date:          now.UTC(),
		TotalBooks:    totalBooks,
		BooksAdded:    booksAdded,
		PopularGenres: genres,
	}
	return errors.Join(c.store.PushUserMetric(ctx, um), c.store.PushBookMetric(ctx, bm))
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// UntilRollup is the wait before the next 23:59 local time. The rollup runs
// just before midnight so "today" is still the day being summarised.
func UntilRollup(now time.Time) time.Duration {
	y, m, d := now.Date()
	next := time.Date(y, m, d, 23, 59, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// GopsutilProbe reads load average, memory and disk usage of the host.
type GopsutilProbe struct {
	DiskPath string
}

func (p GopsutilProbe) Sample(ctx context.Context) (float64, models.MemoryUsage, float64, error) {
	var errs []error
	var load1 float64
	if avg, err := load.AvgWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("load: %w", err))
	} else {
		load1 = avg.Load1
	}

	var memory models.MemoryUsage
	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		memory = models.MemoryUsage{Total: vm.Total, Used: vm.Used, Free: vm.Free}
	}

	path := p.DiskPath
	if path == "" {
		path = "/"
	}
	var diskPct float64
	if u, err := disk.UsageWithContext(ctx, path); err != nil {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	} else {
		diskPct = u.UsedPercent
	}
	return load1, memory, diskPct, errors.Join(errs...)
}
