package attendance

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"attendance/internal/civil"
)

// DefaultExpectedDays is the documented proxy denominator for attendance
// rate. There is no class-calendar model to compute a true expected-days
// count; callers can override it per request.
const DefaultExpectedDays = 30

// DashboardCachePrefix keys cached dashboard rollups in Redis. The worker
// deletes everything under it when new records land.
const DashboardCachePrefix = "stats:dashboard:"

// Bucket is one (type, status) count from the store.
type Bucket struct {
	Type   Type
	Status Status
	Count  int
}

// TrendPoint is one day of the dashboard trend.
type TrendPoint struct {
	Day     string `json:"day"`
	Total   int    `json:"total"`
	Present int    `json:"present"`
	Late    int    `json:"late"`
	Absent  int    `json:"absent"`
}

// StatsStore is the read side the aggregator runs on.
type StatsStore interface {
	CountByTypeStatus(ctx context.Context, userID, fromDay, toDay string) ([]Bucket, error)
	TrendByDay(ctx context.Context, fromDay, toDay string) ([]TrendPoint, error)
}

// Counts is a present/late/absent rollup.
type Counts struct {
	Total   int `json:"total"`
	Present int `json:"present"`
	Late    int `json:"late"`
	Absent  int `json:"absent"`
}

// UserStats is the per-user rollup.
type UserStats struct {
	UserID         string       `json:"user_id"`
	FromDay        string       `json:"from_day"`
	ToDay          string       `json:"to_day"`
	Counts         Counts       `json:"counts"`
	ByType         map[Type]int `json:"by_type"`
	ExpectedDays   int          `json:"expected_days"`
	AttendanceRate float64      `json:"attendance_rate"`
}

// Dashboard is the cross-user rollup.
type Dashboard struct {
	FromDay string       `json:"from_day"`
	ToDay   string       `json:"to_day"`
	Overall Counts       `json:"overall"`
	ByType  map[Type]int `json:"by_type"`
	Trend   []TrendPoint `json:"daily_trend"`
}

// Aggregator computes rollups over persisted records. It shares the calendar
// with the recorder so "today" and "this month" cannot drift between the two.
type Aggregator struct {
	store    StatsStore
	cal      *civil.Calendar
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewAggregator creates an aggregator. cache may be nil to disable caching.
func NewAggregator(store StatsStore, cal *civil.Calendar, cache *redis.Client, cacheTTL time.Duration) *Aggregator {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Aggregator{store: store, cal: cal, cache: cache, cacheTTL: cacheTTL}
}

// dayRange resolves an optional range to civil-day keys, defaulting to the
// current civil month.
func (a *Aggregator) dayRange(from, to time.Time) (string, string) {
	now := a.cal.Now()
	if from.IsZero() {
		from = a.cal.StartOfMonth(now)
	}
	if to.IsZero() {
		to = a.cal.EndOfMonth(now)
	}
	return a.cal.DayOf(from), a.cal.DayOf(to)
}

// UserStats computes the per-user rollup over the range. expectedDays <= 0
// uses the default proxy.
func (a *Aggregator) UserStats(ctx context.Context, userID string, from, to time.Time, expectedDays int) (UserStats, error) {
	fromDay, toDay := a.dayRange(from, to)
	buckets, err := a.store.CountByTypeStatus(ctx, userID, fromDay, toDay)
	if err != nil {
		return UserStats{}, err
	}
	if expectedDays <= 0 {
		expectedDays = DefaultExpectedDays
	}
	counts, byType := fold(buckets)
	return UserStats{
		UserID:         userID,
		FromDay:        fromDay,
		ToDay:          toDay,
		Counts:         counts,
		ByType:         byType,
		ExpectedDays:   expectedDays,
		AttendanceRate: rate(counts.Present, expectedDays),
	}, nil
}

// Dashboard computes the cross-user rollup with a daily trend, serving from
// the Redis cache when possible.
func (a *Aggregator) Dashboard(ctx context.Context, from, to time.Time) (Dashboard, error) {
	fromDay, toDay := a.dayRange(from, to)
	key := DashboardCachePrefix + fromDay + ":" + toDay

	if a.cache != nil {
		if raw, err := a.cache.Get(ctx, key).Bytes(); err == nil {
			var cached Dashboard
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		}
	}

	buckets, err := a.store.CountByTypeStatus(ctx, "", fromDay, toDay)
	if err != nil {
		return Dashboard{}, err
	}
	trend, err := a.store.TrendByDay(ctx, fromDay, toDay)
	if err != nil {
		return Dashboard{}, err
	}
	counts, byType := fold(buckets)
	d := Dashboard{FromDay: fromDay, ToDay: toDay, Overall: counts, ByType: byType, Trend: trend}

	if a.cache != nil {
		if raw, err := json.Marshal(d); err == nil {
			if err := a.cache.Set(ctx, key, raw, a.cacheTTL).Err(); err != nil {
				log.Printf("dashboard cache write failed: %v", err)
			}
		}
	}
	return d, nil
}

func fold(buckets []Bucket) (Counts, map[Type]int) {
	var c Counts
	byType := map[Type]int{}
	for _, b := range buckets {
		c.Total += b.Count
		byType[b.Type] += b.Count
		switch b.Status {
		case StatusPresent:
			c.Present += b.Count
		case StatusLate:
			c.Late += b.Count
		case StatusAbsent:
			c.Absent += b.Count
		}
	}
	return c, byType
}

func rate(present, expectedDays int) float64 {
	if expectedDays <= 0 {
		return 0
	}
	r := float64(present) / float64(expectedDays)
	if r > 1 {
		r = 1
	}
	return r
}
