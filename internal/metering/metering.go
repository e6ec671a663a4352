// Package metering enforces the per-user monthly quota on receipt scans.
package metering

import (
	"errors"
	"fmt"
	"time"
)

// Unlimited is the quota sentinel for plans without a monthly cap.
const Unlimited = -1

// ErrLimitReached is returned by Increment when the user is already at or
// over their monthly quota. The counter is left unchanged.
var ErrLimitReached = errors.New("monthly scan limit reached")

// Snapshot is the quota state returned by Check and Increment.
type Snapshot struct {
	CurrentUsage  int  `json:"currentUsage"`
	Limit         int  `json:"limit"`
	Remaining     int  `json:"remaining"`
	CanUseFeature bool `json:"canUseFeature"`
}

// QuotaSource resolves the monthly scan limit for a user, typically from
// their subscription plan.
type QuotaSource interface {
	ScanLimit(userID string) (int, error)
}

// CounterStore persists monthly usage counters. IncrementBelow must apply
// the read-check-write as a single atomic operation so concurrent requests
// cannot push a counter past its limit.
type CounterStore interface {
	// Count returns the counter for key, 0 when absent.
	Count(key string) (int, error)

	// IncrementBelow increments the counter for key by 1 if it is below
	// limit (or limit is Unlimited) and returns the new value. When the
	// counter is already at or over the limit it returns the current value
	// and false without mutating.
	IncrementBelow(key string, limit int) (int, bool, error)
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Meter is the usage gate for receipt scans: a read-only Check plus an
// atomic conditional Increment, both keyed by (user, calendar month).
type Meter struct {
	counters   CounterStore
	quotas     QuotaSource
	timeSource TimeSource
}

// NewMeter creates a Meter using the server's local clock.
func NewMeter(counters CounterStore, quotas QuotaSource) *Meter {
	return NewMeterWithClock(counters, quotas, defaultTimeSource{})
}

// NewMeterWithClock creates a Meter with an injected clock for tests.
func NewMeterWithClock(counters CounterStore, quotas QuotaSource, ts TimeSource) *Meter {
	return &Meter{counters: counters, quotas: quotas, timeSource: ts}
}

// monthKey builds the (user, month) counter key. The month is the server's
// local calendar month; a new month simply produces a fresh key, so there is
// no explicit rollover.
func (m *Meter) monthKey(userID string) string {
	return fmt.Sprintf("%s/%s", userID, m.timeSource.Now().Format("2006-01"))
}

func snapshot(current, limit int) Snapshot {
	if limit == Unlimited {
		return Snapshot{
			CurrentUsage:  current,
			Limit:         Unlimited,
			Remaining:     Unlimited,
			CanUseFeature: true,
		}
	}
	remaining := limit - current
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		CurrentUsage:  current,
		Limit:         limit,
		Remaining:     remaining,
		CanUseFeature: current < limit,
	}
}

// Check returns the current quota state without mutating it.
func (m *Meter) Check(userID string) (Snapshot, error) {
	limit, err := m.quotas.ScanLimit(userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolving scan limit: %w", err)
	}

	current, err := m.counters.Count(m.monthKey(userID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading usage counter: %w", err)
	}

	return snapshot(current, limit), nil
}

// Increment consumes one scan from the user's monthly quota. When the user
// is already at or over the limit it returns the unchanged snapshot and
// ErrLimitReached.
func (m *Meter) Increment(userID string) (Snapshot, error) {
	limit, err := m.quotas.ScanLimit(userID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolving scan limit: %w", err)
	}

	count, ok, err := m.counters.IncrementBelow(m.monthKey(userID), limit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("incrementing usage counter: %w", err)
	}
	if !ok {
		return snapshot(count, limit), ErrLimitReached
	}

	return snapshot(count, limit), nil
}
