// Package ratelimit gates outbound sends per tenant with sliding-window
// counters and a periodic cooldown, emulating human sending cadence so the
// remote network does not ban the account.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Rejection reasons, surfaced to callers as machine-readable strings.
const (
	ReasonCooldown    = "system in cooldown"
	ReasonPerMinute   = "per-minute limit"
	ReasonPerHour     = "per-hour limit"
	ReasonPerDay      = "per-day limit"
	ReasonDestination = "same-destination limit"
	ReasonMinSpacing  = "min spacing"
)

// Limits holds the per-tenant send budget.
type Limits struct {
	PerMinute             int64
	PerHour               int64
	PerDay                int64
	PerDestinationPerHour int64
	MinSpacing            time.Duration
	// CooldownEvery forces a pause after every Nth accepted send.
	CooldownEvery int64
	CooldownFor   time.Duration
}

// DefaultLimits is the production budget: 2/min, 30/h, 120/day, 3 per
// destination per hour, 30s between sends, and a 15 minute pause every 15
// accepted messages.
func DefaultLimits() Limits {
	return Limits{
		PerMinute:             2,
		PerHour:               30,
		PerDay:                120,
		PerDestinationPerHour: 3,
		MinSpacing:            30 * time.Second,
		CooldownEvery:         15,
		CooldownFor:           15 * time.Minute,
	}
}

// Decision is the outcome of one CanSend check.
type Decision struct {
	Allowed bool
	// Reason identifies the first failing check when not allowed.
	Reason string
	// RetryAfter is how long the caller should wait before retrying.
	RetryAfter time.Duration
}

// Guard decides whether a tenant may send and records accepted sends. When
// the counter backend is unreachable the guard fails open: availability of
// messaging is prioritized over strict enforcement, logged as degraded mode.
type Guard struct {
	store  CounterStore
	limits Limits
	log    *slog.Logger
	nowF   func() time.Time
}

// NewGuard returns a guard over the given counter store.
func NewGuard(store CounterStore, limits Limits, log *slog.Logger) *Guard {
	return &Guard{store: store, limits: limits, log: log, nowF: time.Now}
}

// CanSend reports whether the tenant may send to destination right now.
// Checks run in precedence order: cooldown, minute, hour, day, destination,
// spacing; the first failing check wins.
func (g *Guard) CanSend(ctx context.Context, tenantID, destination string) Decision {
	now := g.nowF()

	if until, ok := g.getTime(ctx, keyCooldown(tenantID)); ok && until.After(now) {
		return Decision{Reason: ReasonCooldown, RetryAfter: until.Sub(now)}
	}

	windows := []struct {
		key    string
		limit  int64
		reason string
		window time.Duration
	}{
		{keyMinute(tenantID, now), g.limits.PerMinute, ReasonPerMinute, time.Minute},
		{keyHour(tenantID, now), g.limits.PerHour, ReasonPerHour, time.Hour},
		{keyDay(tenantID, now), g.limits.PerDay, ReasonPerDay, 24 * time.Hour},
		{keyDestination(tenantID, destination, now), g.limits.PerDestinationPerHour, ReasonDestination, time.Hour},
	}
	for _, w := range windows {
		n, err := g.store.Get(ctx, w.key)
		if err != nil {
			g.failOpen(err)
			return Decision{Allowed: true}
		}
		if n >= w.limit {
			return Decision{Reason: w.reason, RetryAfter: untilNextWindow(now, w.window)}
		}
	}

	if last, ok := g.getTime(ctx, keyLastSend(tenantID)); ok {
		if elapsed := now.Sub(last); elapsed < g.limits.MinSpacing {
			return Decision{Reason: ReasonMinSpacing, RetryAfter: g.limits.MinSpacing - elapsed}
		}
	}

	return Decision{Allowed: true}
}

// RecordSend counts one confirmed successful send: all window counters are
// incremented with their TTLs, the last-send mark is set, and every
// CooldownEvery-th lifetime send arms the mandatory cooldown. Backend errors
// degrade to logging; the send itself already happened.
func (g *Guard) RecordSend(ctx context.Context, tenantID, destination string) {
	now := g.nowF()

	incrs := []struct {
		key string
		ttl time.Duration
	}{
		{keyMinute(tenantID, now), time.Minute},
		{keyHour(tenantID, now), time.Hour},
		{keyDay(tenantID, now), 24 * time.Hour},
		{keyDestination(tenantID, destination, now), time.Hour},
	}
	for _, in := range incrs {
		if _, err := g.store.Incr(ctx, in.key, in.ttl); err != nil {
			g.failOpen(err)
			return
		}
	}
	if err := g.store.SetTime(ctx, keyLastSend(tenantID), now, time.Hour); err != nil {
		g.failOpen(err)
		return
	}

	total, err := g.store.Incr(ctx, keyTotal(tenantID), 0)
	if err != nil {
		g.failOpen(err)
		return
	}
	if g.limits.CooldownEvery > 0 && total%g.limits.CooldownEvery == 0 {
		if err := g.store.SetTime(ctx, keyCooldown(tenantID), now.Add(g.limits.CooldownFor), g.limits.CooldownFor); err != nil {
			g.failOpen(err)
			return
		}
		g.log.Info("send cooldown armed",
			"tenant", tenantID, "total_sent", total, "until", now.Add(g.limits.CooldownFor))
	}
}

// Snapshot reports the tenant's current window counts and cooldown, for the
// dashboard's budget view. Backend errors return zeroed counts.
type Snapshot struct {
	Minute        int64
	Hour          int64
	Day           int64
	TotalSent     int64
	CooldownUntil *time.Time
}

// Status returns the tenant's current budget consumption.
func (g *Guard) Status(ctx context.Context, tenantID string) Snapshot {
	now := g.nowF()
	var snap Snapshot
	snap.Minute, _ = g.store.Get(ctx, keyMinute(tenantID, now))
	snap.Hour, _ = g.store.Get(ctx, keyHour(tenantID, now))
	snap.Day, _ = g.store.Get(ctx, keyDay(tenantID, now))
	snap.TotalSent, _ = g.store.Get(ctx, keyTotal(tenantID))
	if until, ok := g.getTime(ctx, keyCooldown(tenantID)); ok && until.After(now) {
		snap.CooldownUntil = &until
	}
	return snap
}

func (g *Guard) getTime(ctx context.Context, key string) (time.Time, bool) {
	t, ok, err := g.store.GetTime(ctx, key)
	if err != nil {
		g.failOpen(err)
		return time.Time{}, false
	}
	return t, ok
}

func (g *Guard) failOpen(err error) {
	g.log.Warn("rate limit backend unreachable, failing open", "error", err)
}

// Window keys truncate wall-clock time to the window size, so each window's
// key changes automatically and expired windows age out via TTL.

func keyMinute(tenant string, now time.Time) string {
	return fmt.Sprintf("rl:%s:minute:%d", tenant, now.Unix()/60)
}

func keyHour(tenant string, now time.Time) string {
	return fmt.Sprintf("rl:%s:hour:%d", tenant, now.Unix()/3600)
}

func keyDay(tenant string, now time.Time) string {
	return fmt.Sprintf("rl:%s:day:%d", tenant, now.Unix()/86400)
}

func keyDestination(tenant, destination string, now time.Time) string {
	return fmt.Sprintf("rl:%s:dest:%s:%d", tenant, destination, now.Unix()/3600)
}

func keyLastSend(tenant string) string {
	return fmt.Sprintf("rl:%s:last", tenant)
}

func keyCooldown(tenant string) string {
	return fmt.Sprintf("rl:%s:cooldown", tenant)
}

func keyTotal(tenant string) string {
	return fmt.Sprintf("rl:%s:total", tenant)
}

func untilNextWindow(now time.Time, window time.Duration) time.Duration {
	return now.Truncate(window).Add(window).Sub(now)
}
