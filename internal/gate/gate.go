// ABOUTME: Outbound gate deciding whether an automated reply may be sent
// ABOUTME: Checks business hours and per-customer rate limits, and supplies the human-like delay

package gate

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/zapdesk/zapdesk-gateway/internal/config"
)

// Block reasons recorded when the gate suppresses an automated send.
const (
	ReasonOutsideBusinessHours = "outside_business_hours"
	ReasonDailyLimitReached    = "daily_limit_reached"
	ReasonWindowLimitReached   = "window_limit_reached"
)

// trailingWindow is the sliding window for the short-term rate limit.
const trailingWindow = time.Hour

// InteractionCounter counts recorded bot interactions for a customer.
// Satisfied by store.Store.
type InteractionCounter interface {
	CountInteractionsSince(ctx context.Context, customerPhone string, since time.Time) (int, error)
}

// Gate decides whether an automated reply may go out to a customer.
// Agent sends never pass through the gate.
type Gate struct {
	counter InteractionCounter
	cfg     config.GateConfig
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a gate backed by the given interaction counter.
func New(counter InteractionCounter, cfg config.GateConfig, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		counter: counter,
		cfg:     cfg,
		loc:     cfg.Location(),
		logger:  logger.With("component", "gate"),
		now:     time.Now,
	}
}

// Check reports whether an automated reply to customerKey may be sent right
// now. A non-empty reason means the send is blocked. Checks run in a fixed
// order: business hours, then the daily limit, then the trailing-hour limit.
func (g *Gate) Check(ctx context.Context, customerKey string) (string, error) {
	now := g.now().In(g.loc)

	if g.cfg.BusinessHoursStart != nil {
		hour := now.Hour()
		if hour < *g.cfg.BusinessHoursStart || hour >= *g.cfg.BusinessHoursEnd {
			g.logger.Debug("blocked outside business hours",
				"customer", customerKey, "hour", hour)
			return ReasonOutsideBusinessHours, nil
		}
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, g.loc)
	daily, err := g.counter.CountInteractionsSince(ctx, customerKey, dayStart)
	if err != nil {
		return "", err
	}
	if daily >= g.cfg.MaxPerDay {
		g.logger.Info("daily rate limit reached",
			"customer", customerKey, "count", daily, "limit", g.cfg.MaxPerDay)
		return ReasonDailyLimitReached, nil
	}

	recent, err := g.counter.CountInteractionsSince(ctx, customerKey, now.Add(-trailingWindow))
	if err != nil {
		return "", err
	}
	if recent >= g.cfg.MaxPerWindow {
		g.logger.Info("hourly rate limit reached",
			"customer", customerKey, "count", recent, "limit", g.cfg.MaxPerWindow)
		return ReasonWindowLimitReached, nil
	}

	return "", nil
}

// Delay returns a random duration in [min_delay, max_delay]. Automated sends
// wait this long so replies do not land instantly.
func (g *Gate) Delay() time.Duration {
	min, max := g.cfg.MinDelay, g.cfg.MaxDelay
	if max <= min {
		return min
	}
	return min + rand.N(max-min+1)
}
