package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"breakout-radar/internal/alerting"
)

// notifyTimeout bounds a budget alert dispatch, which outlives the request that
// crossed the threshold.
const notifyTimeout = 10 * time.Second

// Levels are the budget percentages that raise an alert, each once per period.
var Levels = []int{100, 110, 150}

// Options configure request budgets. A zero budget disables alerts for that period.
type Options struct {
	DailyBudget   int64
	MonthlyBudget int64
	Channels      []string
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total      int64
	ByKind     map[string]int64
	Day        string
	DayCount   int64
	Month      string
	MonthCount int64
}

// Counter tracks outbound marketplace requests for cost auditing. It is safe for
// concurrent use and owned by whoever wires the pipeline.
type Counter struct {
	opts     Options
	notifier alerting.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	total atomic.Int64

	mu         sync.Mutex
	byKind     map[string]int64
	day        string
	dayCount   int64
	month      string
	monthCount int64
	alerted    map[string]struct{}
}

// NewCounter builds a Counter. notifier may be nil.
func NewCounter(opts Options, notifier alerting.Notifier, logger zerolog.Logger) *Counter {
	return &Counter{
		opts:     opts,
		notifier: notifier,
		logger:   logger.With().Str("component", "audit").Logger(),
		now:      time.Now,
		byKind:   make(map[string]int64),
		alerted:  make(map[string]struct{}),
	}
}

// WithClock overrides the time source.
func (c *Counter) WithClock(now func() time.Time) *Counter {
	c.now = now
	return c
}

type crossing struct {
	period string
	key    string
	level  int
	count  int64
	budget int64
}

// Record counts one request of kind and raises budget alerts on threshold crossings.
func (c *Counter) Record(ctx context.Context, kind string) {
	c.total.Add(1)
	now := c.now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	c.mu.Lock()
	c.byKind[kind]++
	if c.day != day {
		c.day, c.dayCount = day, 0
	}
	if c.month != month {
		c.month, c.monthCount = month, 0
	}
	c.dayCount++
	c.monthCount++
	crossings := c.crossed("daily", day, c.dayCount, c.opts.DailyBudget)
	crossings = append(crossings, c.crossed("monthly", month, c.monthCount, c.opts.MonthlyBudget)...)
	c.mu.Unlock()

	for _, x := range crossings {
		c.alert(ctx, now, x)
	}
}

// crossed must be called with mu held.
func (c *Counter) crossed(period, key string, count, budget int64) []crossing {
	if budget <= 0 {
		return nil
	}
	var out []crossing
	for _, level := range Levels {
		if count*100 < budget*int64(level) {
			continue
		}
		mark := fmt.Sprintf("%s:%s:%d", period, key, level)
		if _, done := c.alerted[mark]; done {
			continue
		}
		c.alerted[mark] = struct{}{}
		out = append(out, crossing{period: period, key: key, level: level, count: count, budget: budget})
	}
	return out
}

func (c *Counter) alert(ctx context.Context, at time.Time, x crossing) {
	c.logger.Warn().Str("period", x.period).
		Str("window", x.key).
		Int("level_pct", x.level).
		Int64("count", x.count).
		Int64("budget", x.budget).
		Msg("request budget threshold reached")
	if c.notifier == nil {
		return
	}
	note := alerting.Notification{
		Kind:  alerting.KindBudget,
		Title: fmt.Sprintf("Marketplace %s request budget at %d%%", x.period, x.level),
		At:    at,
		Fields: []alerting.Field{
			{Label: "Window", Value: x.key},
			{Label: "Requests", Value: fmt.Sprintf("%d", x.count)},
			{Label: "Budget", Value: fmt.Sprintf("%d", x.budget)},
		},
		Channels: c.opts.Channels,
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := c.notifier.Notify(nctx, note); err != nil {
		c.logger.Error().Err(err).Msg("failed to dispatch budget alert")
	}
}

// Snapshot returns a copy of the current counters.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKind := make(map[string]int64, len(c.byKind))
	for k, v := range c.byKind {
		byKind[k] = v
	}
	return Snapshot{
		Total:      c.total.Load(),
		ByKind:     byKind,
		Day:        c.day,
		DayCount:   c.dayCount,
		Month:      c.month,
		MonthCount: c.monthCount,
	}
}
