// Package governor enforces per-minute and per-hour call rates and a daily
// cost ceiling on the external completion service, and keeps the cost
// ledger those decisions are based on.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

var validate = validator.New()

// Decision reasons reported in metrics.
const (
	ReasonGranted     = "granted"
	ReasonMinuteLimit = "minute_limit"
	ReasonHourLimit   = "hour_limit"
	ReasonCeiling     = "daily_ceiling"
)

// Config holds the governor limits and prices.
type Config struct {
	// PerMinute is the minute bucket capacity.
	PerMinute int `yaml:"per_minute" json:"per_minute" validate:"min=1"`

	// PerHour is the hour bucket capacity.
	PerHour int `yaml:"per_hour" json:"per_hour" validate:"min=1"`

	// MinuteWindow is the time the minute bucket takes to refill from
	// empty. Defaults to one minute.
	MinuteWindow time.Duration `yaml:"minute_window" json:"minute_window" validate:"min=0"`

	// HourWindow is the time the hour bucket takes to refill from empty.
	// Defaults to one hour.
	HourWindow time.Duration `yaml:"hour_window" json:"hour_window" validate:"min=0"`

	// InputTokenPrice is the cost of one prompt token.
	InputTokenPrice float64 `yaml:"input_token_price" json:"input_token_price" validate:"min=0"`

	// OutputTokenPrice is the cost of one completion token.
	OutputTokenPrice float64 `yaml:"output_token_price" json:"output_token_price" validate:"min=0"`

	// DailyCeiling is the maximum spend per day. Zero disables it.
	DailyCeiling float64 `yaml:"daily_ceiling" json:"daily_ceiling" validate:"min=0"`

	// AlertFraction of the ceiling triggers a warning. Zero disables it.
	AlertFraction float64 `yaml:"alert_fraction" json:"alert_fraction" validate:"min=0,max=1"`

	// Location defines day boundaries. Nil means UTC.
	Location *time.Location `yaml:"-" json:"-"`
}

// DefaultConfig returns conservative limits.
func DefaultConfig() Config {
	return Config{
		PerMinute:        60,
		PerHour:          1000,
		MinuteWindow:     time.Minute,
		HourWindow:       time.Hour,
		InputTokenPrice:  0.000003,
		OutputTokenPrice: 0.000015,
		DailyCeiling:     25,
		AlertFraction:    0.8,
		Location:         time.UTC,
	}
}

// Governor is the rate and cost governor. All methods are safe for
// concurrent use; a grant is atomic across both buckets so concurrent
// callers cannot double-spend.
type Governor struct {
	mu     sync.Mutex
	minute *rate.Limiter
	hour   *rate.Limiter

	cfg     Config
	ledger  *Ledger
	metrics ports.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time

	day      domain.Period
	dayCost  float64
	alerted  bool
	exceeded bool
}

// Option configures a Governor.
type Option func(*Governor)

// WithLedger sets the ledger usage is appended to.
func WithLedger(l *Ledger) Option {
	return func(g *Governor) { g.ledger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(g *Governor) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// New creates a Governor with both buckets full.
func New(cfg Config, opts ...Option) (*Governor, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("governor config validation failed: %w", err)
	}
	if cfg.MinuteWindow == 0 {
		cfg.MinuteWindow = time.Minute
	}
	if cfg.HourWindow == 0 {
		cfg.HourWindow = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	g := &Governor{
		cfg:     cfg,
		minute:  newBucket(cfg.PerMinute, cfg.MinuteWindow),
		hour:    newBucket(cfg.PerHour, cfg.HourWindow),
		metrics: ports.NopMetrics{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.ledger == nil {
		g.ledger = NewLedger(WithLedgerClock(g.now), WithLedgerLogger(g.logger))
	}
	g.day = domain.DayOf(g.now().In(cfg.Location))
	return g, nil
}

// newBucket returns a limiter holding capacity tokens that refills from
// empty over window.
func newBucket(capacity int, window time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(window/time.Duration(capacity)), capacity)
}

// Ledger returns the governor's cost ledger.
func (g *Governor) Ledger() *Ledger { return g.ledger }

// TryAcquire grants permission for one completion call. It never blocks.
// A grant consumes one token from each bucket; a denial consumes nothing.
func (g *Governor) TryAcquire() bool {
	g.mu.Lock()
	now := g.now()
	g.rollDayLocked(now)

	reason := ReasonGranted
	switch {
	case g.cfg.DailyCeiling > 0 && g.dayCost >= g.cfg.DailyCeiling:
		reason = ReasonCeiling
	case g.minute.TokensAt(now) < 1:
		reason = ReasonMinuteLimit
	case g.hour.TokensAt(now) < 1:
		reason = ReasonHourLimit
	default:
		g.minute.AllowN(now, 1)
		g.hour.AllowN(now, 1)
	}
	g.mu.Unlock()

	g.metrics.RecordCounter("governor_decisions_total", 1, map[string]string{"decision": reason})
	if reason != ReasonGranted {
		g.logger.Debug("governor denied call", "reason", reason)
		return false
	}
	return true
}

// RecordUsage prices a completed call, updates the day's spend and appends
// the entry to the ledger. Template fallbacks are recorded with zero
// tokens and zero cost.
func (g *Governor) RecordUsage(
	ctx context.Context,
	tokensIn, tokensOut int,
	caller string,
	by domain.GeneratedBy,
) domain.CostLedgerEntry {
	g.mu.Lock()
	now := g.now()
	g.rollDayLocked(now)

	cost := g.Price(tokensIn, tokensOut)
	g.dayCost += cost
	dayCost := g.dayCost
	alert := g.checkAlertLocked()
	exceeded := g.checkExceededLocked()
	g.mu.Unlock()

	entry := domain.CostLedgerEntry{
		Timestamp:     now,
		TokensIn:      tokensIn,
		TokensOut:     tokensOut,
		EstimatedCost: cost,
		CallerContext: caller,
		GeneratedBy:   by,
	}
	if err := g.ledger.Append(ctx, entry); err != nil {
		g.metrics.RecordCounter("governor_ledger_errors_total", 1, nil)
	}

	g.metrics.RecordCounter("governor_cost_total", cost, map[string]string{"generated_by": string(by)})
	g.metrics.RecordGauge("governor_daily_cost", dayCost, nil)
	if alert {
		g.metrics.RecordGauge("governor_alert", 1, nil)
		g.logger.Warn("daily cost approaching ceiling",
			"daily_cost", dayCost, "ceiling", g.cfg.DailyCeiling, "alert_fraction", g.cfg.AlertFraction)
	}
	if exceeded {
		g.logger.Warn("daily cost ceiling reached; completion calls suspended until day rollover",
			"daily_cost", dayCost, "ceiling", g.cfg.DailyCeiling)
	}
	return entry
}

// Price returns the cost of a call with the given token counts.
func (g *Governor) Price(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)*g.cfg.InputTokenPrice + float64(tokensOut)*g.cfg.OutputTokenPrice
}

// DailyCost returns the spend accumulated in the current day.
func (g *Governor) DailyCost() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rollDayLocked(g.now())
	return g.dayCost
}

// Restore seeds the current day's spend from the ledger, so a restarted
// process keeps honouring the ceiling.
func (g *Governor) Restore(ctx context.Context) {
	g.mu.Lock()
	g.rollDayLocked(g.now())
	day := g.day
	g.mu.Unlock()

	sum := g.ledger.Summary(ctx, domain.Period{
		From: day.From.UTC(),
		To:   day.To.UTC(),
	})

	g.mu.Lock()
	if g.day == day {
		g.dayCost = sum.EstimatedCost
		g.checkAlertLocked()
		g.checkExceededLocked()
	}
	g.mu.Unlock()
}

// Summary aggregates ledger entries over p.
func (g *Governor) Summary(ctx context.Context, p domain.Period) domain.CostSummary {
	return g.ledger.Summary(ctx, p)
}

func (g *Governor) rollDayLocked(now time.Time) {
	local := now.In(g.cfg.Location)
	if g.day.Contains(local) {
		return
	}
	g.day = domain.DayOf(local)
	g.dayCost = 0
	g.alerted = false
	g.exceeded = false
	g.metrics.RecordGauge("governor_alert", 0, nil)
}

// checkAlertLocked reports whether the alert threshold was crossed by the
// latest usage. It fires once per day.
func (g *Governor) checkAlertLocked() bool {
	if g.alerted || g.cfg.DailyCeiling <= 0 || g.cfg.AlertFraction <= 0 {
		return false
	}
	if g.dayCost < g.cfg.AlertFraction*g.cfg.DailyCeiling {
		return false
	}
	g.alerted = true
	return true
}

func (g *Governor) checkExceededLocked() bool {
	if g.exceeded || g.cfg.DailyCeiling <= 0 || g.dayCost < g.cfg.DailyCeiling {
		return false
	}
	g.exceeded = true
	return true
}
