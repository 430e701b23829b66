package governor

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ahrav/go-assay/internal/domain"
	"github.com/ahrav/go-assay/internal/ports"
)

// DefaultRetention is how long ledger entries stay in memory.
const DefaultRetention = 30 * 24 * time.Hour

// Ledger is the append-only cost ledger. Entries older than the retention
// window are pruned from memory; an optional LedgerStore keeps them
// durably.
type Ledger struct {
	mu        sync.RWMutex
	entries   []domain.CostLedgerEntry
	retention time.Duration
	store     ports.LedgerStore
	logger    *slog.Logger
	now       func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerStore persists every entry to s.
func WithLedgerStore(s ports.LedgerStore) LedgerOption {
	return func(l *Ledger) { l.store = s }
}

// WithRetention sets the in-memory retention window.
func WithRetention(d time.Duration) LedgerOption {
	return func(l *Ledger) {
		if d > 0 {
			l.retention = d
		}
	}
}

// WithLedgerLogger sets the ledger's logger.
func WithLedgerLogger(lg *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = lg }
}

// WithLedgerClock overrides the ledger's time source for pruning.
func WithLedgerClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates an empty Ledger.
func NewLedger(opts ...LedgerOption) *Ledger {
	l := &Ledger{
		retention: DefaultRetention,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Retention is how long entries are kept before pruning.
func (l *Ledger) Retention() time.Duration { return l.retention }

// Append records e. A persistence failure is returned after the entry has
// been kept in memory, so accounting stays correct for this process.
func (l *Ledger) Append(ctx context.Context, e domain.CostLedgerEntry) error {
	l.mu.Lock()
	l.pruneLocked(l.now())
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.Append(ctx, e); err != nil {
		l.logger.Error("ledger persist failed", "caller", e.CallerContext, "error", err)
		return err
	}
	return nil
}

// Entries returns a copy of the in-memory entries within p, oldest first.
func (l *Ledger) Entries(p domain.Period) []domain.CostLedgerEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.CostLedgerEntry, 0)
	for _, e := range l.entries {
		if p.Contains(e.Timestamp) {
			out = append(out, e)
		}
	}
	return out
}

// Summary aggregates the entries within p. When a store is configured it
// is the source of truth, so periods older than the retention window are
// still answered; on a store error the in-memory entries are used.
func (l *Ledger) Summary(ctx context.Context, p domain.Period) domain.CostSummary {
	entries := l.Entries(p)
	if l.store != nil {
		stored, err := l.store.Range(ctx, p.From, p.To)
		if err != nil {
			l.logger.Warn("ledger range failed; using in-memory entries",
				"from", p.From, "to", p.To, "error", err)
		} else {
			entries = stored
		}
	}

	sum := domain.CostSummary{From: p.From, To: p.To, ByCaller: make(map[string]float64)}
	for _, e := range entries {
		sum.Add(e)
	}
	return sum
}

// Len returns the number of entries held in memory.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

func (l *Ledger) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.retention)
	l.entries = slices.DeleteFunc(l.entries, func(e domain.CostLedgerEntry) bool {
		return e.Timestamp.Before(cutoff)
	})
}
