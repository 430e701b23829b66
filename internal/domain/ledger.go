package domain

import "time"

// CostLedgerEntry records the token usage and estimated cost of one
// reasoning generation. Entries are append-only.
type CostLedgerEntry struct {
	Timestamp     time.Time   `json:"timestamp"`
	TokensIn      int         `json:"tokens_in"`
	TokensOut     int         `json:"tokens_out"`
	EstimatedCost float64     `json:"estimated_cost"`
	CallerContext string      `json:"caller_context"`
	GeneratedBy   GeneratedBy `json:"generated_by"`
}

// CostSummary aggregates ledger entries over a half-open time range.
type CostSummary struct {
	From              time.Time          `json:"from"`
	To                time.Time          `json:"to"`
	Entries           int                `json:"entries"`
	LLMCalls          int                `json:"llm_calls"`
	TemplateFallbacks int                `json:"template_fallbacks"`
	TokensIn          int                `json:"tokens_in"`
	TokensOut         int                `json:"tokens_out"`
	EstimatedCost     float64            `json:"estimated_cost"`
	ByCaller          map[string]float64 `json:"by_caller"`
}

// Add folds e into the summary.
func (s *CostSummary) Add(e CostLedgerEntry) {
	if s.ByCaller == nil {
		s.ByCaller = make(map[string]float64)
	}
	s.Entries++
	switch e.GeneratedBy {
	case GeneratedByLLM:
		s.LLMCalls++
	case GeneratedByTemplate:
		s.TemplateFallbacks++
	}
	s.TokensIn += e.TokensIn
	s.TokensOut += e.TokensOut
	s.EstimatedCost += e.EstimatedCost
	s.ByCaller[e.CallerContext] += e.EstimatedCost
}

// Period is a half-open [From, To) time range used for cost summaries.
type Period struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.From) && t.Before(p.To)
}

// DayOf returns the calendar day containing t in t's location.
func DayOf(t time.Time) Period {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return Period{From: start, To: start.AddDate(0, 0, 1)}
}

// HourOf returns the clock hour containing t.
func HourOf(t time.Time) Period {
	start := t.Truncate(time.Hour)
	return Period{From: start, To: start.Add(time.Hour)}
}

// Trailing returns the period of length d ending at t.
func Trailing(t time.Time, d time.Duration) Period {
	return Period{From: t.Add(-d), To: t.Add(time.Nanosecond)}
}
