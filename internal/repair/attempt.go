// Package repair closes the gaps a compliance report describes. It runs
// a bounded score/select/apply/invalidate loop and keeps a ledger of
// every attempt so a repair already on disk is never applied twice.
package repair

import (
	"sync"
	"time"

	"specforge/internal/compliance"
)

// Attempt records one strategy invocation against one gap.
type Attempt struct {
	Gap        compliance.Gap `json:"gap"`
	Signature  string         `json:"signature"`
	Strategy   string         `json:"strategy"`
	Applied    bool           `json:"applied"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Iteration  int            `json:"iteration"`
	At         time.Time      `json:"at"`
}

// Ledger retains attempts across iterations. It answers the two
// questions the loop must ask before invoking a strategy: was this
// signature already repaired, and did this strategy already decline it.
type Ledger struct {
	mu       sync.Mutex
	attempts []Attempt
	applied  map[string]bool
	skipped  map[string]bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		applied: make(map[string]bool),
		skipped: make(map[string]bool),
	}
}

// Record adds an attempt. Recording happens immediately after the
// strategy returns, before any cancellation check, so a change already
// on disk can never be retried as if it had not happened.
func (l *Ledger) Record(a Attempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, a)
	if a.Applied {
		l.applied[a.Signature] = true
	} else {
		l.skipped[a.Signature+"/"+a.Strategy] = true
	}
}

// AppliedBefore reports whether a repair for this signature was already
// applied in this run.
func (l *Ledger) AppliedBefore(signature string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied[signature]
}

// SkippedBefore reports whether this strategy already declined this
// signature in this run. Skips are not retried with the same strategy.
func (l *Ledger) SkippedBefore(signature, strategy string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.skipped[signature+"/"+strategy]
}

// Attempts returns a copy of all recorded attempts in order.
func (l *Ledger) Attempts() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Attempt, len(l.attempts))
	copy(out, l.attempts)
	return out
}

// Unresolved returns the attempts that ended in a skip and were never
// subsequently repaired. These surface in the final report rather than
// being dropped.
func (l *Ledger) Unresolved() []Attempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Attempt
	for _, a := range l.attempts {
		if !a.Applied && !l.applied[a.Signature] {
			out = append(out, a)
		}
	}
	return out
}
