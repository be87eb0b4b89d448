package pipeline

import "time"

// StuckReason says why an agent was judged stuck.
type StuckReason string

const (
	// ReasonTimeout means no meaningful progress within the window.
	ReasonTimeout StuckReason = "timeout"
	// ReasonOutputLoop means identical consecutive outputs.
	ReasonOutputLoop StuckReason = "output_loop"
	// ReasonBudgetExhausted means the token budget ran out without the
	// phase finishing.
	ReasonBudgetExhausted StuckReason = "budget_exhausted"
)

const maxRepeats = 3

// StuckDetector watches one task execution for loops, stalls, and token
// budget exhaustion. Not safe for concurrent use; the pipeline owns one
// detector per running task.
type StuckDetector struct {
	timeout     time.Duration
	tokenBudget int

	recentOutputs  []string
	lastProgress   time.Time
	tokensConsumed int
}

// NewStuckDetector creates a detector with the given stall window and token
// budget.
func NewStuckDetector(timeout time.Duration, tokenBudget int) *StuckDetector {
	return &StuckDetector{
		timeout:      timeout,
		tokenBudget:  tokenBudget,
		lastProgress: time.Now().UTC(),
	}
}

// RecordOutput feeds one phase output into the detector. Output that
// differs from the previous one counts as progress.
func (d *StuckDetector) RecordOutput(output string, tokens int) {
	d.tokensConsumed += tokens
	d.recentOutputs = append(d.recentOutputs, output)
	if len(d.recentOutputs) > maxRepeats+1 {
		d.recentOutputs = d.recentOutputs[1:]
	}

	n := len(d.recentOutputs)
	if n < 2 || d.recentOutputs[n-1] != d.recentOutputs[n-2] {
		d.lastProgress = time.Now().UTC()
	}
}

// AddTokens charges tokens against the budget without recording an output.
// Used for provider-side spend.
func (d *StuckDetector) AddTokens(tokens int) {
	d.tokensConsumed += tokens
}

// Check reports whether the task is stuck and why.
func (d *StuckDetector) Check() (StuckReason, bool) {
	if time.Since(d.lastProgress) > d.timeout {
		return ReasonTimeout, true
	}

	if n := len(d.recentOutputs); n >= maxRepeats {
		last := d.recentOutputs[n-1]
		allSame := last != ""
		for _, o := range d.recentOutputs[n-maxRepeats:] {
			if o != last {
				allSame = false
				break
			}
		}
		if allSame {
			return ReasonOutputLoop, true
		}
	}

	if d.tokensConsumed >= d.tokenBudget {
		return ReasonBudgetExhausted, true
	}

	return "", false
}

// Reset clears the detector after a recovery action.
func (d *StuckDetector) Reset() {
	d.recentOutputs = nil
	d.lastProgress = time.Now().UTC()
	d.tokensConsumed = 0
}

// TokensRemaining returns the unspent part of the token budget.
func (d *StuckDetector) TokensRemaining() int {
	if d.tokensConsumed >= d.tokenBudget {
		return 0
	}
	return d.tokenBudget - d.tokensConsumed
}
