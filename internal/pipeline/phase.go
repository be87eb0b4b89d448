package pipeline

// Phase is one stage of a task's pipeline.
type Phase string

const (
	PhaseDiscovery        Phase = "discovery"
	PhaseContextGathering Phase = "context_gathering"
	PhaseSpecCreation     Phase = "spec_creation"
	PhasePlanning         Phase = "planning"
	PhaseCoding           Phase = "coding"
	PhaseQA               Phase = "qa"
	PhaseFixing           Phase = "fixing"
	// PhaseComplete is terminal success.
	PhaseComplete Phase = "complete"
	// PhaseFailed is terminal failure, reached when the fix budget or the
	// recovery ladder is exhausted.
	PhaseFailed Phase = "failed"
)

// phaseOrder is the forward sequence. Fixing is not in the forward path; it
// is only entered from a QA failure and always returns to QA.
var phaseOrder = []Phase{
	PhaseDiscovery,
	PhaseContextGathering,
	PhaseSpecCreation,
	PhasePlanning,
	PhaseCoding,
	PhaseQA,
	PhaseComplete,
}

// Next returns the phase that follows p in the forward sequence. Fixing
// returns to QA; terminal phases return themselves.
func (p Phase) Next() Phase {
	if p == PhaseFixing {
		return PhaseQA
	}
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return p
}

// Terminal reports whether p has no outgoing phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDiscovery, PhaseContextGathering, PhaseSpecCreation, PhasePlanning,
		PhaseCoding, PhaseQA, PhaseFixing, PhaseComplete, PhaseFailed:
		return true
	}
	return false
}
