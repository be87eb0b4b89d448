package pipeline

import "fmt"

// phaseInstructions holds the per-phase prompt template. Each template
// takes the task title and description.
var phaseInstructions = map[Phase]string{
	PhaseDiscovery: "Explore the repository and summarize everything relevant to this task. " +
		"List the files, modules, and conventions a change would touch.\n\nTask: %s\n%s",
	PhaseContextGathering: "Gather the concrete context needed to implement this task: " +
		"read the files identified during discovery and quote the relevant parts.\n\nTask: %s\n%s",
	PhaseSpecCreation: "Write a short implementation spec for this task: intended behavior, " +
		"edge cases, and acceptance criteria.\n\nTask: %s\n%s",
	PhasePlanning: "Break this task into an ordered list of concrete implementation steps. " +
		"Each step should name the files it changes.\n\nTask: %s\n%s",
	PhaseCoding: "Implement this task following the plan. Make the changes, keep them minimal, " +
		"and report what was changed.\n\nTask: %s\n%s",
	PhaseQA: "Verify the implementation of this task: run the checks available in the project " +
		"and report pass or fail with the issues found.\n\nTask: %s\n%s",
	PhaseFixing: "Fix the issues found during verification of this task. Address each reported " +
		"issue and report what was fixed.\n\nTask: %s\n%s",
}

// simplifiedInstructions are the stripped-down variants used after a
// simplify-prompt recovery: one direct instruction, no elaboration.
var simplifiedInstructions = map[Phase]string{
	PhaseDiscovery:        "List the files relevant to: %s\n%s",
	PhaseContextGathering: "Show the code relevant to: %s\n%s",
	PhaseSpecCreation:     "Describe the expected behavior of: %s\n%s",
	PhasePlanning:         "List the implementation steps for: %s\n%s",
	PhaseCoding:           "Implement: %s\n%s",
	PhaseQA:               "Check whether this works and say PASS or FAIL: %s\n%s",
	PhaseFixing:           "Fix the reported issues in: %s\n%s",
}

// buildPrompt renders the full prompt for one phase invocation: assembled
// context first, then the phase instruction.
func buildPrompt(t *Task, phase Phase, context string, simplified bool) string {
	templates := phaseInstructions
	if simplified {
		templates = simplifiedInstructions
	}
	tpl, ok := templates[phase]
	if !ok {
		tpl = "Work on this task.\n\nTask: %s\n%s"
	}

	instruction := fmt.Sprintf(tpl, t.Title, t.Description)
	if context == "" {
		return instruction
	}
	return context + "\n" + instruction
}
