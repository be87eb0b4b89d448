package pipeline

import "sort"

// Snippet is one candidate piece of context with a relevance score.
type Snippet struct {
	Label     string
	Content   string
	Relevance float64
}

// estimateTokens approximates token usage at four characters per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// assembleContext packs snippets most-relevant-first into a token budget.
// Snippets that do not fit are dropped whole; later snippets may still fit.
func assembleContext(snippets []Snippet, budget int) (string, int) {
	sorted := make([]Snippet, len(snippets))
	copy(sorted, snippets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Relevance > sorted[j].Relevance
	})

	var out string
	used := 0
	for _, sn := range sorted {
		cost := estimateTokens(sn.Content) + estimateTokens(sn.Label)
		if used+cost > budget {
			continue
		}
		if sn.Label != "" {
			out += "## " + sn.Label + "\n"
		}
		out += sn.Content + "\n\n"
		used += cost
	}
	return out, used
}

// taskSnippets builds the context candidates for a phase: the task
// description always ranks highest, then prior phase outputs in reverse
// order so the freshest work ranks above older phases.
func taskSnippets(t *Task) []Snippet {
	snippets := []Snippet{
		{Label: "Task", Content: t.Title + "\n" + t.Description, Relevance: 1.0},
	}

	relevance := 0.9
	for i := len(t.History) - 1; i >= 0; i-- {
		rec := t.History[i]
		if rec.Output == "" {
			continue
		}
		snippets = append(snippets, Snippet{
			Label:     string(rec.Phase) + " output",
			Content:   rec.Output,
			Relevance: relevance,
		})
		if relevance > 0.1 {
			relevance -= 0.1
		}
	}
	return snippets
}
