// Package prompt projects the brain into a deterministic system-prompt
// preamble, under a token budget.
//
// The projector is pure: given the same materialized brain, cwd, clock,
// and budget it always renders the same text. Token costs use a cheap
// chars/4 estimator; callers needing exact budgets should clip harder
// upstream.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/untoldecay/rho/internal/brain"
)

// DefaultBudget is the projected prompt's token ceiling.
const DefaultBudget = 2000

// Section weights over the budget that remains after Identity and User
// are rendered at full fidelity. Unused allocation cascades to Learnings.
const (
	weightBehavior    = 0.15
	weightPreferences = 0.20
	weightContext     = 0.25
	weightLearnings   = 0.40
)

// Tokens estimates the token cost of s (~4 chars per token, rounded up).
func Tokens(s string) int {
	return (len(s) + 3) / 4
}

// line is one renderable prompt line tied to the entry that produced it.
type line struct {
	text string
	id   string
}

// Projection is the rendered prompt plus the ids that made it in.
type Projection struct {
	Text        string
	InjectedIDs []string
}

// Project renders the brain preamble for the given working directory and
// budget. budget <= 0 uses DefaultBudget.
func Project(m *brain.Materialized, cwd string, budget int, now time.Time) string {
	return build(m, cwd, budget, now).Text
}

// InjectedIDs mirrors Project deterministically, returning the ids of
// entries that actually entered the prompt (vs stored but budget-clipped).
func InjectedIDs(m *brain.Materialized, cwd string, budget int, now time.Time) []string {
	return build(m, cwd, budget, now).InjectedIDs
}

// Build renders the preamble and reports the injected ids together.
func Build(m *brain.Materialized, cwd string, budget int, now time.Time) Projection {
	return build(m, cwd, budget, now)
}

func build(m *brain.Materialized, cwd string, budget int, now time.Time) Projection {
	if budget <= 0 {
		budget = DefaultBudget
	}

	var out []string
	var ids []string
	seen := map[string]bool{}
	emit := func(lines []line) {
		for _, l := range lines {
			out = append(out, l.text)
			if l.id != "" && !seen[l.id] {
				seen[l.id] = true
				ids = append(ids, l.id)
			}
		}
	}

	// Identity and User render at full fidelity; their real cost comes off
	// the top of the budget.
	identity := keyedSection("## Identity", m.Identity)
	user := keyedSection("## User", m.User)
	fixed := 0
	for _, l := range identity {
		fixed += Tokens(l.text)
	}
	for _, l := range user {
		fixed += Tokens(l.text)
	}
	emit(identity)
	emit(user)

	remaining := budget - fixed
	if remaining < 0 {
		remaining = 0
	}

	behaviorLines := behaviorSection(m.Behaviors)
	prefLines := preferenceSection(m.Preferences)
	ctxLines := contextSection(m.Contexts, cwd)
	learnLines := learningSection(m.Learnings, cwd, now)

	carry := 0
	spend := func(lines []line, share float64) {
		sectionBudget := int(float64(remaining) * share)
		kept, used := clip(lines, sectionBudget)
		emit(kept)
		carry += sectionBudget - used
	}
	spend(behaviorLines, weightBehavior)
	spend(prefLines, weightPreferences)
	spend(ctxLines, weightContext)

	// Learnings receive their own share plus everything the earlier
	// sections left on the table.
	learnBudget := int(float64(remaining)*weightLearnings) + carry
	kept, _ := clip(learnLines, learnBudget)
	emit(kept)

	return Projection{Text: strings.Join(out, "\n"), InjectedIDs: ids}
}

// clip adds lines in order and stops at the first line that would exceed
// the section budget; everything after it is omitted, so ranked sections
// never skip a higher-ranked line to squeeze in a lower one. An omission
// marker is appended when anything was dropped. The marker is budgeted
// too: if it does not fit, the last kept line is evicted to make room,
// keeping the global "rendered tokens <= budget" property intact.
func clip(lines []line, budget int) ([]line, int) {
	if len(lines) == 0 {
		return nil, 0
	}
	var kept []line
	used := 0
	omitted := 0
	for i, l := range lines {
		cost := Tokens(l.text)
		if used+cost > budget {
			omitted = len(lines) - i
			break
		}
		kept = append(kept, l)
		used += cost
	}
	if omitted > 0 {
		marker := line{text: fmt.Sprintf("(…%d more omitted)", omitted)}
		cost := Tokens(marker.text)
		for used+cost > budget && len(kept) > 0 {
			last := kept[len(kept)-1]
			kept = kept[:len(kept)-1]
			used -= Tokens(last.text)
			omitted++
			marker.text = fmt.Sprintf("(…%d more omitted)", omitted)
			cost = Tokens(marker.text)
		}
		if used+cost <= budget {
			kept = append(kept, marker)
			used += cost
		}
	}
	return kept, used
}

// keyedSection renders a key/value map sorted by key for determinism.
func keyedSection(header string, col map[string]Entry) []line {
	if len(col) == 0 {
		return nil
	}
	keys := make([]string, 0, len(col))
	for k := range col {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []line{{text: header}}
	for _, k := range keys {
		e := col[k]
		lines = append(lines, line{text: fmt.Sprintf("- %s: %s", e.Key, e.Value), id: e.ID})
	}
	return lines
}

// Entry aliases keep signatures short inside this package.
type Entry = brain.Entry

func behaviorSection(behaviors []Entry) []line {
	if len(behaviors) == 0 {
		return nil
	}
	groups := map[string][]Entry{}
	for _, e := range behaviors {
		groups[e.Category] = append(groups[e.Category], e)
	}
	lines := []line{{text: "## Behavior"}}
	for _, g := range []struct{ cat, label string }{
		{brain.BehaviorDo, "Do"},
		{brain.BehaviorDont, "Don't"},
		{brain.BehaviorValue, "Values"},
	} {
		entries := groups[g.cat]
		if len(entries) == 0 {
			continue
		}
		lines = append(lines, line{text: g.label + ":"})
		for _, e := range entries {
			lines = append(lines, line{text: "- " + e.Text, id: e.ID})
		}
	}
	return lines
}

func preferenceSection(prefs []Entry) []line {
	if len(prefs) == 0 {
		return nil
	}
	groups := map[string][]Entry{}
	var cats []string
	for _, e := range prefs {
		if _, seen := groups[e.Category]; !seen {
			cats = append(cats, e.Category)
		}
		groups[e.Category] = append(groups[e.Category], e)
	}
	sort.Strings(cats)

	lines := []line{{text: "## Preferences"}}
	for _, cat := range cats {
		lines = append(lines, line{text: cat + ":"})
		for _, e := range groups[cat] {
			lines = append(lines, line{text: "- " + e.Text, id: e.ID})
		}
	}
	return lines
}

// contextSection picks the single context whose path is the longest
// prefix of cwd. Among equal-length matches (only possible when paths
// are duplicated verbatim) the oldest created wins.
func contextSection(contexts []Entry, cwd string) []line {
	var winner *Entry
	for i := range contexts {
		e := &contexts[i]
		if !strings.HasPrefix(cwd, e.Path) {
			continue
		}
		switch {
		case winner == nil:
			winner = e
		case len(e.Path) > len(winner.Path):
			winner = e
		case len(e.Path) == len(winner.Path) && e.Created < winner.Created:
			winner = e
		}
	}
	if winner == nil {
		return nil
	}
	lines := []line{{text: fmt.Sprintf("## Context: %s", winner.Project)}}
	for _, l := range strings.Split(winner.Content, "\n") {
		lines = append(lines, line{text: l, id: winner.ID})
	}
	return lines
}

func learningSection(learnings []Entry, cwd string, now time.Time) []line {
	if len(learnings) == 0 {
		return nil
	}
	ranked := make([]Entry, len(learnings))
	copy(ranked, learnings)
	sort.SliceStable(ranked, func(i, j int) bool {
		si := brain.LearningScore(ranked[i], now, cwd)
		sj := brain.LearningScore(ranked[j], now, cwd)
		if si != sj {
			return si > sj
		}
		return ranked[i].Created > ranked[j].Created // newest first on ties
	})

	lines := []line{{text: "## Learnings"}}
	for _, e := range ranked {
		lines = append(lines, line{text: "- " + e.Text, id: e.ID})
	}
	return lines
}
