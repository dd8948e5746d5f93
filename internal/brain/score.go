package brain

import (
	"strings"
	"time"
)

// LearningScore ranks a learning for projection and decay:
//
//	recency 0..10 (loses a point per 7 days of age)
//	+5 when project-scoped and cwd sits under its projectPath
//	+2 when the learning was recorded manually
func LearningScore(e Entry, now time.Time, cwd string) int {
	score := 0

	created, err := time.Parse(time.RFC3339, e.Created)
	if err == nil {
		ageDays := int(now.Sub(created).Hours() / 24)
		recency := 10 - ageDays/7
		if recency < 0 {
			recency = 0
		}
		score += recency
	}

	if e.Scope == ScopeProject && e.ProjectPath != "" && strings.HasPrefix(cwd, e.ProjectPath) {
		score += 5
	}
	if e.Source == SourceManual {
		score += 2
	}
	return score
}

// AgeDays returns the entry's age in whole days, or -1 when created does
// not parse.
func AgeDays(e Entry, now time.Time) int {
	created, err := time.Parse(time.RFC3339, e.Created)
	if err != nil {
		return -1
	}
	return int(now.Sub(created).Hours() / 24)
}
