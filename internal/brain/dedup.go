package brain

import "strings"

// NormalizeText reduces free text to its comparable core: lowercase,
// runs of non-alphanumerics collapsed to single spaces, trimmed. "Use
// pnpm, not npm" and "  USE  pnpm not npm " normalize identically.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		} else {
			space = true
		}
	}
	return b.String()
}

// IsDuplicateText reports whether the materialized state already holds a
// learning or preference whose normalized text equals the candidate's.
// Only those two types dedup by text; everything else re-adds freely.
func IsDuplicateText(m *Materialized, e *Entry) bool {
	var pool []Entry
	switch e.Type {
	case TypeLearning:
		pool = m.Learnings
	case TypePreference:
		pool = m.Preferences
	default:
		return false
	}
	want := NormalizeText(e.Text)
	for _, existing := range pool {
		if NormalizeText(existing.Text) == want {
			return true
		}
	}
	return false
}
