package vocab

import (
	"fmt"
	"strings"
)

// LearnedFilter narrows a window by learned status.
type LearnedFilter string

const (
	LearnedAny  LearnedFilter = "all"
	LearnedOnly LearnedFilter = "learned"
	NotLearned  LearnedFilter = "notLearned"
)

// ParseLearnedFilter accepts "all", "learned" and "notLearned" (case
// insensitive, "not-learned" also accepted).
func ParseLearnedFilter(s string) (LearnedFilter, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "")) {
	case "", "all":
		return LearnedAny, nil
	case "learned":
		return LearnedOnly, nil
	case "notlearned":
		return NotLearned, nil
	}
	return "", fmt.Errorf("unknown learned filter %q", s)
}

// Filter is a pure view projection over an already loaded window. Only
// Level also scopes future fetches.
type Filter struct {
	Level   Level
	Learned LearnedFilter
	Search  string
}

// Match reports whether w is visible under f.
func (f Filter) Match(w WordRecord) bool {
	if !f.Level.Matches(w.Level) {
		return false
	}
	switch f.Learned {
	case LearnedOnly:
		if !w.Learned {
			return false
		}
	case NotLearned:
		if w.Learned {
			return false
		}
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(w.Word), term) ||
		strings.Contains(strings.ToLower(w.Definition), term)
}

// Apply returns the words visible under f, preserving order. The result
// shares no backing array with words.
func (f Filter) Apply(words []WordRecord) []WordRecord {
	out := make([]WordRecord, 0, len(words))
	for _, w := range words {
		if f.Match(w) {
			out = append(out, w)
		}
	}
	return out
}

// Count returns len(f.Apply(words)) without allocating.
func (f Filter) Count(words []WordRecord) int {
	n := 0
	for _, w := range words {
		if f.Match(w) {
			n++
		}
	}
	return n
}

// Range is a page request: Limit words with WordID >= StartFrom, optionally
// restricted to one level.
type Range struct {
	StartFrom int
	Limit     int
	Level     Level
}

func (r Range) String() string {
	lvl := r.Level
	if lvl.IsAll() {
		lvl = LevelAll
	}
	return fmt.Sprintf("start=%d limit=%d level=%s", r.StartFrom, r.Limit, lvl)
}

// Page is the answer to a Range request. Source names the strategy that
// served it.
type Page struct {
	Words   []WordRecord
	HasMore bool
	Source  string
}
