package song

import "time"

// ProgressEntry is one (status, time) observation in a poll session.
type ProgressEntry struct {
	Status     Status    `json:"status"`
	Percent    int       `json:"percent"`
	ObservedAt time.Time `json:"observedAt"`
}

// ProgressLog records the distinct statuses observed during a single
// poll session, in order. Consecutive repeats collapse into one entry.
// It is session-local and never persisted.
type ProgressLog struct {
	entries []ProgressEntry
}

// Observe appends an entry unless the status matches the most recent one.
// It reports whether a new entry was recorded.
func (l *ProgressLog) Observe(s Status) bool {
	if n := len(l.entries); n > 0 && l.entries[n-1].Status == s {
		return false
	}
	l.entries = append(l.entries, ProgressEntry{
		Status:     s,
		Percent:    Percent(s),
		ObservedAt: time.Now(),
	})
	return true
}

// Entries returns a copy of the recorded entries.
func (l *ProgressLog) Entries() []ProgressEntry {
	out := make([]ProgressEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of distinct entries recorded.
func (l *ProgressLog) Len() int {
	return len(l.entries)
}
