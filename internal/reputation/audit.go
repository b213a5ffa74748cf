package reputation

import (
	"sync"

	"github.com/mathieu-neron/DeFacto/defacto-go/internal/model"
)

// AuditLog is the append-only record of reward, slash and neutral outcomes
// written when a round reaches consensus.
type AuditLog struct {
	mu      sync.RWMutex
	entries []model.AuditEntry
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// Append records entries in order.
func (l *AuditLog) Append(entries ...model.AuditEntry) {
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	l.entries = append(l.entries, entries...)
	l.mu.Unlock()
}

// Since returns entries after the first n and the new cursor.
func (l *AuditLog) Since(n int) ([]model.AuditEntry, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n >= len(l.entries) {
		return nil, len(l.entries)
	}
	out := make([]model.AuditEntry, len(l.entries)-n)
	copy(out, l.entries[n:])
	return out, len(l.entries)
}

// ForVoter returns the voter's entries in order.
func (l *AuditLog) ForVoter(voter string) []model.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.AuditEntry
	for _, e := range l.entries {
		if e.Voter == voter {
			out = append(out, e)
		}
	}
	return out
}

// ForClaim returns the entries written when claimID was resolved.
func (l *AuditLog) ForClaim(claimID uint64) []model.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.AuditEntry
	for _, e := range l.entries {
		if e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// RecomputeAccuracy derives validation counts for voter from entries alone.
// Each entry is one decided validation; REWARD entries are the correct ones.
func RecomputeAccuracy(entries []model.AuditEntry, voter string) (total, correct int64) {
	for _, e := range entries {
		if e.Voter != voter {
			continue
		}
		total++
		if e.Direction == model.DirectionReward {
			correct++
		}
	}
	return total, correct
}
