package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryJournal keeps operations in process memory.
type MemoryJournal struct {
	mu   sync.Mutex
	ops  []Operation
	byID map[uuid.UUID]Receipt
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{byID: make(map[uuid.UUID]Receipt)}
}

func (j *MemoryJournal) Submit(ctx context.Context, op Operation) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if r, ok := j.byID[op.ID]; ok {
		return r, nil
	}
	op.Seq = uint64(len(j.ops)) + 1
	j.ops = append(j.ops, op)
	r := Receipt{Seq: op.Seq, TxID: op.ID.String()}
	j.byID[op.ID] = r
	return r, nil
}

func (j *MemoryJournal) Scan(ctx context.Context, after uint64, fn func(Operation) error) error {
	j.mu.Lock()
	ops := make([]Operation, len(j.ops))
	copy(ops, j.ops)
	j.mu.Unlock()

	for _, op := range ops {
		if op.Seq <= after {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(op); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of recorded operations.
func (j *MemoryJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.ops)
}

// Ops returns a copy of the recorded operations.
func (j *MemoryJournal) Ops() []Operation {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Operation, len(j.ops))
	copy(out, j.ops)
	return out
}
