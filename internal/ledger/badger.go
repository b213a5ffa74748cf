package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var (
	opPrefix = []byte("journal/op/")
	idPrefix = []byte("journal/id/")
)

// BadgerJournal persists operations in an embedded BadgerDB.
// Keys are ordered by sequence so Scan walks the journal in order.
type BadgerJournal struct {
	db *badger.DB

	mu  sync.Mutex
	seq uint64
}

// NewBadgerJournal opens a journal over db and recovers the last sequence.
func NewBadgerJournal(db *badger.DB) (*BadgerJournal, error) {
	j := &BadgerJournal{db: db}
	if err := j.initSeq(); err != nil {
		return nil, fmt.Errorf("recover journal sequence: %w", err)
	}
	return j, nil
}

func (j *BadgerJournal) initSeq() error {
	return j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the last possible op key.
		seekKey := append(append([]byte{}, opPrefix...), 0xFF)
		it.Seek(seekKey)
		if it.ValidForPrefix(opPrefix) {
			j.seq = decodeSeq(it.Item().Key()[len(opPrefix):])
		}
		return nil
	})
}

func opKey(seq uint64) []byte {
	k := make([]byte, len(opPrefix)+8)
	copy(k, opPrefix)
	binary.BigEndian.PutUint64(k[len(opPrefix):], seq)
	return k
}

func idKey(op Operation) []byte {
	return append(append([]byte{}, idPrefix...), op.ID[:]...)
}

func decodeSeq(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (j *BadgerJournal) Submit(ctx context.Context, op Operation) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	var existing uint64
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(op))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			existing = decodeSeq(val)
			return nil
		})
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("lookup operation %s: %w", op.ID, err)
	}
	if existing != 0 {
		return Receipt{Seq: existing, TxID: op.ID.String()}, nil
	}

	seq := j.seq + 1
	op.Seq = seq
	data, err := json.Marshal(op)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode operation: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(opKey(seq), data); err != nil {
			return err
		}
		return txn.Set(idKey(op), opKey(seq)[len(opPrefix):])
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("write operation %d: %w", seq, err)
	}
	j.seq = seq
	return Receipt{Seq: seq, TxID: op.ID.String()}, nil
}

func (j *BadgerJournal) Scan(ctx context.Context, after uint64, fn func(Operation) error) error {
	return j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(opKey(after + 1)); it.ValidForPrefix(opPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var op Operation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &op)
			})
			if err != nil {
				return fmt.Errorf("decode operation: %w", err)
			}
			if err := fn(op); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastSeq returns the highest recorded sequence number.
func (j *BadgerJournal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Ping checks the store is readable.
func (j *BadgerJournal) Ping(context.Context) error {
	if j.db.IsClosed() {
		return errors.New("badger journal is closed")
	}
	return nil
}
