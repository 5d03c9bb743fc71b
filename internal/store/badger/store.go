// Package badger is an embedded core.JobStore on top of Badger.
//
// Job records live under "job/<id>". Every job is indexed under
// "all/<created_at><seq>" and under "idx/<status>/<created_at><seq>", and
// "count/<status>" holds the number of jobs in each status. The oldest
// pending job is the first key of "idx/PENDING/". A claim reads the index
// entry and the record and rewrites them in one read-write transaction;
// Badger aborts the later of two overlapping claims with ErrConflict, which
// is the conditional put the queue relies on.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/orderflow/backend/internal/core"
)

const maxConflictRetries = 100

var (
	jobPrefix   = []byte("job/")
	allPrefix   = []byte("all/")
	sequenceKey = []byte("seq/jobs")
)

var _ core.JobStore = (*Store)(nil)

type Store struct {
	db     *badgerdb.DB
	seq    *badgerdb.Sequence
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open opens (or creates) a store in dir. An empty dir keeps everything in
// memory.
func Open(dir string, opts ...Option) (*Store, error) {
	var bopts badgerdb.Options
	if dir == "" {
		bopts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		bopts = badgerdb.DefaultOptions(dir)
	}
	bopts.Logger = nil

	db, err := badgerdb.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open job sequence: %w", err)
	}

	s := &Store{
		db:     db,
		seq:    seq,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("release job sequence", slog.String("error", err.Error()))
	}
	return s.db.Close()
}

type record struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	Type      core.JobType   `json:"type"`
	Payload   string         `json:"payload"`
	Status    core.JobStatus `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

func (r *record) job() *core.Job {
	return &core.Job{
		ID:        r.ID,
		Type:      r.Type,
		Payload:   []byte(r.Payload),
		Status:    r.Status,
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
}

func jobKey(id string) []byte {
	return append(append([]byte{}, jobPrefix...), id...)
}

func statusPrefix(status core.JobStatus) []byte {
	return []byte("idx/" + string(status) + "/")
}

func countKey(status core.JobStatus) []byte {
	return []byte("count/" + string(status))
}

// orderKey appends (created_at, seq) big-endian so byte order is queue order.
func orderKey(prefix []byte, r *record) []byte {
	key := make([]byte, 0, len(prefix)+16)
	key = append(key, prefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(r.CreatedAt))
	key = binary.BigEndian.AppendUint64(key, r.Seq)
	return key
}

func readCount(txn *badgerdb.Txn, status core.JobStatus) (int64, error) {
	item, err := txn.Get(countKey(status))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("count %s: bad length %d", status, len(val))
		}
		n = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return n, err
}

func addCount(txn *badgerdb.Txn, status core.JobStatus, delta int64) error {
	n, err := readCount(txn, status)
	if err != nil {
		return err
	}
	return txn.Set(countKey(status), binary.BigEndian.AppendUint64(nil, uint64(n+delta)))
}

// move reindexes r from one status to another. r.Status must already be to.
func move(txn *badgerdb.Txn, r *record, from, to core.JobStatus) error {
	if err := txn.Delete(orderKey(statusPrefix(from), r)); err != nil {
		return err
	}
	if err := txn.Set(orderKey(statusPrefix(to), r), []byte(r.ID)); err != nil {
		return err
	}
	if err := addCount(txn, from, -1); err != nil {
		return err
	}
	return addCount(txn, to, 1)
}

func loadRecord(txn *badgerdb.Txn, id string) (*record, error) {
	item, err := txn.Get(jobKey(id))
	if err != nil {
		return nil, err
	}
	var r record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &r, nil
}

func saveRecord(txn *badgerdb.Txn, r *record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", r.ID, err)
	}
	return txn.Set(jobKey(r.ID), data)
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction committed a conflicting write first.
func (s *Store) update(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) Enqueue(ctx context.Context, jobType core.JobType, payload []byte) (string, error) {
	seq, err := s.seq.Next()
	if err != nil {
		return "", core.NewStorageError("enqueue", err)
	}

	now := s.now().UTC().UnixNano()
	r := &record{
		ID:        uuid.NewString(),
		Seq:       seq,
		Type:      jobType,
		Payload:   string(payload),
		Status:    core.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.update(func(txn *badgerdb.Txn) error {
		if err := saveRecord(txn, r); err != nil {
			return err
		}
		if err := txn.Set(orderKey(allPrefix, r), []byte(r.ID)); err != nil {
			return err
		}
		if err := txn.Set(orderKey(statusPrefix(core.JobStatusPending), r), []byte(r.ID)); err != nil {
			return err
		}
		return addCount(txn, core.JobStatusPending, 1)
	})
	if err != nil {
		return "", core.NewStorageError("enqueue", err)
	}
	return r.ID, nil
}

func (s *Store) ClaimNext(ctx context.Context) (*core.Job, error) {
	var claimed *record

	err := s.update(func(txn *badgerdb.Txn) error {
		claimed = nil

		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = statusPrefix(core.JobStatusPending)
		it := txn.NewIterator(opts)
		it.Rewind()
		if !it.Valid() {
			it.Close()
			return nil
		}
		id, err := it.Item().ValueCopy(nil)
		it.Close()
		if err != nil {
			return err
		}

		r, err := loadRecord(txn, string(id))
		if err != nil {
			return err
		}
		if r.Status != core.JobStatusPending {
			return fmt.Errorf("pending index points at %s job %s", r.Status, r.ID)
		}

		r.Status = core.JobStatusProcessing
		r.UpdatedAt = s.now().UTC().UnixNano()
		if err := saveRecord(txn, r); err != nil {
			return err
		}
		if err := move(txn, r, core.JobStatusPending, core.JobStatusProcessing); err != nil {
			return err
		}
		claimed = r
		return nil
	})
	if err != nil {
		return nil, core.NewStorageError("claim", err)
	}
	if claimed == nil {
		return nil, nil
	}
	return claimed.job(), nil
}

// transition applies change to job id if it is currently in from.
func (s *Store) transition(op, id string, from, to core.JobStatus, change func(r *record)) error {
	var invalid *core.InvalidTransitionError

	err := s.update(func(txn *badgerdb.Txn) error {
		invalid = nil

		r, err := loadRecord(txn, id)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			invalid = &core.InvalidTransitionError{JobID: id, To: to}
			return nil
		}
		if err != nil {
			return err
		}
		if r.Status != from {
			invalid = &core.InvalidTransitionError{JobID: id, From: r.Status, To: to}
			return nil
		}

		r.Status = to
		r.UpdatedAt = s.now().UTC().UnixNano()
		if change != nil {
			change(r)
		}
		if err := move(txn, r, from, to); err != nil {
			return err
		}
		return saveRecord(txn, r)
	})
	if err != nil {
		return core.NewStorageError(op, err)
	}
	if invalid != nil {
		return invalid
	}
	return nil
}

func (s *Store) Resolve(ctx context.Context, id string, outcome core.Outcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}
	return s.transition("resolve", id, core.JobStatusProcessing, outcome.Status(), func(r *record) {
		if outcome.IsSuccess() {
			r.LastError = ""
			return
		}
		r.LastError = outcome.Message()
		if outcome.CountsAttempt() {
			r.Attempts++
		}
	})
}

func (s *Store) Requeue(ctx context.Context, id string) error {
	return s.transition("requeue", id, core.JobStatusFailed, core.JobStatusPending, nil)
}

func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	var reclaimed int

	err := s.update(func(txn *badgerdb.Txn) error {
		reclaimed = 0
		now := s.now().UTC()
		cutoff := now.Add(-olderThan).UnixNano()

		var stale []*record
		err := scanIndex(txn, statusPrefix(core.JobStatusProcessing), false, func(r *record) bool {
			if r.UpdatedAt < cutoff {
				stale = append(stale, r)
			}
			return true
		})
		if err != nil {
			return err
		}

		for _, r := range stale {
			r.Status = core.JobStatusPending
			r.UpdatedAt = now.UnixNano()
			if err := saveRecord(txn, r); err != nil {
				return err
			}
			if err := move(txn, r, core.JobStatusProcessing, core.JobStatusPending); err != nil {
				return err
			}
		}
		reclaimed = len(stale)
		return nil
	})
	if err != nil {
		return 0, core.NewStorageError("reclaim", err)
	}

	if reclaimed > 0 {
		s.logger.Warn("reclaimed stale processing jobs",
			slog.Int("count", reclaimed),
			slog.Duration("older_than", olderThan),
		)
	}
	return reclaimed, nil
}

func (s *Store) Get(ctx context.Context, id string) (*core.Job, error) {
	var r *record
	err := s.db.View(func(txn *badgerdb.Txn) error {
		var err error
		r, err = loadRecord(txn, id)
		return err
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, fmt.Errorf("get job %s: %w", id, core.ErrJobNotFound)
	}
	if err != nil {
		return nil, core.NewStorageError("get", err)
	}
	return r.job(), nil
}

// List walks an index newest first and stops once the window is full.
func (s *Store) List(ctx context.Context, filter core.JobFilter) ([]*core.Job, error) {
	prefix := allPrefix
	if filter.Status != "" {
		prefix = statusPrefix(filter.Status)
	}
	offset := max(filter.Offset, 0)
	limit := core.NormalizeLimit(filter.Limit)

	var jobs []*core.Job
	err := s.db.View(func(txn *badgerdb.Txn) error {
		skipped := 0
		return scanIndex(txn, prefix, true, func(r *record) bool {
			if filter.Type != "" && r.Type != filter.Type {
				return true
			}
			if skipped < offset {
				skipped++
				return true
			}
			jobs = append(jobs, r.job())
			return len(jobs) < limit
		})
	})
	if err != nil {
		return nil, core.NewStorageError("list", err)
	}
	return jobs, nil
}

// Stats reads the per-status counters.
func (s *Store) Stats(ctx context.Context) (core.QueueStats, error) {
	var stats core.QueueStats
	err := s.db.View(func(txn *badgerdb.Txn) error {
		for _, status := range core.JobStatuses {
			n, err := readCount(txn, status)
			if err != nil {
				return err
			}
			stats.Add(status, int(n))
		}
		return nil
	})
	if err != nil {
		return core.QueueStats{}, core.NewStorageError("stats", err)
	}
	return stats, nil
}

// scanIndex loads the record behind each index entry under prefix until fn
// returns false. reverse walks newest first.
func scanIndex(txn *badgerdb.Txn, prefix []byte, reverse bool, fn func(r *record) bool) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := txn.NewIterator(opts)
	defer it.Close()

	start := prefix
	if reverse {
		start = append(append([]byte{}, prefix...), bytes.Repeat([]byte{0xff}, 17)...)
	}

	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		id, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		r, err := loadRecord(txn, string(id))
		if err != nil {
			return err
		}
		if !fn(r) {
			return nil
		}
	}
	return nil
}
