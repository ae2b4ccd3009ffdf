// Package inmem provides an in-memory implementation of wal.Backend,
// grounded on the teacher's sequence-cursor runlog store. It serves two
// roles: the WAL's automatic degraded-mode buffer, and the primary backend
// that tests and cmd/fabricd pass explicitly in place of runtime/wal/pulsewal.
package inmem

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/execfabric/fabric/runtime/wal"
)

// Store implements wal.Backend in memory. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	nextSeq map[string]int64
	entries map[string][]wal.RawEntry
	groups  map[string]map[string]int // partition|group -> last acked index (exclusive)
}

// New returns an empty in-memory WAL backend.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		entries: make(map[string][]wal.RawEntry),
		groups:  make(map[string]map[string]int),
	}
}

func (s *Store) Add(_ context.Context, partition string, fields map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[partition] + 1
	s.nextSeq[partition] = seq
	id := strconv.FormatInt(seq, 10)
	s.entries[partition] = append(s.entries[partition], wal.RawEntry{ID: id, Fields: fields})
	return id, nil
}

func (s *Store) Range(_ context.Context, partition string, limit int) ([]wal.RawEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.entries[partition]
	out := make([]wal.RawEntry, len(all))
	copy(out, all)
	sort.Slice(out, func(i, j int) bool {
		si, _ := strconv.ParseInt(out[i].ID, 10, 64)
		sj, _ := strconv.ParseInt(out[j].ID, 10, 64)
		return si < sj
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) CreateGroup(_ context.Context, partition, group string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := partition
	if s.groups[key] == nil {
		s.groups[key] = make(map[string]int)
	}
	if _, ok := s.groups[key][group]; !ok {
		s.groups[key][group] = 0
	}
	return nil
}

// ReadGroup returns every entry after the group's last-acked position (the
// ">" semantics from spec §4.6), up to count. consumer is accepted for
// interface parity with the durable backend but this in-memory
// implementation does not track per-consumer pending sets.
func (s *Store) ReadGroup(_ context.Context, partition, group, _ string, count int, _ time.Duration) ([]wal.RawEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groups[partition] == nil {
		s.groups[partition] = make(map[string]int)
	}
	start := s.groups[partition][group]
	all := s.entries[partition]
	if start >= len(all) {
		return nil, nil
	}
	end := len(all)
	if count > 0 && start+count < end {
		end = start + count
	}
	out := make([]wal.RawEntry, end-start)
	copy(out, all[start:end])
	return out, nil
}

func (s *Store) Ack(_ context.Context, partition, group string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if s.groups[partition] == nil {
		return nil
	}
	// The in-memory backend delivers strictly in order, so acking any id
	// advances the cursor past the highest acked sequence seen so far.
	var maxSeq int64
	for _, id := range ids {
		seq, err := strconv.ParseInt(id, 10, 64)
		if err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}
	if cur := s.groups[partition][group]; int64(cur) < maxSeq {
		s.groups[partition][group] = int(maxSeq)
	}
	return nil
}

var _ wal.Backend = (*Store)(nil)
