// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package recovery

import (
	"context"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/vigilcore/vigil/internal/errs"
)

const (
	// runKeyPrefix namespaces optimizer run history in the shared store.
	runKeyPrefix = "recovery:runs:"

	// maxRunsPerSignature bounds history per issue signature.
	maxRunsPerSignature = 20
)

// RunStore persists genetic run history per issue signature, for audit and
// for seeding future runs.
type RunStore interface {
	SaveRun(ctx context.Context, signature string, run *RunRecord) error
	LoadRuns(ctx context.Context, signature string) ([]*RunRecord, error)
}

// BadgerRunStore implements RunStore on BadgerDB, so run history survives
// process restarts.
type BadgerRunStore struct {
	db *badger.DB
}

// NewBadgerRunStore creates a store on the provided BadgerDB instance.
func NewBadgerRunStore(db *badger.DB) *BadgerRunStore {
	return &BadgerRunStore{db: db}
}

// SaveRun appends a run under its signature, truncating oldest-first at
// the per-signature cap.
func (s *BadgerRunStore) SaveRun(ctx context.Context, signature string, run *RunRecord) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		runs, err := loadRunsTxn(txn, signature)
		if err != nil {
			return err
		}
		runs = append(runs, run)
		if len(runs) > maxRunsPerSignature {
			runs = runs[len(runs)-maxRunsPerSignature:]
		}
		data, err := json.Marshal(runs)
		if err != nil {
			return err
		}
		return txn.Set([]byte(runKeyPrefix+signature), data)
	})
	if err != nil {
		return errs.Wrap(errs.KindInternal, "recovery.archive", err)
	}
	return nil
}

// LoadRuns returns the archived runs for a signature, oldest first. A
// signature never seen yields an empty slice, not an error.
func (s *BadgerRunStore) LoadRuns(ctx context.Context, signature string) ([]*RunRecord, error) {
	var runs []*RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		runs, err = loadRunsTxn(txn, signature)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "recovery.archive", err)
	}
	return runs, nil
}

func loadRunsTxn(txn *badger.Txn, signature string) ([]*RunRecord, error) {
	item, err := txn.Get([]byte(runKeyPrefix + signature))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var runs []*RunRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &runs)
	})
	return runs, err
}

// MemoryRunStore implements RunStore in memory, for tests and for
// deployments without an archive path.
type MemoryRunStore struct {
	mu   sync.Mutex
	runs map[string][]*RunRecord
}

// NewMemoryRunStore creates an empty in-memory store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string][]*RunRecord)}
}

// SaveRun appends a run under its signature.
func (s *MemoryRunStore) SaveRun(_ context.Context, signature string, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := append(s.runs[signature], run)
	if len(runs) > maxRunsPerSignature {
		runs = runs[len(runs)-maxRunsPerSignature:]
	}
	s.runs[signature] = runs
	return nil
}

// LoadRuns returns copies of the archived runs, oldest first.
func (s *MemoryRunStore) LoadRuns(_ context.Context, signature string) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RunRecord, len(s.runs[signature]))
	copy(out, s.runs[signature])
	return out, nil
}
