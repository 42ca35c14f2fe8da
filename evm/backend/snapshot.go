// Copyright 2023 The foundry Authors
// This file is part of the foundry library.
//
// The foundry library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The foundry library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the foundry library. If not, see <http://www.gnu.org/licenses/>.

package backend

import (
	"github.com/mattsse/foundry/evm/fork"
	"github.com/mattsse/foundry/evm/state"
)

// backendSnapshot captures the restorable part of a backend: the local state
// (the overlay for a forked backend, the full store for a simple one), which
// fork was selected and whether a global failure was recorded. Fork cache
// entries are reconstructible and deliberately not captured.
type backendSnapshot struct {
	state      *state.MemDB
	activeFork fork.ForkID
	failure    bool
}

// snapshotStore hands out strictly increasing snapshot ids for the lifetime
// of one backend. Reverting to id N consumes N and invalidates every id
// above it.
type snapshotStore struct {
	nextID uint64
	snaps  map[uint64]*backendSnapshot
}

func newSnapshotStore() *snapshotStore {
	return &snapshotStore{snaps: make(map[uint64]*backendSnapshot)}
}

func (s *snapshotStore) insert(snap *backendSnapshot) uint64 {
	id := s.nextID
	s.nextID++
	s.snaps[id] = snap
	return id
}

// revertTo removes and returns the snapshot with the given id, discarding
// all snapshots taken after it. Unknown or superseded ids return false.
func (s *snapshotStore) revertTo(id uint64) (*backendSnapshot, bool) {
	snap, ok := s.snaps[id]
	if !ok {
		return nil, false
	}
	for sid := range s.snaps {
		if sid >= id {
			delete(s.snaps, sid)
		}
	}
	return snap, true
}
