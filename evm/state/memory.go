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

package state

import (
	"maps"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemDB is a plain in-memory account store. It is the backing store of the
// simple backend variant and the write overlay of the forked one.
//
// All methods are safe for concurrent use.
type MemDB struct {
	lock sync.RWMutex

	accounts    map[common.Address]AccountInfo
	storage     map[common.Address]map[common.Hash]common.Hash
	codeByHash  map[common.Hash][]byte
	blockHashes map[uint64]common.Hash
}

// NewMemDB creates an empty in-memory account store.
func NewMemDB() *MemDB {
	return &MemDB{
		accounts:    make(map[common.Address]AccountInfo),
		storage:     make(map[common.Address]map[common.Hash]common.Hash),
		codeByHash:  make(map[common.Hash][]byte),
		blockHashes: make(map[uint64]common.Hash),
	}
}

// Basic returns the stored account info, or the zero-valued default for an
// address that was never written.
func (db *MemDB) Basic(addr common.Address) (AccountInfo, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if info, ok := db.accounts[addr]; ok {
		return info.Copy(), nil
	}
	return NewAccountInfo(), nil
}

// Exists reports whether the address was ever written.
func (db *MemDB) Exists(addr common.Address) bool {
	db.lock.RLock()
	defer db.lock.RUnlock()

	_, ok := db.accounts[addr]
	return ok
}

// CodeByHash returns the code previously inserted under the given hash.
func (db *MemDB) CodeByHash(hash common.Hash) ([]byte, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if hash == EmptyCodeHash || hash == (common.Hash{}) {
		return nil, nil
	}
	return db.codeByHash[hash], nil
}

// Storage returns the stored slot value, or the zero hash for an unset slot.
func (db *MemDB) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if slots, ok := db.storage[addr]; ok {
		return slots[slot], nil
	}
	return common.Hash{}, nil
}

// BlockHash returns the recorded hash for the given block number, or the zero
// hash if none was recorded.
func (db *MemDB) BlockHash(number uint64) (common.Hash, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	return db.blockHashes[number], nil
}

// InsertAccount writes the account info for the given address.
func (db *MemDB) InsertAccount(addr common.Address, info AccountInfo) {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.insertAccount(addr, info)
}

func (db *MemDB) insertAccount(addr common.Address, info AccountInfo) {
	info.normalize()
	db.accounts[addr] = info
	if len(info.Code) > 0 {
		db.codeByHash[info.CodeHash] = info.Code
	}
}

// SetStorage writes a single storage slot.
func (db *MemDB) SetStorage(addr common.Address, slot, value common.Hash) {
	db.lock.Lock()
	defer db.lock.Unlock()

	slots, ok := db.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		db.storage[addr] = slots
	}
	slots[slot] = value
}

// SetBlockHash records the hash of the given block number.
func (db *MemDB) SetBlockHash(number uint64, hash common.Hash) {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.blockHashes[number] = hash
}

// Commit applies a changeset. Accounts are created as needed, storage slots
// carried by the changeset are overwritten. Since changesets hold absolute
// post-call values, committing the same changeset twice is a no-op the second
// time.
func (db *MemDB) Commit(changes Changeset) {
	db.lock.Lock()
	defer db.lock.Unlock()

	for addr, change := range changes {
		db.insertAccount(addr, change.Info.Copy())
		if len(change.Storage) == 0 {
			continue
		}
		slots, ok := db.storage[addr]
		if !ok {
			slots = make(map[common.Hash]common.Hash)
			db.storage[addr] = slots
		}
		for slot, val := range change.Storage {
			slots[slot] = val
		}
	}
}

// Copy returns a deep copy of the database, e.g. for snapshots.
func (db *MemDB) Copy() *MemDB {
	db.lock.RLock()
	defer db.lock.RUnlock()

	cpy := NewMemDB()
	for addr, info := range db.accounts {
		cpy.accounts[addr] = info.Copy()
	}
	for addr, slots := range db.storage {
		cpy.storage[addr] = maps.Clone(slots)
	}
	maps.Copy(cpy.codeByHash, db.codeByHash)
	maps.Copy(cpy.blockHashes, db.blockHashes)
	return cpy
}

// Clear drops all stored state.
func (db *MemDB) Clear() {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.accounts = make(map[common.Address]AccountInfo)
	db.storage = make(map[common.Address]map[common.Hash]common.Hash)
	db.codeByHash = make(map[common.Hash][]byte)
	db.blockHashes = make(map[uint64]common.Hash)
}
