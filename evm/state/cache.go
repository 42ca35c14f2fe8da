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

import "github.com/ethereum/go-ethereum/common"

// CacheDB is a write overlay on top of a read-only fallback. Reads consult
// the overlay first and pass through to the fallback on a miss; writes only
// ever land in the overlay, shadowing the fallback value for that key.
type CacheDB struct {
	overlay  *MemDB
	fallback DatabaseReader
}

// NewCacheDB creates an empty overlay over the given fallback reader.
func NewCacheDB(fallback DatabaseReader) *CacheDB {
	return &CacheDB{overlay: NewMemDB(), fallback: fallback}
}

// RestoreCacheDB creates an overlay seeded from a previously captured copy,
// used to revert a backend to a snapshot.
func RestoreCacheDB(overlay *MemDB, fallback DatabaseReader) *CacheDB {
	return &CacheDB{overlay: overlay.Copy(), fallback: fallback}
}

// Overlay returns a deep copy of the write overlay, e.g. for snapshots.
func (db *CacheDB) Overlay() *MemDB {
	return db.overlay.Copy()
}

// Basic returns the overlay account if present, otherwise the fallback's.
func (db *CacheDB) Basic(addr common.Address) (AccountInfo, error) {
	if db.overlay.Exists(addr) {
		return db.overlay.Basic(addr)
	}
	return db.fallback.Basic(addr)
}

// CodeByHash resolves code from the overlay first, then the fallback.
func (db *CacheDB) CodeByHash(hash common.Hash) ([]byte, error) {
	if code, err := db.overlay.CodeByHash(hash); err != nil || len(code) > 0 {
		return code, err
	}
	return db.fallback.CodeByHash(hash)
}

// Storage returns the overlay slot value if the slot was written, otherwise
// the fallback's.
func (db *CacheDB) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	db.overlay.lock.RLock()
	slots, ok := db.overlay.storage[addr]
	if ok {
		if val, written := slots[slot]; written {
			db.overlay.lock.RUnlock()
			return val, nil
		}
	}
	db.overlay.lock.RUnlock()

	return db.fallback.Storage(addr, slot)
}

// BlockHash returns the overlay hash if recorded, otherwise the fallback's.
func (db *CacheDB) BlockHash(number uint64) (common.Hash, error) {
	if hash, err := db.overlay.BlockHash(number); err != nil || hash != (common.Hash{}) {
		return hash, err
	}
	return db.fallback.BlockHash(number)
}

// InsertAccount writes the account into the overlay.
func (db *CacheDB) InsertAccount(addr common.Address, info AccountInfo) {
	db.overlay.InsertAccount(addr, info)
}

// SetStorage writes a storage slot into the overlay.
func (db *CacheDB) SetStorage(addr common.Address, slot, value common.Hash) {
	db.overlay.SetStorage(addr, slot, value)
}

// Commit applies a changeset to the overlay.
func (db *CacheDB) Commit(changes Changeset) {
	db.overlay.Commit(changes)
}
