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

package fork

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mattsse/foundry/evm/state"
)

// forkReader adapts a ClientFork to the account store read capability. Every
// miss turns into a blocking remote fetch through the fork handle.
type forkReader struct {
	client *ClientFork
}

func (r forkReader) Basic(addr common.Address) (state.AccountInfo, error) {
	return r.client.AccountAt(context.Background(), addr)
}

func (r forkReader) CodeByHash(hash common.Hash) ([]byte, error) {
	return r.client.codeByHash(hash)
}

func (r forkReader) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return r.client.StorageAt(context.Background(), addr, slot)
}

func (r forkReader) BlockHash(number uint64) (common.Hash, error) {
	block, err := r.client.BlockByNumber(context.Background(), number)
	if err != nil {
		return common.Hash{}, &state.FetchError{Op: "blockHash", Err: err}
	}
	return block.Hash(), nil
}

// ForkedDatabase is an account store forked off a remote client. Reads are
// served read-through from the fork handle's shared cache; writes only ever
// land in a local overlay and are visible to subsequent reads on the same
// instance, shadowing any cached or remote value.
type ForkedDatabase struct {
	client *ClientFork
	cache  *state.CacheDB
}

// NewForkedDatabase creates a forked account store over the given handle.
func NewForkedDatabase(client *ClientFork) *ForkedDatabase {
	return &ForkedDatabase{
		client: client,
		cache:  state.NewCacheDB(forkReader{client}),
	}
}

// Client returns the underlying fork handle.
func (db *ForkedDatabase) Client() *ClientFork { return db.client }

func (db *ForkedDatabase) Basic(addr common.Address) (state.AccountInfo, error) {
	return db.cache.Basic(addr)
}

func (db *ForkedDatabase) CodeByHash(hash common.Hash) ([]byte, error) {
	return db.cache.CodeByHash(hash)
}

func (db *ForkedDatabase) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	return db.cache.Storage(addr, slot)
}

func (db *ForkedDatabase) BlockHash(number uint64) (common.Hash, error) {
	return db.cache.BlockHash(number)
}

func (db *ForkedDatabase) InsertAccount(addr common.Address, info state.AccountInfo) {
	db.cache.InsertAccount(addr, info)
}

func (db *ForkedDatabase) SetStorage(addr common.Address, slot, value common.Hash) {
	db.cache.SetStorage(addr, slot, value)
}

func (db *ForkedDatabase) Commit(changes state.Changeset) {
	db.cache.Commit(changes)
}

// Overlay returns the local write overlay, used for snapshots. Cache entries
// are reconstructible and are deliberately not part of a snapshot.
func (db *ForkedDatabase) Overlay() *state.MemDB {
	return db.cache.Overlay()
}

// RestoreOverlay replaces the local write overlay, used for snapshot revert.
func (db *ForkedDatabase) RestoreOverlay(overlay *state.MemDB) {
	db.cache = state.RestoreCacheDB(overlay, forkReader{client: db.client})
}

// Reset re-pins the fork and drops all cached and locally written state. If
// newURL is non-empty the fork is rebound to that endpoint, dialed before
// anything else changes; if newBlock is non-nil the block is validated
// against the endpoint that will serve it. Any failure leaves the prior
// config and caches in effect.
func (db *ForkedDatabase) Reset(newURL string, newBlock *uint64) error {
	provider, err := db.client.prepareProvider(newURL)
	if err != nil {
		return err
	}

	var blockHash common.Hash
	if newBlock != nil {
		serving := provider
		if serving == nil {
			serving = db.client.provider()
		}
		hash, err := validateBlock(context.Background(), serving, *newBlock)
		if err != nil {
			if provider != nil {
				provider.Close()
			}
			return err
		}
		blockHash = hash
	}

	// The write overlay belongs to this database, the fetch cache to the
	// shared handle; both start over.
	db.cache = state.NewCacheDB(forkReader{client: db.client})
	db.client.clearCachedStorage()
	log.Trace("Cleared fork database")

	db.client.applyConfig(newURL, provider, newBlock, blockHash)
	return nil
}

// FlushCache persists the fork handle's cache to disk if caching is enabled.
// Failures are logged, never propagated: a flush must not abort a shutdown
// sequence.
func (db *ForkedDatabase) FlushCache() {
	if err := db.client.flushCache(); err != nil {
		log.Warn("Failed to flush fork cache", "err", err)
	}
}
