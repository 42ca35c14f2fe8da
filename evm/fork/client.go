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
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"

	"github.com/mattsse/foundry/evm/state"
)

// ErrInvalidURL is returned when a fork reset or update is given an endpoint
// that no provider can be established for. The prior configuration stays in
// effect.
var ErrInvalidURL = errors.New("invalid fork url")

// Config describes how a fork is pinned: the endpoint it fetches from, the
// block it is frozen at and the remote chain's id.
type Config struct {
	URL         string
	BlockNumber uint64
	BlockHash   common.Hash
	ChainID     uint64

	provider Provider
}

// ClientFork is a shared handle to a remote chain pinned at a specific block.
// All clones of the handle observe the same underlying cache and config; the
// cache is filled on demand by read-through fetches and only emptied by an
// explicit reset.
type ClientFork struct {
	mu      sync.RWMutex // guards storage
	storage *forkedStorage

	cfgMu  sync.RWMutex // guards config and disk
	config Config
	disk   *diskCache // nil when caching is disabled

	group singleflight.Group
	dial  func(url string) (Provider, error)
}

// NewClientFork creates a fork handle for the given config. If cachePath is
// non-empty, previously persisted data for the same chain and pinned block is
// loaded and flushes will write back to that file.
func NewClientFork(config Config, cachePath string) *ClientFork {
	f := &ClientFork{
		storage: newForkedStorage(),
		config:  config,
		dial:    Dial,
	}
	if cachePath != "" {
		f.disk = newDiskCache(cachePath, cacheMeta{
			ChainID:     config.ChainID,
			BlockNumber: config.BlockNumber,
			BlockHash:   config.BlockHash,
		})
		storage, err := f.disk.load()
		if err != nil {
			log.Warn("Failed to load fork cache, starting fresh", "path", cachePath, "err", err)
			storage = newForkedStorage()
		}
		f.storage = storage
	}
	return f
}

// BlockNumber returns the pinned block number.
func (f *ClientFork) BlockNumber() uint64 {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	return f.config.BlockNumber
}

// BlockHash returns the pinned block hash.
func (f *ClientFork) BlockHash() common.Hash {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	return f.config.BlockHash
}

// ChainID returns the remote chain's id.
func (f *ClientFork) ChainID() uint64 {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	return f.config.ChainID
}

// URL returns the remote endpoint the fork fetches from.
func (f *ClientFork) URL() string {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	return f.config.URL
}

// PredatesFork reports whether the given block is at or before the pin.
func (f *ClientFork) PredatesFork(block uint64) bool {
	return block <= f.BlockNumber()
}

func (f *ClientFork) provider() Provider {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	return f.config.provider
}

func (f *ClientFork) pinnedBlock() *big.Int {
	return new(big.Int).SetUint64(f.BlockNumber())
}

// validateBlock checks that the given provider can serve the block and
// returns its hash. Provider errors are reported, not retried.
func validateBlock(ctx context.Context, provider Provider, number uint64) (common.Hash, error) {
	block, err := provider.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, fmt.Errorf("block %d not accessible on fork endpoint: %w", number, err)
	}
	return block.Hash(), nil
}

// prepareProvider dials a provider for the given url. It returns a nil
// provider when the url is empty or already bound, and ErrInvalidURL on a
// failed dial, leaving the config untouched either way.
func (f *ClientFork) prepareProvider(url string) (Provider, error) {
	if url == "" || url == f.URL() {
		return nil, nil
	}
	provider, err := f.dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURL, url, err)
	}
	return provider, nil
}

// applyConfig installs a new endpoint and/or pinned block on the config
// record. A non-nil provider replaces (and closes) the current one.
func (f *ClientFork) applyConfig(url string, provider Provider, blockNumber *uint64, blockHash common.Hash) {
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()

	if provider != nil {
		if f.config.provider != nil {
			f.config.provider.Close()
		}
		f.config.provider = provider
		f.config.URL = url
		log.Trace("Updated fork rpc url", "url", url)
	}
	if blockNumber != nil {
		f.config.BlockNumber = *blockNumber
		f.config.BlockHash = blockHash
		log.Trace("Updated fork block number", "number", *blockNumber)
	}
	if f.disk != nil {
		f.disk.meta = cacheMeta{
			ChainID:     f.config.ChainID,
			BlockNumber: f.config.BlockNumber,
			BlockHash:   f.config.BlockHash,
		}
	}
}

// clearCachedStorage drops every cached entry. The whole cache is replaced,
// never partially cleared.
func (f *ClientFork) clearCachedStorage() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storage = newForkedStorage()
}

// flushCache persists the cache to disk if caching is enabled for this fork.
func (f *ClientFork) flushCache() error {
	f.cfgMu.RLock()
	disk := f.disk
	f.cfgMu.RUnlock()
	if disk == nil {
		return nil
	}
	f.mu.RLock()
	snapshot := f.storage.copy()
	f.mu.RUnlock()
	return disk.flush(snapshot)
}

// AccountAt returns the account info of addr at the pinned block, fetching
// balance, nonce and code from the remote endpoint on the first access.
// Concurrent misses for the same address are deduplicated; reads of already
// cached keys do not contend with in-flight fetches.
func (f *ClientFork) AccountAt(ctx context.Context, addr common.Address) (state.AccountInfo, error) {
	f.mu.RLock()
	if info, ok := f.storage.accounts[addr]; ok {
		f.mu.RUnlock()
		return info.Copy(), nil
	}
	f.mu.RUnlock()

	key := fmt.Sprintf("account/%d/%s", f.BlockNumber(), addr.Hex())
	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		log.Trace("Fetching remote account", "addr", addr, "block", f.BlockNumber())
		provider, block := f.provider(), f.pinnedBlock()

		balance, err := provider.BalanceAt(ctx, addr, block)
		if err != nil {
			return nil, err
		}
		nonce, err := provider.NonceAt(ctx, addr, block)
		if err != nil {
			return nil, err
		}
		code, err := provider.CodeAt(ctx, addr, block)
		if err != nil {
			return nil, err
		}
		info := state.AccountInfo{
			Balance:  new(uint256.Int),
			Nonce:    nonce,
			Code:     code,
			CodeHash: state.EmptyCodeHash,
		}
		info.Balance.SetFromBig(balance)
		if len(code) > 0 {
			info.CodeHash = crypto.Keccak256Hash(code)
		}

		f.mu.Lock()
		f.storage.accounts[addr] = info
		f.storage.code[codeKey{addr, block.Uint64()}] = code
		f.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return state.NewAccountInfo(), &state.FetchError{Op: "basic", Err: err}
	}
	info := v.(state.AccountInfo)
	return info.Copy(), nil
}

// StorageAt returns the value of the given slot at the pinned block.
func (f *ClientFork) StorageAt(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	f.mu.RLock()
	if slots, ok := f.storage.storage[addr]; ok {
		if val, ok := slots[slot]; ok {
			f.mu.RUnlock()
			return val, nil
		}
	}
	f.mu.RUnlock()

	key := fmt.Sprintf("storage/%d/%s/%s", f.BlockNumber(), addr.Hex(), slot.Hex())
	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		log.Trace("Fetching remote storage", "addr", addr, "slot", slot, "block", f.BlockNumber())
		raw, err := f.provider().StorageAt(ctx, addr, slot, f.pinnedBlock())
		if err != nil {
			return nil, err
		}
		val := common.BytesToHash(raw)

		f.mu.Lock()
		slots, ok := f.storage.storage[addr]
		if !ok {
			slots = make(map[common.Hash]common.Hash)
			f.storage.storage[addr] = slots
		}
		slots[slot] = val
		f.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return common.Hash{}, &state.FetchError{Op: "storage", Err: err}
	}
	return v.(common.Hash), nil
}

// CodeAt returns the code of addr at the given block number. Entries are
// keyed by both address and block so they never alias across pins.
func (f *ClientFork) CodeAt(ctx context.Context, addr common.Address, blockNumber uint64) ([]byte, error) {
	f.mu.RLock()
	if code, ok := f.storage.code[codeKey{addr, blockNumber}]; ok {
		f.mu.RUnlock()
		return code, nil
	}
	f.mu.RUnlock()

	key := fmt.Sprintf("code/%d/%s", blockNumber, addr.Hex())
	v, err, _ := f.group.Do(key, func() (interface{}, error) {
		log.Trace("Fetching remote code", "addr", addr, "block", blockNumber)
		code, err := f.provider().CodeAt(ctx, addr, new(big.Int).SetUint64(blockNumber))
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.storage.code[codeKey{addr, blockNumber}] = code
		f.mu.Unlock()
		return code, nil
	})
	if err != nil {
		return nil, &state.FetchError{Op: "code", Err: err}
	}
	return v.([]byte), nil
}

// codeByHash resolves code against the already fetched accounts. There is no
// remote endpoint for code-by-hash, so only cached code can be served.
func (f *ClientFork) codeByHash(hash common.Hash) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if hash == state.EmptyCodeHash || hash == (common.Hash{}) {
		return nil, nil
	}
	for _, info := range f.storage.accounts {
		if info.CodeHash == hash {
			return info.Code, nil
		}
	}
	return nil, nil
}

// BlockByHash returns the block with the given hash.
func (f *ClientFork) BlockByHash(ctx context.Context, hash common.Hash) (*types.Block, error) {
	f.mu.RLock()
	if block, ok := f.storage.blocks[hash]; ok {
		f.mu.RUnlock()
		return block, nil
	}
	f.mu.RUnlock()

	block, err := f.provider().BlockByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.storage.blocks[hash] = block
	f.storage.hashes[block.NumberU64()] = hash
	f.mu.Unlock()
	return block, nil
}

// BlockByNumber returns the block with the given number.
func (f *ClientFork) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	f.mu.RLock()
	if hash, ok := f.storage.hashes[number]; ok {
		if block, ok := f.storage.blocks[hash]; ok {
			f.mu.RUnlock()
			return block, nil
		}
	}
	f.mu.RUnlock()

	block, err := f.provider().BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.storage.blocks[block.Hash()] = block
	f.storage.hashes[number] = block.Hash()
	f.mu.Unlock()
	return block, nil
}

// TransactionByHash returns the transaction with the given hash.
func (f *ClientFork) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	f.mu.RLock()
	if tx, ok := f.storage.transactions[hash]; ok {
		f.mu.RUnlock()
		return tx, nil
	}
	f.mu.RUnlock()

	tx, _, err := f.provider().TransactionByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.storage.transactions[hash] = tx
	f.mu.Unlock()
	return tx, nil
}

// TransactionReceipt returns the receipt of the given transaction.
func (f *ClientFork) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.RLock()
	if receipt, ok := f.storage.receipts[hash]; ok {
		f.mu.RUnlock()
		return receipt, nil
	}
	f.mu.RUnlock()

	receipt, err := f.provider().TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.storage.receipts[hash] = receipt
	f.mu.Unlock()
	return receipt, nil
}

// TraceTransaction returns the parity-style traces of the given transaction.
func (f *ClientFork) TraceTransaction(ctx context.Context, hash common.Hash) ([]Trace, error) {
	f.mu.RLock()
	if traces, ok := f.storage.txTraces[hash]; ok {
		f.mu.RUnlock()
		return traces, nil
	}
	f.mu.RUnlock()

	traces, err := f.provider().TraceTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.storage.txTraces[hash] = traces
	f.mu.Unlock()
	return traces, nil
}

// TraceBlock returns the parity-style traces of all transactions in the
// given block.
func (f *ClientFork) TraceBlock(ctx context.Context, number uint64) ([]Trace, error) {
	f.mu.RLock()
	if traces, ok := f.storage.blockTraces[number]; ok {
		f.mu.RUnlock()
		return traces, nil
	}
	f.mu.RUnlock()

	traces, err := f.provider().TraceBlock(ctx, number)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.storage.blockTraces[number] = traces
	f.mu.Unlock()
	return traces, nil
}

// Logs relays a log filter query to the remote endpoint. Filter results are
// not cached since the query space is unbounded.
func (f *ClientFork) Logs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return f.provider().FilterLogs(ctx, query)
}
