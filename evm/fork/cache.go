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
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gofrs/flock"
	"github.com/golang/snappy"
	"github.com/holiman/uint256"

	"github.com/mattsse/foundry/evm/state"
)

// codeKey addresses a cached code blob. Code is keyed by both address and
// block number so an entry fetched against one pinned block is never reused
// to answer a query for a different one.
type codeKey struct {
	addr   common.Address
	number uint64
}

// forkedStorage holds all data fetched from the remote endpoint. Entries are
// append-only until an explicit clear; nothing is ever evicted by size or
// age, since every entry is pinned to an immutable block.
type forkedStorage struct {
	accounts     map[common.Address]state.AccountInfo
	storage      map[common.Address]map[common.Hash]common.Hash
	blocks       map[common.Hash]*types.Block
	hashes       map[uint64]common.Hash
	transactions map[common.Hash]*types.Transaction
	receipts     map[common.Hash]*types.Receipt
	txTraces     map[common.Hash][]Trace
	blockTraces  map[uint64][]Trace
	code         map[codeKey][]byte
}

func newForkedStorage() *forkedStorage {
	return &forkedStorage{
		accounts:     make(map[common.Address]state.AccountInfo),
		storage:      make(map[common.Address]map[common.Hash]common.Hash),
		blocks:       make(map[common.Hash]*types.Block),
		hashes:       make(map[uint64]common.Hash),
		transactions: make(map[common.Hash]*types.Transaction),
		receipts:     make(map[common.Hash]*types.Receipt),
		txTraces:     make(map[common.Hash][]Trace),
		blockTraces:  make(map[uint64][]Trace),
		code:         make(map[codeKey][]byte),
	}
}

// copy returns a shallow copy of the storage maps, enough to serialize a
// consistent view without holding the cache lock during disk IO.
func (s *forkedStorage) copy() *forkedStorage {
	cpy := newForkedStorage()
	maps.Copy(cpy.accounts, s.accounts)
	for addr, slots := range s.storage {
		cpy.storage[addr] = maps.Clone(slots)
	}
	maps.Copy(cpy.blocks, s.blocks)
	maps.Copy(cpy.hashes, s.hashes)
	maps.Copy(cpy.transactions, s.transactions)
	maps.Copy(cpy.receipts, s.receipts)
	maps.Copy(cpy.txTraces, s.txTraces)
	maps.Copy(cpy.blockTraces, s.blockTraces)
	maps.Copy(cpy.code, s.code)
	return cpy
}

// cacheMeta identifies which chain and pinned block a persisted cache file
// belongs to. A mismatch on load discards the file.
type cacheMeta struct {
	ChainID     uint64      `json:"chainId"`
	BlockNumber uint64      `json:"blockNumber"`
	BlockHash   common.Hash `json:"blockHash"`
}

type diskAccount struct {
	Balance  *uint256.Int  `json:"balance"`
	Nonce    uint64        `json:"nonce"`
	Code     hexutil.Bytes `json:"code,omitempty"`
	CodeHash common.Hash   `json:"codeHash"`
}

type diskBlock struct {
	Header       *types.Header        `json:"header"`
	Transactions []*types.Transaction `json:"transactions"`
}

type diskCode struct {
	Address     common.Address `json:"address"`
	BlockNumber uint64         `json:"blockNumber"`
	Code        hexutil.Bytes  `json:"code"`
}

// diskCachePayload is the on-disk representation of a forkedStorage. It
// round-trips every cached entity kind.
type diskCachePayload struct {
	Meta         cacheMeta                                      `json:"meta"`
	Accounts     map[common.Address]diskAccount                 `json:"accounts"`
	Storage      map[common.Address]map[common.Hash]common.Hash `json:"storage"`
	Blocks       []diskBlock                                    `json:"blocks"`
	Transactions []*types.Transaction                           `json:"transactions"`
	Receipts     []*types.Receipt                               `json:"receipts"`
	TxTraces     map[common.Hash][]Trace                        `json:"txTraces"`
	BlockTraces  map[uint64][]Trace                             `json:"blockTraces"`
	Code         []diskCode                                     `json:"code"`
}

// diskCache persists a fork's storage to a single snappy-compressed JSON
// file. Writes take an advisory file lock so concurrent processes sharing a
// cache directory do not interleave.
type diskCache struct {
	path string
	meta cacheMeta
}

func newDiskCache(path string, meta cacheMeta) *diskCache {
	return &diskCache{path: path, meta: meta}
}

// load reads the persisted cache, returning an empty storage if the file is
// absent or belongs to a different chain or pinned block.
func (c *diskCache) load() (*forkedStorage, error) {
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return newForkedStorage(), nil
	}
	if err != nil {
		return nil, err
	}
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", c.path, err)
	}
	var payload diskCachePayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", c.path, err)
	}
	if payload.Meta != c.meta {
		// Stale file from another pin, start fresh.
		return newForkedStorage(), nil
	}

	storage := newForkedStorage()
	for addr, acc := range payload.Accounts {
		storage.accounts[addr] = state.AccountInfo{
			Balance:  acc.Balance,
			Nonce:    acc.Nonce,
			Code:     acc.Code,
			CodeHash: acc.CodeHash,
		}
	}
	storage.storage = payload.Storage
	if storage.storage == nil {
		storage.storage = make(map[common.Address]map[common.Hash]common.Hash)
	}
	for _, db := range payload.Blocks {
		block := types.NewBlockWithHeader(db.Header).WithBody(types.Body{Transactions: db.Transactions})
		storage.blocks[block.Hash()] = block
		storage.hashes[block.NumberU64()] = block.Hash()
	}
	for _, tx := range payload.Transactions {
		storage.transactions[tx.Hash()] = tx
	}
	for _, receipt := range payload.Receipts {
		storage.receipts[receipt.TxHash] = receipt
	}
	if payload.TxTraces != nil {
		storage.txTraces = payload.TxTraces
	}
	if payload.BlockTraces != nil {
		storage.blockTraces = payload.BlockTraces
	}
	for _, entry := range payload.Code {
		storage.code[codeKey{entry.Address, entry.BlockNumber}] = entry.Code
	}
	return storage, nil
}

// flush writes the given storage snapshot to disk, replacing any previous
// file atomically.
func (c *diskCache) flush(storage *forkedStorage) error {
	payload := diskCachePayload{
		Meta:        c.meta,
		Accounts:    make(map[common.Address]diskAccount, len(storage.accounts)),
		Storage:     storage.storage,
		TxTraces:    storage.txTraces,
		BlockTraces: storage.blockTraces,
	}
	for addr, acc := range storage.accounts {
		payload.Accounts[addr] = diskAccount{
			Balance:  acc.Balance,
			Nonce:    acc.Nonce,
			Code:     acc.Code,
			CodeHash: acc.CodeHash,
		}
	}
	for _, block := range storage.blocks {
		payload.Blocks = append(payload.Blocks, diskBlock{
			Header:       block.Header(),
			Transactions: block.Transactions(),
		})
	}
	for _, tx := range storage.transactions {
		payload.Transactions = append(payload.Transactions, tx)
	}
	for _, receipt := range storage.receipts {
		payload.Receipts = append(payload.Receipts, receipt)
	}
	for key, code := range storage.code {
		payload.Code = append(payload.Code, diskCode{Address: key.addr, BlockNumber: key.number, Code: code})
	}

	encoded, err := json.Marshal(&payload)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}

	lock := flock.New(c.path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, snappy.Encode(nil, encoded), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
