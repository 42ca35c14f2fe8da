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
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/mattsse/foundry/evm/state"
)

func testMeta() cacheMeta {
	return cacheMeta{ChainID: 1, BlockNumber: 10, BlockHash: common.HexToHash("0xabc")}
}

func TestDiskCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rpc", "1", "10.json")
	addr := common.HexToAddress("0xaa")
	slot := common.HexToHash("0x01")
	hash := common.HexToHash("0xdead")

	storage := newForkedStorage()
	storage.accounts[addr] = state.AccountInfo{
		Balance:  uint256.NewInt(1000),
		Nonce:    3,
		Code:     []byte{0x60, 0x00},
		CodeHash: common.HexToHash("0x11"),
	}
	storage.storage[addr] = map[common.Hash]common.Hash{slot: common.HexToHash("0x2a")}
	block := types.NewBlockWithHeader(&types.Header{Number: big.NewInt(10)})
	storage.blocks[block.Hash()] = block
	storage.hashes[10] = block.Hash()
	storage.txTraces[hash] = []Trace{{Type: "call", TransactionHash: &hash}}
	storage.blockTraces[10] = []Trace{{Type: "call", BlockNumber: 10}}
	storage.code[codeKey{addr, 10}] = []byte{0x60, 0x00}

	cache := newDiskCache(path, testMeta())
	require.NoError(t, cache.flush(storage))

	loaded, err := cache.load()
	require.NoError(t, err)

	acc := loaded.accounts[addr]
	require.Equal(t, uint64(1000), acc.Balance.Uint64())
	require.Equal(t, uint64(3), acc.Nonce)
	require.Equal(t, []byte{0x60, 0x00}, acc.Code)
	require.Equal(t, common.HexToHash("0x2a"), loaded.storage[addr][slot])
	require.Contains(t, loaded.hashes, uint64(10))
	require.Len(t, loaded.txTraces[hash], 1)
	require.Len(t, loaded.blockTraces[10], 1)
	require.Equal(t, []byte{0x60, 0x00}, []byte(loaded.code[codeKey{addr, 10}]))
}

func TestDiskCacheMetaMismatchStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.json")
	addr := common.HexToAddress("0xaa")

	storage := newForkedStorage()
	storage.accounts[addr] = state.AccountInfo{Balance: uint256.NewInt(1), Nonce: 1}
	require.NoError(t, newDiskCache(path, testMeta()).flush(storage))

	// Same file, different pinned block.
	other := newDiskCache(path, cacheMeta{ChainID: 1, BlockNumber: 11})
	loaded, err := other.load()
	require.NoError(t, err)
	require.Empty(t, loaded.accounts)
}

func TestDiskCacheMissingFile(t *testing.T) {
	cache := newDiskCache(filepath.Join(t.TempDir(), "absent.json"), testMeta())
	loaded, err := cache.load()
	require.NoError(t, err)
	require.Empty(t, loaded.accounts)
}

func TestDiskCacheCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.json")
	require.NoError(t, os.WriteFile(path, []byte("not snappy"), 0o644))

	_, err := newDiskCache(path, testMeta()).load()
	require.Error(t, err)
}

func TestClientForkLoadsPersistedCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.json")
	addr := common.HexToAddress("0xaa")

	storage := newForkedStorage()
	storage.accounts[addr] = state.AccountInfo{Balance: uint256.NewInt(77), Nonce: 2, CodeHash: state.EmptyCodeHash}
	meta := testMeta()
	require.NoError(t, newDiskCache(path, meta).flush(storage))

	p := newMockProvider()
	f := NewClientFork(Config{
		URL:         "mock://chain",
		BlockNumber: meta.BlockNumber,
		BlockHash:   meta.BlockHash,
		ChainID:     meta.ChainID,
		provider:    p,
	}, path)

	info, err := f.AccountAt(context.Background(), addr)
	require.NoError(t, err)
	require.Equal(t, uint64(77), info.Balance.Uint64())
	require.Equal(t, 0, p.callCount("balance"), "persisted entries must be served without a fetch")
}

func TestFlushCacheWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "10.json")
	p := newMockProvider()
	p.balances[common.HexToAddress("0xaa")] = big.NewInt(9)

	f := NewClientFork(Config{
		URL:         "mock://chain",
		BlockNumber: 10,
		BlockHash:   testMeta().BlockHash,
		ChainID:     1,
		provider:    p,
	}, path)

	_, err := f.AccountAt(context.Background(), common.HexToAddress("0xaa"))
	require.NoError(t, err)
	require.NoError(t, f.flushCache())

	_, err = os.Stat(path)
	require.NoError(t, err)
}
