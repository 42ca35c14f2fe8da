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
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMemDBInsertAccountRoundTrip(t *testing.T) {
	db := NewMemDB()
	addr := common.HexToAddress("0x1337")

	// Never-seen addresses read as the zero-valued default.
	info, err := db.Basic(addr)
	require.NoError(t, err)
	require.False(t, info.Exists())
	require.True(t, info.Balance.IsZero())

	want := AccountInfo{Balance: uint256.NewInt(1000), Nonce: 7, Code: []byte{0x60, 0x00}}
	db.InsertAccount(addr, want)

	got, err := db.Basic(addr)
	require.NoError(t, err)
	require.Equal(t, want.Balance, got.Balance)
	require.Equal(t, want.Nonce, got.Nonce)
	require.Equal(t, want.Code, got.Code)
	require.Equal(t, crypto.Keccak256Hash(want.Code), got.CodeHash)

	code, err := db.CodeByHash(got.CodeHash)
	require.NoError(t, err)
	require.Equal(t, want.Code, code)
}

func TestMemDBStorageDefaultsToZero(t *testing.T) {
	db := NewMemDB()
	addr := common.HexToAddress("0xbeef")
	slot := common.HexToHash("0x01")

	val, err := db.Storage(addr, slot)
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, val)

	db.SetStorage(addr, slot, common.HexToHash("0x02"))
	val, err = db.Storage(addr, slot)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0x02"), val)
}

func TestMemDBCommitIdempotent(t *testing.T) {
	db := NewMemDB()
	addr := common.HexToAddress("0xaa")
	slot := common.HexToHash("0x05")

	changes := Changeset{
		addr: {
			Info:    AccountInfo{Balance: uint256.NewInt(42), Nonce: 1},
			Storage: map[common.Hash]common.Hash{slot: common.HexToHash("0xff")},
		},
	}
	db.Commit(changes)
	first := db.Copy()

	// Changesets carry absolute values, so a second apply changes nothing.
	db.Commit(changes)

	for _, d := range []*MemDB{first, db} {
		info, err := d.Basic(addr)
		require.NoError(t, err)
		require.Equal(t, uint256.NewInt(42), info.Balance)
		require.Equal(t, uint64(1), info.Nonce)
		val, err := d.Storage(addr, slot)
		require.NoError(t, err)
		require.Equal(t, common.HexToHash("0xff"), val)
	}
}

func TestMemDBCopyIsIndependent(t *testing.T) {
	db := NewMemDB()
	addr := common.HexToAddress("0xcc")
	db.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(1)})

	cpy := db.Copy()
	db.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(2)})
	db.SetStorage(addr, common.HexToHash("0x01"), common.HexToHash("0x02"))

	info, err := cpy.Basic(addr)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1), info.Balance)

	val, err := cpy.Storage(addr, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, val)
}

func TestSetHelpers(t *testing.T) {
	db := NewMemDB()
	addr := common.HexToAddress("0xdd")

	require.NoError(t, SetBalance(db, addr, uint256.NewInt(99)))
	require.NoError(t, SetNonce(db, addr, 3))
	require.NoError(t, SetCode(db, addr, []byte{0xfe}))

	info, err := db.Basic(addr)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(99), info.Balance)
	require.Equal(t, uint64(3), info.Nonce)
	require.Equal(t, []byte{0xfe}, info.Code)
	require.Equal(t, crypto.Keccak256Hash([]byte{0xfe}), info.CodeHash)
}

func TestCacheDBOverlayShadowsFallback(t *testing.T) {
	base := NewMemDB()
	addr := common.HexToAddress("0xee")
	slot := common.HexToHash("0x01")
	base.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(10), Nonce: 1})
	base.SetStorage(addr, slot, common.HexToHash("0xaa"))

	db := NewCacheDB(base)

	// Reads pass through before any write.
	info, err := db.Basic(addr)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(10), info.Balance)

	val, err := db.Storage(addr, slot)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xaa"), val)

	// A write shadows the fallback for that key without touching it.
	db.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(20), Nonce: 2})
	db.SetStorage(addr, slot, common.HexToHash("0xbb"))

	info, err = db.Basic(addr)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(20), info.Balance)

	val, err = db.Storage(addr, slot)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xbb"), val)

	baseInfo, err := base.Basic(addr)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(10), baseInfo.Balance)
}

func TestCacheDBSlotMissFallsThrough(t *testing.T) {
	base := NewMemDB()
	addr := common.HexToAddress("0xee")
	slot := common.HexToHash("0x01")
	base.SetStorage(addr, slot, common.HexToHash("0xaa"))

	db := NewCacheDB(base)

	// Writing the account must not hide fallback storage of slots the
	// overlay never wrote.
	db.InsertAccount(addr, AccountInfo{Balance: uint256.NewInt(1)})
	val, err := db.Storage(addr, slot)
	require.NoError(t, err)
	require.Equal(t, common.HexToHash("0xaa"), val)
}
