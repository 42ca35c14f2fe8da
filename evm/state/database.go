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

// Package state defines the account store capability shared by every state
// backend: a minimal read/write contract over accounts, storage slots, code
// and block hashes, plus the changeset type produced by executed calls.
package state

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// EmptyCodeHash is the hash of empty contract code.
var EmptyCodeHash = crypto.Keccak256Hash(nil)

// AccountInfo is the basic account record tracked by a database: balance,
// nonce and code. An absent account reads as the zero-valued default, never
// as an error.
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	Code     []byte
	CodeHash common.Hash
}

// NewAccountInfo returns an empty account with a non-nil balance.
func NewAccountInfo() AccountInfo {
	return AccountInfo{Balance: new(uint256.Int), CodeHash: EmptyCodeHash}
}

// Exists reports whether the account differs from the zero-valued default.
func (a *AccountInfo) Exists() bool {
	if a.Nonce != 0 || len(a.Code) > 0 {
		return true
	}
	return a.Balance != nil && !a.Balance.IsZero()
}

// HasCode reports whether the account has non-empty contract code.
func (a *AccountInfo) HasCode() bool {
	return len(a.Code) > 0
}

// Copy returns a deep copy of the account.
func (a *AccountInfo) Copy() AccountInfo {
	cpy := AccountInfo{Nonce: a.Nonce, CodeHash: a.CodeHash}
	if a.Balance != nil {
		cpy.Balance = new(uint256.Int).Set(a.Balance)
	} else {
		cpy.Balance = new(uint256.Int)
	}
	if a.Code != nil {
		cpy.Code = make([]byte, len(a.Code))
		copy(cpy.Code, a.Code)
	}
	return cpy
}

// normalize ensures the account's balance is non-nil and its code hash is
// consistent with its code, so zero-valued literals behave like defaults.
func (a *AccountInfo) normalize() {
	if a.Balance == nil {
		a.Balance = new(uint256.Int)
	}
	if a.CodeHash == (common.Hash{}) {
		if len(a.Code) > 0 {
			a.CodeHash = crypto.Keccak256Hash(a.Code)
		} else {
			a.CodeHash = EmptyCodeHash
		}
	}
}

// AccountChange is the final state of one account after a call: the absolute
// post-call account info and the storage slots the call wrote, keyed by slot.
type AccountChange struct {
	Info    AccountInfo
	Storage map[common.Hash]common.Hash
}

// Changeset maps each touched address to its post-call state. Values are
// absolute, not deltas, which makes applying a changeset idempotent.
type Changeset map[common.Address]*AccountChange

// Copy returns a deep copy of the changeset.
func (c Changeset) Copy() Changeset {
	cpy := make(Changeset, len(c))
	for addr, change := range c {
		storage := make(map[common.Hash]common.Hash, len(change.Storage))
		for slot, val := range change.Storage {
			storage[slot] = val
		}
		cpy[addr] = &AccountChange{Info: change.Info.Copy(), Storage: storage}
	}
	return cpy
}

// DatabaseReader is the read half of the account store capability. Reads of
// never-seen keys return zero-valued defaults; only genuine failures (e.g. a
// remote fetch error on a forked store) are reported.
type DatabaseReader interface {
	// Basic returns the account info for the given address.
	Basic(addr common.Address) (AccountInfo, error)

	// CodeByHash returns the contract code with the given hash.
	CodeByHash(hash common.Hash) ([]byte, error)

	// Storage returns the value of the given storage slot.
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)

	// BlockHash returns the hash of the block with the given number.
	BlockHash(number uint64) (common.Hash, error)
}

// Database bundles the read capability with direct writes and changeset
// commits. Direct writes are administrative overrides (funding a test
// account, installing cheatcode code); Commit is the only way executed calls
// mutate the store.
type Database interface {
	DatabaseReader

	// InsertAccount writes the account info for the given address.
	InsertAccount(addr common.Address, info AccountInfo)

	// SetStorage writes a single storage slot.
	SetStorage(addr common.Address, slot, value common.Hash)

	// Commit applies a changeset produced by an executed call.
	Commit(changes Changeset)
}

// SetNonce updates the nonce of the given account, creating it if needed.
// This is a read-modify-write composition and is not atomic with respect to
// concurrent writers.
func SetNonce(db Database, addr common.Address, nonce uint64) error {
	info, err := db.Basic(addr)
	if err != nil {
		return err
	}
	info.Nonce = nonce
	db.InsertAccount(addr, info)
	return nil
}

// SetBalance updates the balance of the given account, creating it if needed.
func SetBalance(db Database, addr common.Address, balance *uint256.Int) error {
	info, err := db.Basic(addr)
	if err != nil {
		return err
	}
	info.Balance = new(uint256.Int).Set(balance)
	db.InsertAccount(addr, info)
	return nil
}

// SetCode installs the given code at the address and recomputes its hash.
func SetCode(db Database, addr common.Address, code []byte) error {
	info, err := db.Basic(addr)
	if err != nil {
		return err
	}
	info.Code = code
	info.CodeHash = crypto.Keccak256Hash(code)
	if len(code) == 0 {
		info.CodeHash = EmptyCodeHash
	}
	db.InsertAccount(addr, info)
	return nil
}
