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
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// MissingAccountError is returned when an operation requires an account that
// is absent from the store, e.g. the create2 deployer bootstrap check.
type MissingAccountError struct {
	Address common.Address
}

func (e *MissingAccountError) Error() string {
	return fmt.Sprintf("missing account %s", e.Address.Hex())
}

// FetchError wraps a provider-level failure that occurred while a forked
// store was resolving a cache miss. Read-path errors are always propagated to
// the caller, never defaulted away.
type FetchError struct {
	Op  string // the read operation that triggered the fetch
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("remote fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
