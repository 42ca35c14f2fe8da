// Copyright 2024 The foundry Authors
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

package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RevertDecoder turns raw revert data into a human-readable reason. Passing
// a nil decoder to the executor falls back to the default, which understands
// the standard Error(string) encoding and otherwise reports the raw bytes.
type RevertDecoder interface {
	Decode(ret []byte, status ExitStatus) string
}

type defaultRevertDecoder struct{}

func (defaultRevertDecoder) Decode(ret []byte, status ExitStatus) string {
	if reason, err := abi.UnpackRevert(ret); err == nil {
		return reason
	}
	if len(ret) == 0 {
		return fmt.Sprintf("call ended in %s with no revert data", status)
	}
	return hexutil.Encode(ret)
}

// decodeRevert applies the given decoder, or the default if nil.
func decodeRevert(rd RevertDecoder, ret []byte, status ExitStatus) string {
	if rd == nil {
		rd = defaultRevertDecoder{}
	}
	return rd.Decode(ret, status)
}
