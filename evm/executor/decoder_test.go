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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeRevertErrorString(t *testing.T) {
	ret := encodeRevertReason(t, "boom")
	require.Equal(t, "boom", decodeRevert(nil, ret, StatusRevert))
}

func TestDecodeRevertEmptyData(t *testing.T) {
	require.Equal(t, "call ended in revert with no revert data", decodeRevert(nil, nil, StatusRevert))
	require.Equal(t, "call ended in halt with no revert data", decodeRevert(nil, nil, StatusHalt))
	require.Equal(t, "call ended in success with no revert data", decodeRevert(nil, nil, StatusSuccess))
}

func TestDecodeRevertOpaqueData(t *testing.T) {
	// Data that is not an Error(string) encoding comes back as raw hex.
	require.Equal(t, "0xdeadbeef", decodeRevert(nil, []byte{0xde, 0xad, 0xbe, 0xef}, StatusRevert))
}

func TestDecodeRevertCustomDecoder(t *testing.T) {
	rd := decoderFunc(func(ret []byte, status ExitStatus) string { return "custom" })
	require.Equal(t, "custom", decodeRevert(rd, nil, StatusRevert))
}

type decoderFunc func(ret []byte, status ExitStatus) string

func (f decoderFunc) Decode(ret []byte, status ExitStatus) string { return f(ret, status) }
