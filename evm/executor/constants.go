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

package executor

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mattsse/foundry/evm/backend"
)

// CheatcodeAddress is the well-known cheatcode handler address. Every fresh
// executor installs non-empty code there so extcodesize checks against it
// succeed.
var CheatcodeAddress = backend.CheatcodeAddress

// DefaultSender is the default caller used for test calls when none is
// given.
var DefaultSender = common.HexToAddress("0x1804c8AB1F12E6bbf3894d4083f33e07309d1f38")

// Create2Deployer is the address of the deterministic create2 deployer
// proxy.
var Create2Deployer = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

// Create2DeployerCreator is the one-shot account the deployer proxy is
// deployed from, so the proxy lands at its well-known address.
var Create2DeployerCreator = common.HexToAddress("0x3fAB184622Dc19b6109349B94811493BF2a45362")

// Create2DeployerCode is the creation bytecode of the deployer proxy.
var Create2DeployerCode = common.FromHex("0x604580600e600039806000f350fe7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffe03601600081602082378035828234f58015156039578182fd5b8082525050506014600cf3")

// MagicSkipData is the return data of a call that deliberately signals
// "skip this test"; it is distinguished from both success and failure.
var MagicSkipData = []byte("FOUNDRY::SKIP")

// 4-byte selectors of the DSTest entry points the executor calls itself.
var (
	setUpSelector  = crypto.Keccak256([]byte("setUp()"))[:4]
	failedSelector = crypto.Keccak256([]byte("failed()"))[:4]
)
