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

import "strings"

// Naming conventions for test entry points. A function's name alone decides
// how the runner treats it.

// IsTest reports whether the function name marks a test entry point.
func IsTest(name string) bool {
	return strings.HasPrefix(name, "test")
}

// IsTestFail reports whether the function name marks an expected-failure
// test, whose verdict is inverted.
func IsTestFail(name string) bool {
	return strings.HasPrefix(name, "testFail")
}

// IsInvariantTest reports whether the function name marks an invariant test.
func IsInvariantTest(name string) bool {
	return strings.HasPrefix(name, "invariant") || strings.HasPrefix(name, "statefulFuzz")
}

// IsSetup reports whether the function is the conventional setup hook. The
// comparison ignores case, so setUp, setup and SetUp all match.
func IsSetup(name string) bool {
	return strings.EqualFold(name, "setup")
}
