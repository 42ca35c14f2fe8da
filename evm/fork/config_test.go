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

package fork

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadForkSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fork.toml")
	data := `
url = "http://localhost:8545"
block_number = 42
chain_id = 1
cache_enabled = true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	spec, err := LoadForkSpec(path)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8545", spec.URL)
	require.Equal(t, uint64(42), spec.BlockNumber)
	require.Equal(t, uint64(1), spec.ChainID)
	require.True(t, spec.CacheEnabled)
}

func TestLoadForkSpecMissingURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fork.toml")
	require.NoError(t, os.WriteFile(path, []byte(`block_number = 42`), 0o644))

	_, err := LoadForkSpec(path)
	require.Error(t, err)
}

func TestForkSpecCachePath(t *testing.T) {
	spec := &ForkSpec{URL: "http://localhost:8545"}
	require.Empty(t, spec.cachePath(1, 42), "caching disabled means no path")

	spec.CacheEnabled = true
	spec.CachePath = "/tmp/custom.json"
	require.Equal(t, "/tmp/custom.json", spec.cachePath(1, 42))

	spec.CachePath = ""
	path := spec.cachePath(1, 42)
	require.Contains(t, path, filepath.Join("foundry", "rpc", "1", "42.json"))
}
