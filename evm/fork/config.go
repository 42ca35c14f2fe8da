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
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/naoina/toml"
)

// ForkSpec describes a fork to establish: where to fetch remote state from,
// which block to pin and whether fetched data is persisted between runs.
type ForkSpec struct {
	// URL of the JSON-RPC endpoint serving remote state.
	URL string `toml:"url"`

	// BlockNumber to pin the fork at; zero means the endpoint's latest block.
	BlockNumber uint64 `toml:"block_number,omitempty"`

	// ChainID of the remote chain; zero means fetch it from the endpoint.
	ChainID uint64 `toml:"chain_id,omitempty"`

	// CacheEnabled persists fetched data to disk across runs.
	CacheEnabled bool `toml:"cache_enabled,omitempty"`

	// CachePath overrides the default cache file location.
	CachePath string `toml:"cache_path,omitempty"`
}

// LoadForkSpec reads a fork spec from a TOML file.
func LoadForkSpec(path string) (*ForkSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec ForkSpec
	if err := toml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("invalid fork config %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the spec for obvious misconfiguration.
func (s *ForkSpec) Validate() error {
	if s.URL == "" {
		return errors.New("fork spec is missing an rpc url")
	}
	return nil
}

// cachePath resolves where the fork's cache file lives.
func (s *ForkSpec) cachePath(chainID, blockNumber uint64) string {
	if !s.CacheEnabled {
		return ""
	}
	if s.CachePath != "" {
		return s.CachePath
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "foundry", "rpc", fmt.Sprintf("%d", chainID), fmt.Sprintf("%d.json", blockNumber))
}

// Establish dials the endpoint, resolves the pinned block and chain id and
// returns a forked database over a fresh fork handle. Establishing a fork
// performs one or more remote calls to confirm chain id and block
// availability.
func Establish(ctx context.Context, spec *ForkSpec) (*ForkedDatabase, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	provider, err := Dial(spec.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURL, spec.URL, err)
	}
	db, err := EstablishWith(ctx, spec, provider)
	if err != nil {
		provider.Close()
		return nil, err
	}
	return db, nil
}

// EstablishWith is Establish with an explicit provider instead of dialing the
// spec's URL, for callers that manage their own connections.
func EstablishWith(ctx context.Context, spec *ForkSpec, provider Provider) (*ForkedDatabase, error) {
	chainID := spec.ChainID
	if chainID == 0 {
		id, err := provider.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chain id from %s: %w", spec.URL, err)
		}
		chainID = id.Uint64()
	}

	var number *big.Int
	if spec.BlockNumber != 0 {
		number = new(big.Int).SetUint64(spec.BlockNumber)
	}
	block, err := provider.BlockByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("fork block not accessible on %s: %w", spec.URL, err)
	}

	config := Config{
		URL:         spec.URL,
		BlockNumber: block.NumberU64(),
		BlockHash:   block.Hash(),
		ChainID:     chainID,
		provider:    provider,
	}
	client := NewClientFork(config, spec.cachePath(chainID, block.NumberU64()))
	return NewForkedDatabase(client), nil
}
