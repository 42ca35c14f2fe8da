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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewForkID(t *testing.T) {
	require.Equal(t, ForkID("http://localhost:8545@42"), NewForkID("http://localhost:8545", 42))
}

func TestMultiForkRegisterAndGet(t *testing.T) {
	m := NewMultiFork()
	defer m.ShutdownWait(time.Second)

	db := NewForkedDatabase(newTestFork(newMockProvider()))
	id, err := m.Register(db)
	require.NoError(t, err)
	require.Equal(t, NewForkID("mock://chain", 10), id)

	got, ok := m.Fork(id)
	require.True(t, ok)
	require.Same(t, db, got)

	_, ok = m.Fork(ForkID("unknown@0"))
	require.False(t, ok)
}

func TestMultiForkRegisterIsIdempotent(t *testing.T) {
	m := NewMultiFork()
	defer m.ShutdownWait(time.Second)

	firstProvider := newMockProvider()
	secondProvider := newMockProvider()
	first := NewForkedDatabase(newTestFork(firstProvider))
	second := NewForkedDatabase(newTestFork(secondProvider))

	id1, err := m.Register(first)
	require.NoError(t, err)
	id2, err := m.Register(second)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	// The first registration wins so every consumer shares one handle. The
	// loser's remote connection is released, the winner's kept.
	got, ok := m.Fork(id1)
	require.True(t, ok)
	require.Same(t, first, got)
	require.True(t, secondProvider.isClosed())
	require.False(t, firstProvider.isClosed())
}

func TestMultiForkShutdownIsReentrant(t *testing.T) {
	m := NewMultiFork()
	_, err := m.Register(NewForkedDatabase(newTestFork(newMockProvider())))
	require.NoError(t, err)

	m.ShutdownWait(time.Second)
	// A second shutdown must not deadlock on the stopped handler.
	m.ShutdownWait(time.Second)
}

func TestMultiForkRejectsRequestsAfterShutdown(t *testing.T) {
	m := NewMultiFork()
	db := NewForkedDatabase(newTestFork(newMockProvider()))
	id, err := m.Register(db)
	require.NoError(t, err)

	m.ShutdownWait(time.Second)

	_, _, err = m.CreateFork(context.Background(), &ForkSpec{URL: "mock://chain"})
	require.ErrorIs(t, err, ErrForkManagerClosed)

	_, err = m.Register(db)
	require.ErrorIs(t, err, ErrForkManagerClosed)

	_, ok := m.Fork(id)
	require.False(t, ok)
}

func TestEstablishWithResolvesChainAndBlock(t *testing.T) {
	p := newMockProvider()
	p.latest = 1234

	spec := &ForkSpec{URL: "mock://chain"}
	db, err := EstablishWith(context.Background(), spec, p)
	require.NoError(t, err)
	require.Equal(t, uint64(1234), db.Client().BlockNumber())
	require.Equal(t, uint64(1), db.Client().ChainID())
	require.Equal(t, 1, p.callCount("chainId"))

	// An explicit pin and chain id skip both lookups.
	p2 := newMockProvider()
	spec = &ForkSpec{URL: "mock://chain", BlockNumber: 7, ChainID: 5}
	db, err = EstablishWith(context.Background(), spec, p2)
	require.NoError(t, err)
	require.Equal(t, uint64(7), db.Client().BlockNumber())
	require.Equal(t, uint64(5), db.Client().ChainID())
	require.Equal(t, 0, p2.callCount("chainId"))
}
