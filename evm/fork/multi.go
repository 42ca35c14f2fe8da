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
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// ErrForkManagerClosed is returned for requests made after the fork handler
// has been shut down.
var ErrForkManagerClosed = errors.New("fork manager closed")

// ForkID uniquely identifies a registered fork by its endpoint and pinned
// block.
type ForkID string

// NewForkID derives the id for a fork of url at the given block.
func NewForkID(url string, blockNumber uint64) ForkID {
	return ForkID(fmt.Sprintf("%s@%d", url, blockNumber))
}

// MultiFork is the access point for all forks known to a backend. A
// dedicated handler goroutine owns the fork set and serializes registration,
// so potentially slow remote-provider setup never blocks callers other than
// the one that requested it.
type MultiFork struct {
	creates  chan *createRequest
	gets     chan *getRequest
	shutdown chan *shutdownRequest
	done     chan struct{} // closed when the handler loop exits
	once     sync.Once
}

type createRequest struct {
	ctx   context.Context
	spec  *ForkSpec
	pre   *preEstablished
	reply chan createReply
}

type createReply struct {
	id  ForkID
	db  *ForkedDatabase
	err error
}

type getRequest struct {
	id    ForkID
	reply chan *ForkedDatabase
}

type shutdownRequest struct {
	timeout time.Duration
	reply   chan struct{}
}

// NewMultiFork spawns the fork handler task.
func NewMultiFork() *MultiFork {
	m := &MultiFork{
		creates:  make(chan *createRequest),
		gets:     make(chan *getRequest),
		shutdown: make(chan *shutdownRequest),
		done:     make(chan struct{}),
	}
	h := &multiForkHandler{
		forks:    make(map[ForkID]*ForkedDatabase),
		installs: make(chan installMessage),
	}
	go h.loop(m)
	return m
}

// CreateFork establishes a new fork and registers it without selecting it.
// The caller blocks only on its own request; other callers' in-flight fork
// setups proceed independently.
func (m *MultiFork) CreateFork(ctx context.Context, spec *ForkSpec) (ForkID, *ForkedDatabase, error) {
	req := &createRequest{ctx: ctx, spec: spec, reply: make(chan createReply, 1)}
	select {
	case m.creates <- req:
	case <-m.done:
		return "", nil, ErrForkManagerClosed
	}
	reply := <-req.reply
	return reply.id, reply.db, reply.err
}

// Fork returns the registered fork with the given id, if any.
func (m *MultiFork) Fork(id ForkID) (*ForkedDatabase, bool) {
	req := &getRequest{id: id, reply: make(chan *ForkedDatabase, 1)}
	select {
	case m.gets <- req:
	case <-m.done:
		return nil, false
	}
	db := <-req.reply
	return db, db != nil
}

// Register adds an already established fork, returning its id. Used for the
// fork a backend was launched with.
func (m *MultiFork) Register(db *ForkedDatabase) (ForkID, error) {
	id := NewForkID(db.Client().URL(), db.Client().BlockNumber())
	req := &createRequest{
		ctx:   context.Background(),
		pre:   &preEstablished{id: id, db: db},
		reply: make(chan createReply, 1),
	}
	select {
	case m.creates <- req:
	case <-m.done:
		return "", ErrForkManagerClosed
	}
	<-req.reply
	return id, nil
}

// ShutdownWait flushes every fork's cache and stops the handler. The flushes
// are given at most timeout to finish; a slow or unreachable endpoint delays
// shutdown no longer than that.
func (m *MultiFork) ShutdownWait(timeout time.Duration) {
	m.once.Do(func() {
		req := &shutdownRequest{timeout: timeout, reply: make(chan struct{})}
		m.shutdown <- req
		<-req.reply
	})
	<-m.done
}

type preEstablished struct {
	id ForkID
	db *ForkedDatabase
}

type installMessage struct {
	id    ForkID
	db    *ForkedDatabase
	err   error
	reply chan createReply
}

// multiForkHandler owns the fork set. All map mutation happens on the loop
// goroutine; slow establishment runs off-loop and reports back via installs.
type multiForkHandler struct {
	forks    map[ForkID]*ForkedDatabase
	installs chan installMessage
	pending  int
}

func (h *multiForkHandler) loop(m *MultiFork) {
	defer close(m.done)
	for {
		select {
		case req := <-m.creates:
			h.handleCreate(req)

		case msg := <-h.installs:
			h.pending--
			if msg.err == nil {
				if existing, ok := h.forks[msg.id]; ok && existing != msg.db {
					// Same endpoint and pin registered concurrently, keep the
					// first instance so all consumers share one handle. The
					// loser's remote connection is released.
					msg.db.Client().provider().Close()
					msg.db = existing
				} else {
					h.forks[msg.id] = msg.db
				}
			}
			msg.reply <- createReply{id: msg.id, db: msg.db, err: msg.err}

		case req := <-m.gets:
			req.reply <- h.forks[req.id]

		case req := <-m.shutdown:
			// Drain in-flight establishments before flushing.
			for h.pending > 0 {
				msg := <-h.installs
				h.pending--
				if msg.err == nil {
					if existing, ok := h.forks[msg.id]; ok && existing != msg.db {
						msg.db.Client().provider().Close()
						msg.db = existing
					} else {
						h.forks[msg.id] = msg.db
					}
				}
				msg.reply <- createReply{id: msg.id, db: msg.db, err: msg.err}
			}
			h.flushAll(req.timeout)
			close(req.reply)
			return
		}
	}
}

func (h *multiForkHandler) handleCreate(req *createRequest) {
	if req.pre != nil {
		if existing, ok := h.forks[req.pre.id]; !ok {
			h.forks[req.pre.id] = req.pre.db
		} else if existing != req.pre.db {
			req.pre.db.Client().provider().Close()
		}
		req.reply <- createReply{id: req.pre.id, db: h.forks[req.pre.id]}
		return
	}

	id := NewForkID(req.spec.URL, req.spec.BlockNumber)
	if db, ok := h.forks[id]; ok && req.spec.BlockNumber != 0 {
		req.reply <- createReply{id: id, db: db}
		return
	}

	h.pending++
	go func() {
		db, err := Establish(req.ctx, req.spec)
		if err == nil {
			id = NewForkID(db.Client().URL(), db.Client().BlockNumber())
		}
		h.installs <- installMessage{id: id, db: db, err: err, reply: req.reply}
	}()
}

func (h *multiForkHandler) flushAll(timeout time.Duration) {
	var wg sync.WaitGroup
	for id, db := range h.forks {
		wg.Add(1)
		go func(id ForkID, db *ForkedDatabase) {
			defer wg.Done()
			db.FlushCache()
		}(id, db)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn("Timed out flushing fork caches", "timeout", timeout)
	}
}
