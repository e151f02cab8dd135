// Copyright 2024 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package connmux maps a logical handle to a set of backend connections,
// one per calling OS thread.
//
// Threads sharing a handle never share a connection, so requests from one
// thread are strictly ordered on its own stream while requests from
// different threads proceed independently. Only registry mutations are
// serialized; connection I/O is never done under a registry lock.
package connmux

import (
	"errors"
	"fmt"

	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// Handle is a caller-visible logical handle. It is the descriptor of the
// connection created when the handle was opened.
type Handle int32

// ThreadID identifies a calling OS thread.
type ThreadID int32

// Conn is one backend connection.
type Conn interface {
	// FD returns the connection's descriptor.
	FD() int

	// Shutdown stops further reads and writes without releasing the
	// descriptor.
	Shutdown() error

	// Close releases the descriptor.
	Close() error
}

// Opener creates a fresh connection for a thread that has none.
type Opener func() (Conn, error)

var (
	// ErrUnknownHandle is returned for a handle that has no registry entry.
	ErrUnknownHandle = errors.New("unknown handle")

	// ErrHandleExists is returned when registering a connection whose
	// descriptor is already a registered handle.
	ErrHandleExists = errors.New("handle already registered")
)

// entry is the connection set of one handle.
type entry struct {
	handle Handle

	// tag is set by Register and never changes.
	tag uint32

	// mu protects the fields below.
	mu      sync.Mutex
	primary Conn
	conns   map[ThreadID]Conn
	closed  bool
}

// Registry maps handles to their connection sets.
//
// The zero value is ready to use.
type Registry struct {
	// mu protects entries. It is never held while an entry's mu is
	// acquired.
	mu      sync.Mutex
	entries map[Handle]*entry
}

// Register creates a registry entry for c, owned by thread owner, and
// returns the handle naming it. tag is caller data kept with the entry and
// returned by Tag until the handle is destroyed.
func (r *Registry) Register(c Conn, owner ThreadID, tag uint32) (Handle, error) {
	h := Handle(c.FD())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[h]; ok {
		return -1, fmt.Errorf("%w: %d", ErrHandleExists, h)
	}
	if r.entries == nil {
		r.entries = make(map[Handle]*entry)
	}
	r.entries[h] = &entry{
		handle:  h,
		tag:     tag,
		primary: c,
		conns:   map[ThreadID]Conn{owner: c},
	}
	return h, nil
}

func (r *Registry) lookup(h Handle) (*entry, error) {
	r.mu.Lock()
	e, ok := r.entries[h]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return e, nil
}

// Get returns the connection owned by thread tid under handle h, calling
// open to create one if the thread has none yet.
//
// open runs without any registry lock held. If it fails the registry is
// left unchanged and its error is returned as is. If h is destroyed while
// open runs, the new connection is closed and ErrUnknownHandle returned.
func (r *Registry) Get(h Handle, tid ThreadID, open Opener) (Conn, error) {
	e, err := r.lookup(h)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if c, ok := e.conns[tid]; ok {
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()

	c, err := open()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		c.Close()
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	if existing, ok := e.conns[tid]; ok {
		c.Close()
		return existing, nil
	}
	e.conns[tid] = c
	log.Debugf("connmux: handle %d: thread %d got connection FD %d", h, tid, c.FD())
	return c, nil
}

// Primary returns the connection created when h was opened.
func (r *Registry) Primary(h Handle) (Conn, error) {
	e, err := r.lookup(h)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return e.primary, nil
}

// Tag returns the tag h was registered with.
func (r *Registry) Tag(h Handle) (uint32, error) {
	e, err := r.lookup(h)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return e.tag, nil
}

// Len returns the number of connections registered under h.
func (r *Registry) Len(h Handle) (int, error) {
	e, err := r.lookup(h)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns), nil
}

// Destroy removes h from the registry, then shuts down and closes every
// connection registered under it. It returns the number of connections
// released.
//
// Destroying a handle with no registry entry is a usage error.
func (r *Registry) Destroy(h Handle) (int, error) {
	r.mu.Lock()
	e, ok := r.entries[h]
	if ok {
		delete(r.entries, h)
	}
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	n := 0
	for tid, c := range e.conns {
		fd := c.FD()
		if err := c.Shutdown(); err != nil {
			log.Warningf("connmux: handle %d: shutdown of FD %d failed: %v", h, fd, err)
		}
		if err := c.Close(); err != nil {
			log.Warningf("connmux: handle %d: close of FD %d failed: %v", h, fd, err)
		}
		delete(e.conns, tid)
		n++
	}
	e.primary = nil
	return n, nil
}
