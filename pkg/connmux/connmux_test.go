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

package connmux

import (
	"errors"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gvisor.dev/gvisor/pkg/sync"
)

type fakeConn struct {
	fd       int
	shutdown atomic.Bool
	closed   atomic.Bool
}

func (c *fakeConn) FD() int { return c.fd }

func (c *fakeConn) Shutdown() error {
	c.shutdown.Store(true)
	return nil
}

func (c *fakeConn) Close() error {
	if c.closed.Swap(true) {
		return errors.New("already closed")
	}
	return nil
}

// fakeOpener hands out fakeConns with increasing descriptors.
type fakeOpener struct {
	mu    sync.Mutex
	next  int
	conns []*fakeConn
	err   error
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{next: 100}
}

func (o *fakeOpener) open() (Conn, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	c := &fakeConn{fd: o.next}
	o.next++
	o.conns = append(o.conns, c)
	return c, nil
}

func (o *fakeOpener) opened() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

func TestRegisterUsesDescriptor(t *testing.T) {
	var r Registry
	primary := &fakeConn{fd: 7}
	h, err := r.Register(primary, 1, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if h != 7 {
		t.Errorf("handle = %d, want 7", h)
	}
	if _, err := r.Register(&fakeConn{fd: 7}, 2, 0); !errors.Is(err, ErrHandleExists) {
		t.Errorf("second Register = %v, want %v", err, ErrHandleExists)
	}
	got, err := r.Primary(h)
	if err != nil || got != primary {
		t.Errorf("Primary = %v, %v; want %v", got, err, primary)
	}
}

func TestTagFollowsEntry(t *testing.T) {
	var r Registry
	h, err := r.Register(&fakeConn{fd: 5}, 1, 2)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if tag, err := r.Tag(h); err != nil || tag != 2 {
		t.Errorf("Tag = %d, %v; want 2", tag, err)
	}
	if _, err := r.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := r.Tag(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Tag after Destroy = %v, want %v", err, ErrUnknownHandle)
	}

	// A new entry reusing the descriptor carries its own tag.
	if _, err := r.Register(&fakeConn{fd: 5}, 1, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if tag, err := r.Tag(h); err != nil || tag != 1 {
		t.Errorf("Tag of reused handle = %d, %v; want 1", tag, err)
	}
}

func TestOwnerReusesPrimary(t *testing.T) {
	var r Registry
	o := newFakeOpener()
	primary := &fakeConn{fd: 3}
	h, err := r.Register(primary, 1, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	for i := 0; i < 5; i++ {
		c, err := r.Get(h, 1, o.open)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if c != primary {
			t.Errorf("Get #%d returned %v, want primary", i, c)
		}
	}
	if n := o.opened(); n != 0 {
		t.Errorf("opener called %d times, want 0", n)
	}
	if n, _ := r.Len(h); n != 1 {
		t.Errorf("Len = %d, want 1", n)
	}
}

func TestThreadReusesConnection(t *testing.T) {
	var r Registry
	o := newFakeOpener()
	h, err := r.Register(&fakeConn{fd: 3}, 1, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	first, err := r.Get(h, 2, o.open)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for i := 0; i < 10; i++ {
		c, err := r.Get(h, 2, o.open)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if c != first {
			t.Fatalf("Get #%d returned FD %d, want FD %d", i, c.FD(), first.FD())
		}
	}
	if n := o.opened(); n != 1 {
		t.Errorf("opener called %d times, want 1", n)
	}
	if n, _ := r.Len(h); n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
}

func TestDistinctThreadsDistinctConnections(t *testing.T) {
	const threads = 16

	var r Registry
	o := newFakeOpener()
	h, err := r.Register(&fakeConn{fd: 3}, 0, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	fds := make([]int, threads)
	var g errgroup.Group
	for i := 0; i < threads; i++ {
		tid := ThreadID(1000 + i)
		g.Go(func() error {
			c, err := r.Get(h, tid, o.open)
			if err != nil {
				return err
			}
			// Repeated calls from the same thread must not grow the set.
			again, err := r.Get(h, tid, o.open)
			if err != nil {
				return err
			}
			if again != c {
				return errors.New("thread got a second connection")
			}
			fds[i] = c.FD()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	seen := make(map[int]bool)
	for _, fd := range fds {
		if seen[fd] {
			t.Errorf("FD %d shared by two threads", fd)
		}
		seen[fd] = true
	}
	if n := o.opened(); n != threads {
		t.Errorf("opener called %d times, want %d", n, threads)
	}
	if n, _ := r.Len(h); n != threads+1 {
		t.Errorf("Len = %d, want %d", n, threads+1)
	}
}

func TestOpenFailureLeavesRegistryUnchanged(t *testing.T) {
	var r Registry
	o := newFakeOpener()
	o.err = errors.New("connection refused")
	h, err := r.Register(&fakeConn{fd: 3}, 1, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Get(h, 2, o.open); !errors.Is(err, o.err) {
		t.Errorf("Get = %v, want %v", err, o.err)
	}
	if n, _ := r.Len(h); n != 1 {
		t.Errorf("Len = %d after failed open, want 1", n)
	}

	o.err = nil
	if _, err := r.Get(h, 2, o.open); err != nil {
		t.Errorf("Get after recovery: %v", err)
	}
}

func TestDestroy(t *testing.T) {
	var r Registry
	o := newFakeOpener()
	primary := &fakeConn{fd: 3}
	h, err := r.Register(primary, 1, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	for tid := ThreadID(2); tid < 5; tid++ {
		if _, err := r.Get(h, tid, o.open); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	n, err := r.Destroy(h)
	if err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if n != 4 {
		t.Errorf("Destroy released %d connections, want 4", n)
	}

	var released []int
	for _, c := range append([]*fakeConn{primary}, o.conns...) {
		if !c.shutdown.Load() || !c.closed.Load() {
			t.Errorf("FD %d: shutdown=%v closed=%v, want both", c.fd, c.shutdown.Load(), c.closed.Load())
		}
		released = append(released, c.fd)
	}
	sort.Ints(released)
	if diff := cmp.Diff([]int{3, 100, 101, 102}, released); diff != "" {
		t.Errorf("released FDs mismatch (-want +got):\n%s", diff)
	}

	if _, err := r.Len(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Len after Destroy = %v, want %v", err, ErrUnknownHandle)
	}
	if _, err := r.Get(h, 1, o.open); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Get after Destroy = %v, want %v", err, ErrUnknownHandle)
	}
}

func TestDestroyUnknown(t *testing.T) {
	var r Registry
	if _, err := r.Destroy(42); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Destroy(never opened) = %v, want %v", err, ErrUnknownHandle)
	}

	h, err := r.Register(&fakeConn{fd: 9}, 1, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Destroy(h); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := r.Destroy(h); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("second Destroy = %v, want %v", err, ErrUnknownHandle)
	}
}

func TestDestroyDuringOpen(t *testing.T) {
	var r Registry
	h, err := r.Register(&fakeConn{fd: 3}, 1, 0)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	late := &fakeConn{fd: 50}
	open := func() (Conn, error) {
		// The handle goes away while the connection is being created.
		if _, err := r.Destroy(h); err != nil {
			t.Errorf("Destroy: %v", err)
		}
		return late, nil
	}
	if _, err := r.Get(h, 2, open); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("Get = %v, want %v", err, ErrUnknownHandle)
	}
	if !late.closed.Load() {
		t.Errorf("connection opened for a destroyed handle was not closed")
	}
}
