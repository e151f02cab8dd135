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

package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/sync"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
)

// Buffer is page-aligned memory that a shared-memory descriptor record may
// name by address.
//
// Kernel backends access the memory directly through the recorded address.
// Daemon backends never see the address; the dispatcher resolves it with
// Lookup and ships the contents as a memfd.
type Buffer struct {
	data []byte
	addr uint64
}

// table holds every live Buffer keyed by its address.
var table struct {
	mu   sync.Mutex
	bufs map[uint64]*Buffer
}

// NewBuffer maps size bytes of zeroed anonymous memory and registers it.
func NewBuffer(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmap(%d): %w", size, err)
	}
	b := &Buffer{
		data: data,
		addr: uint64(uintptr(unsafe.Pointer(unsafe.SliceData(data)))),
	}

	table.mu.Lock()
	if table.bufs == nil {
		table.bufs = make(map[uint64]*Buffer)
	}
	table.bufs[b.addr] = b
	table.mu.Unlock()
	return b, nil
}

// Bytes returns the buffer's memory.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Len returns the buffer's size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Addr returns the address recorded in descriptor records naming b.
func (b *Buffer) Addr() uint64 {
	return b.addr
}

// Info returns a descriptor record naming the first size bytes of b. A size
// beyond the buffer is clamped.
func (b *Buffer) Info(size int) gim.ShmInfo {
	if size < 0 || size > len(b.data) {
		size = len(b.data)
	}
	return gim.ShmInfo{
		BufferSize: uint32(size),
		BufferAddr: b.addr,
	}
}

// Release unregisters and unmaps b. b must not be used afterwards.
func (b *Buffer) Release() error {
	table.mu.Lock()
	delete(table.bufs, b.addr)
	table.mu.Unlock()

	if b.data == nil {
		return nil
	}
	err := unix.Munmap(b.data)
	b.data = nil
	return err
}

// Lookup returns the live buffer registered at addr.
func Lookup(addr uint64) (*Buffer, bool) {
	table.mu.Lock()
	defer table.mu.Unlock()
	b, ok := table.bufs[addr]
	return b, ok
}

// Resolve returns the first size bytes of the buffer registered at addr.
func Resolve(addr uint64, size uint32) ([]byte, error) {
	b, ok := Lookup(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownBuffer, addr)
	}
	if int(size) > len(b.data) {
		return nil, fmt.Errorf("%w: %d bytes from a %d byte buffer at %#x", ErrBufferOverflow, size, len(b.data), addr)
	}
	return b.data[:size], nil
}
