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

// Package shm moves bulk data and descriptors between a command client and
// a daemon over a local stream socket.
//
// Bulk data travels as a sealed memfd attached to a single data byte with
// SCM_RIGHTS. The descriptor records embedded in a command carry local
// addresses that mean nothing to the peer; Context clears them on the wire
// copy and puts them back once the response has been read.
package shm

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/fd"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/memutil"
	"gvisor.dev/gvisor/pkg/unet"
)

var (
	// ErrUnknownBuffer is returned when a descriptor record names an
	// address with no live Buffer.
	ErrUnknownBuffer = errors.New("no shared buffer registered at address")

	// ErrBufferOverflow is returned when a descriptor record claims more
	// bytes than its buffer holds.
	ErrBufferOverflow = errors.New("shared buffer size exceeds buffer")

	// ErrNoDescriptor is returned when a handoff message arrives without a
	// descriptor attached.
	ErrNoDescriptor = errors.New("handoff message carried no descriptor")

	// ErrShortFile is returned when a received memfd is smaller than the
	// size announced for it.
	ErrShortFile = errors.New("shared memory file shorter than announced size")

	// ErrTooLarge is returned by RecvLimited when the announced size is
	// above the receiver's limit.
	ErrTooLarge = errors.New("announced shared memory size above limit")
)

var (
	fdsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gim",
		Subsystem: "shm",
		Name:      "fds_sent_total",
		Help:      "Descriptors passed to a peer.",
	})
	fdsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gim",
		Subsystem: "shm",
		Name:      "fds_received_total",
		Help:      "Descriptors received from a peer.",
	})
	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gim",
		Subsystem: "shm",
		Name:      "bytes_sent_total",
		Help:      "Bytes handed to a peer through shared memory files.",
	})
	bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gim",
		Subsystem: "shm",
		Name:      "bytes_received_total",
		Help:      "Bytes copied out of shared memory files received from a peer.",
	})
)

// memfdSeals freeze the size of a handed-off file.
const memfdSeals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_SEAL

// Send copies data into a fresh memfd and passes it to the peer. The local
// descriptor is closed before Send returns. Empty data sends nothing.
func Send(sock *unet.Socket, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	memfd, err := memutil.CreateMemFD("gim-shm", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return fmt.Errorf("memfd_create: %w", err)
	}
	f := fd.New(memfd)
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing %d bytes to memfd: %w", len(data), err)
	}
	if _, err := unix.FcntlInt(uintptr(f.FD()), unix.F_ADD_SEALS, memfdSeals); err != nil {
		return fmt.Errorf("sealing memfd: %w", err)
	}
	if err := SendFD(sock, f.FD()); err != nil {
		return err
	}
	bytesSent.Add(float64(len(data)))
	log.Debugf("shm: sent %d bytes over FD %d", len(data), sock.FD())
	return nil
}

// SendFD passes a duplicate of fd to the peer. The caller keeps fd.
func SendFD(sock *unet.Socket, fd int) error {
	if err := WriteTo(sock, [][]byte{{0}}, []int{fd}); err != nil {
		return fmt.Errorf("passing FD %d: %w", fd, err)
	}
	fdsSent.Inc()
	return nil
}

// RecvFD receives one descriptor from the peer. Any extra descriptors
// attached to the same message are closed.
func RecvFD(sock *unet.Socket) (*fd.FD, error) {
	var b [1]byte
	fds, err := ReadFrom(sock, b[:], 1)
	if err != nil {
		return nil, fmt.Errorf("receiving FD: %w", err)
	}
	if len(fds) == 0 {
		return nil, ErrNoDescriptor
	}
	closeFDs(fds[1:])
	fdsReceived.Inc()
	return fd.New(fds[0]), nil
}

// Recv receives a memfd holding size bytes and copies as much of it as fits
// into dst. It returns the number of bytes copied. A zero size receives
// nothing. The received descriptor is always closed.
//
// dst may be nil, in which case the file is consumed and discarded.
func Recv(sock *unet.Socket, dst []byte, size uint32) (int, error) {
	if size == 0 {
		return 0, nil
	}
	f, err := RecvFD(sock)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	m, err := mapFile(f, size)
	if err != nil {
		return 0, err
	}
	defer unmapFile(m)

	n := copy(dst, m)
	bytesReceived.Add(float64(n))
	log.Debugf("shm: received %d bytes over FD %d, copied %d", size, sock.FD(), n)
	return n, nil
}

// RecvLimited receives a memfd holding size bytes and returns a copy of
// them. A zero size receives nothing.
//
// The descriptor is consumed even when the file is refused, so the stream
// stays framed: a size above limit fails with ErrTooLarge and a file
// smaller than size with ErrShortFile. Nothing is allocated for the copy
// until the file has passed both checks.
func RecvLimited(sock *unet.Socket, size, limit uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	f, err := RecvFD(sock)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if size > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, size, limit)
	}
	m, err := mapFile(f, size)
	if err != nil {
		return nil, err
	}
	defer unmapFile(m)

	data := make([]byte, size)
	copy(data, m)
	bytesReceived.Add(float64(size))
	log.Debugf("shm: received %d bytes over FD %d", size, sock.FD())
	return data, nil
}

// mapFile maps the first size bytes of f read-only, after checking that f
// holds that many.
func mapFile(f *fd.FD, size uint32) ([]byte, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.FD(), &st); err != nil {
		return nil, fmt.Errorf("fstat received FD: %w", err)
	}
	if st.Size < int64(size) {
		return nil, fmt.Errorf("%w: %d < %d", ErrShortFile, st.Size, size)
	}
	m, err := memutil.MapSlice(0, uintptr(size), unix.PROT_READ, unix.MAP_SHARED, uintptr(f.FD()), 0)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of received FD: %w", size, err)
	}
	return m, nil
}

func unmapFile(m []byte) {
	if err := memutil.UnmapSlice(m); err != nil {
		log.Warningf("shm: unmapping %d bytes failed: %v", len(m), err)
	}
}
