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
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/unet"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
)

func socketPair(t *testing.T) (*unet.Socket, *unet.Socket) {
	t.Helper()
	a, b, err := unet.SocketPair(false)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestContextSaveRestore(t *testing.T) {
	const (
		outAddr = 0x7f0000001000
		inAddr  = 0x7f0000802000
		garbage = 0xdeadbeefcafef00d
	)
	for _, tc := range []struct {
		name    string
		flags   gim.Flags
		wantOut uint64 // on the wire
		wantIn  uint64 // on the wire
	}{
		{name: "none", flags: 0, wantOut: outAddr, wantIn: inAddr},
		{name: "outbound", flags: gim.FlagShmOutbound, wantOut: 0, wantIn: inAddr},
		{name: "inbound", flags: gim.FlagShmInbound, wantOut: outAddr, wantIn: 0},
		{name: "both", flags: gim.FlagShmOutbound | gim.FlagShmInbound, wantOut: 0, wantIn: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cmd := gim.NewCmd(gim.CmdPSPVBFlashCopy)
			gim.SetShmAddr(cmd.Input[:], outAddr)
			gim.SetShmSize(cmd.Input[:], 4096)
			gim.SetShmAddr(cmd.Output[:], inAddr)

			var c Context
			c.Save(cmd, tc.flags)
			if got := gim.ShmAddr(cmd.Input[:]); got != tc.wantOut {
				t.Errorf("wire outbound address = %#x, want %#x", got, tc.wantOut)
			}
			if got := gim.ShmAddr(cmd.Output[:]); got != tc.wantIn {
				t.Errorf("wire inbound address = %#x, want %#x", got, tc.wantIn)
			}
			if got := gim.ShmSize(cmd.Input[:]); got != 4096 {
				t.Errorf("Save changed outbound size to %d", got)
			}

			// The peer may write anything into the address fields.
			gim.SetShmAddr(cmd.Input[:], garbage)
			gim.SetShmAddr(cmd.Output[:], garbage)
			c.Restore(cmd)

			wantOut, wantIn := uint64(garbage), uint64(garbage)
			if tc.flags&gim.FlagShmOutbound != 0 {
				wantOut = outAddr
			}
			if tc.flags&gim.FlagShmInbound != 0 {
				wantIn = inAddr
			}
			if got := gim.ShmAddr(cmd.Input[:]); got != wantOut {
				t.Errorf("restored outbound address = %#x, want %#x", got, wantOut)
			}
			if got := gim.ShmAddr(cmd.Output[:]); got != wantIn {
				t.Errorf("restored inbound address = %#x, want %#x", got, wantIn)
			}
		})
	}
}

func TestContextIdempotent(t *testing.T) {
	cmd := gim.NewCmd(gim.CmdGetDiagData)
	cmd.SetOutput(&gim.DiagDataOut{Shm: gim.ShmInfo{BufferSize: 64, BufferAddr: 0x1000}})
	orig := *cmd

	var c Context
	c.Save(cmd, gim.FlagShmInbound)
	c.Restore(cmd)
	c.Restore(cmd)
	if *cmd != orig {
		t.Errorf("Save then Restore changed the command")
	}
}

func TestRestoreWithoutSave(t *testing.T) {
	cmd := gim.NewCmd(gim.CmdGetDiagData)
	gim.SetShmAddr(cmd.Output[:], 0x1234)
	var c Context
	c.Restore(cmd)
	if got := gim.ShmAddr(cmd.Output[:]); got != 0x1234 {
		t.Errorf("Restore without Save wrote %#x", got)
	}
}

func TestSendZeroLength(t *testing.T) {
	a, _ := socketPair(t)
	before := testutil.ToFloat64(fdsSent)
	if err := Send(a, nil); err != nil {
		t.Fatalf("Send(nil): %v", err)
	}
	if err := Send(a, []byte{}); err != nil {
		t.Fatalf("Send(empty): %v", err)
	}
	if got := testutil.ToFloat64(fdsSent); got != before {
		t.Errorf("fds sent = %v, want %v", got, before)
	}
	if n, err := Recv(a, make([]byte, 8), 0); n != 0 || err != nil {
		t.Errorf("Recv(size 0) = %d, %v; want 0, nil", n, err)
	}
}

func TestSendRecv(t *testing.T) {
	for _, tc := range []struct {
		name   string
		size   int
		dstLen int
	}{
		{name: "exact", size: 4096, dstLen: 4096},
		{name: "small", size: 17, dstLen: 17},
		{name: "short destination", size: 4096, dstLen: 100},
		{name: "long destination", size: 100, dstLen: 4096},
		{name: "discard", size: 512, dstLen: 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, b := socketPair(t)
			data := pattern(tc.size)
			sent := testutil.ToFloat64(fdsSent)
			received := testutil.ToFloat64(fdsReceived)

			var dst []byte
			if tc.dstLen > 0 {
				dst = make([]byte, tc.dstLen)
			}
			var g errgroup.Group
			g.Go(func() error { return Send(a, data) })
			n, err := Recv(b, dst, uint32(tc.size))
			if err != nil {
				t.Fatalf("Recv: %v", err)
			}
			if err := g.Wait(); err != nil {
				t.Fatalf("Send: %v", err)
			}

			want := min(tc.size, tc.dstLen)
			if n != want {
				t.Errorf("Recv copied %d bytes, want %d", n, want)
			}
			if !bytes.Equal(data[:want], dst[:n]) {
				t.Errorf("Recv copied the wrong bytes")
			}
			if got := testutil.ToFloat64(fdsSent) - sent; got != 1 {
				t.Errorf("fds sent delta = %v, want 1", got)
			}
			if got := testutil.ToFloat64(fdsReceived) - received; got != 1 {
				t.Errorf("fds received delta = %v, want 1", got)
			}
		})
	}
}

func TestRecvShortFile(t *testing.T) {
	a, b := socketPair(t)
	if err := Send(a, pattern(10)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := Recv(b, make([]byte, 20), 20); !errors.Is(err, ErrShortFile) {
		t.Errorf("Recv = %v, want %v", err, ErrShortFile)
	}
}

func TestRecvLimited(t *testing.T) {
	data := pattern(4096)
	for _, tc := range []struct {
		name    string
		size    uint32
		limit   uint32
		want    []byte
		wantErr error
	}{
		{name: "exact", size: 4096, limit: 4096, want: data},
		{name: "prefix", size: 100, limit: 4096, want: data[:100]},
		{name: "above limit", size: 1 << 30, limit: 4096, wantErr: ErrTooLarge},
		{name: "short file", size: 8192, limit: 1 << 20, wantErr: ErrShortFile},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, b := socketPair(t)
			if err := Send(a, data); err != nil {
				t.Fatalf("Send: %v", err)
			}
			// A trailing byte shows whether the descriptor message was
			// consumed.
			if err := WriteTo(a, [][]byte{{'x'}}, nil); err != nil {
				t.Fatalf("WriteTo: %v", err)
			}

			got, err := RecvLimited(b, tc.size, tc.limit)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("RecvLimited = %v, want %v", err, tc.wantErr)
			}
			if !bytes.Equal(got, tc.want) {
				t.Errorf("RecvLimited returned %d bytes, want %d", len(got), len(tc.want))
			}
			var next [1]byte
			if _, err := ReadFrom(b, next[:], 0); err != nil || next[0] != 'x' {
				t.Errorf("next byte = %q, %v; want 'x'", next[0], err)
			}
		})
	}
}

func TestRecvNoDescriptor(t *testing.T) {
	a, b := socketPair(t)
	if err := WriteTo(a, [][]byte{{0}}, nil); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if _, err := RecvFD(b); !errors.Is(err, ErrNoDescriptor) {
		t.Errorf("RecvFD = %v, want %v", err, ErrNoDescriptor)
	}
}

func TestSendFD(t *testing.T) {
	a, b := socketPair(t)

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(p[0])

	if err := SendFD(a, p[1]); err != nil {
		t.Fatalf("SendFD: %v", err)
	}
	// The sender keeps its descriptor.
	if err := unix.Close(p[1]); err != nil {
		t.Fatalf("close of sent FD: %v", err)
	}

	f, err := RecvFD(b)
	if err != nil {
		t.Fatalf("RecvFD: %v", err)
	}
	defer f.Close()
	if _, err := f.Write([]byte("event")); err != nil {
		t.Fatalf("Write to received FD: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := unix.Read(p[0], buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "event" {
		t.Errorf("read %q, want %q", buf, "event")
	}
}

func TestWriteToReadFrom(t *testing.T) {
	a, b := socketPair(t)
	// Larger than a socket buffer, so WriteTo sees partial writes.
	parts := [][]byte{pattern(gim.HeaderSize), pattern(1 << 20), pattern(gim.CmdSize)}
	want := bytes.Join(parts, nil)

	var g errgroup.Group
	g.Go(func() error { return WriteTo(a, parts, nil) })
	got := make([]byte, len(want))
	if _, err := ReadFrom(b, got, 0); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadFrom returned different bytes than were written")
	}
}

func TestReadFromClosedPeer(t *testing.T) {
	a, b := socketPair(t)
	if _, err := a.Write([]byte{1, 2, 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, err := ReadFrom(b, make([]byte, 8), 0)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrom = %v, want %v", err, io.ErrUnexpectedEOF)
	} else if want := "read 3 of 8 bytes"; !strings.Contains(err.Error(), want) {
		t.Errorf("ReadFrom = %q, want it to mention %q", err, want)
	}
	if _, err := ReadFrom(b, make([]byte, 8), 0); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrom at EOF = %v, want %v", err, io.EOF)
	}
}

func TestBuffer(t *testing.T) {
	b, err := NewBuffer(8192)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	copy(b.Bytes(), pattern(8192))

	if got, ok := Lookup(b.Addr()); !ok || got != b {
		t.Errorf("Lookup(%#x) = %v, %v; want the buffer", b.Addr(), got, ok)
	}
	want := gim.ShmInfo{BufferSize: 100, BufferAddr: b.Addr()}
	if got := b.Info(100); got != want {
		t.Errorf("Info(100) = %+v, want %+v", got, want)
	}
	if got := b.Info(1 << 30); got.BufferSize != 8192 {
		t.Errorf("Info(huge).BufferSize = %d, want 8192", got.BufferSize)
	}

	data, err := Resolve(b.Addr(), 100)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !bytes.Equal(data, pattern(8192)[:100]) {
		t.Errorf("Resolve returned the wrong bytes")
	}
	if _, err := Resolve(b.Addr(), 8193); !errors.Is(err, ErrBufferOverflow) {
		t.Errorf("Resolve(oversize) = %v, want %v", err, ErrBufferOverflow)
	}

	addr := b.Addr()
	if err := b.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := Resolve(addr, 1); !errors.Is(err, ErrUnknownBuffer) {
		t.Errorf("Resolve after Release = %v, want %v", err, ErrUnknownBuffer)
	}
	if _, err := NewBuffer(0); err == nil {
		t.Errorf("NewBuffer(0) succeeded")
	}
}
