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

package gimserver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync/atomic"
	"testing"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/unet"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/shm"
)

// startServer serves h on one end of a socket pair and returns the other.
func startServer(t *testing.T, h Handler) (*Server, *unet.Socket) {
	t.Helper()
	client, server, err := unet.SocketPair(false)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	s := NewServer(h)
	s.StartHandling(server)
	t.Cleanup(func() {
		client.Close()
		s.Stop()
	})
	return s, client
}

// send writes cmd as a framed command, followed by the outbound buffer, if
// any, and the SMI descriptor, if any.
func send(t *testing.T, sock *unet.Socket, cmd gim.Command, outbound []byte, fd int) {
	t.Helper()
	hdr := gim.Header{CmdID: cmd.Code() | gim.HeaderMask, PID: 1}
	buf := make([]byte, gim.HeaderSize+cmd.SizeBytes())
	hdr.MarshalBytes(buf)
	cmd.MarshalBytes(buf[gim.HeaderSize:])
	if err := shm.WriteTo(sock, [][]byte{buf}, nil); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if err := shm.Send(sock, outbound); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fd >= 0 {
		if err := shm.SendFD(sock, fd); err != nil {
			t.Fatalf("SendFD: %v", err)
		}
	}
}

// recv reads the response to cmd into cmd.
func recv(t *testing.T, sock *unet.Socket, cmd gim.Command) {
	t.Helper()
	buf := make([]byte, cmd.SizeBytes())
	if _, err := shm.ReadFrom(sock, buf, 0); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	cmd.UnmarshalBytes(buf)
}

func TestEcho(t *testing.T) {
	want := gim.DevicesInfo{DevNum: 2}
	want.Devs[0] = gim.DevInfo{Handle: 0x10, BDF: gim.NewBDF(0, 0x3, 0, 0), ASICType: gim.ASICMI300X}
	want.Devs[1] = gim.DevInfo{Handle: 0x20, BDF: gim.NewBDF(0, 0x4, 0, 0), ASICType: gim.ASICMI300X}

	reqs := make(chan *Request, 1)
	_, sock := startServer(t, HandlerFunc(func(r *Request) {
		reqs <- r
		c := r.Cmd.(*gim.Cmd)
		c.SetOutput(&want)
		c.Response = gim.ResponseSuccess
	}))

	cmd := gim.NewCmd(gim.CmdGetDevicesInfo)
	send(t, sock, cmd, nil, -1)
	rsp := &gim.Cmd{}
	recv(t, sock, rsp)

	if rsp.Response != gim.ResponseSuccess {
		t.Errorf("Response = %v, want %v", rsp.Response, gim.ResponseSuccess)
	}
	var info gim.DevicesInfo
	rsp.GetOutput(&info)
	if !slices.Equal(want.Devices(), info.Devices()) {
		t.Errorf("devices = %+v, want %+v", info.Devices(), want.Devices())
	}
	got := <-reqs
	if got.Info == nil || got.Info.Code != gim.CmdGetDevicesInfo {
		t.Errorf("handler saw Info %v, want %#x", got.Info, gim.CmdGetDevicesInfo)
	}
	if got.Header.PID != 1 {
		t.Errorf("handler saw PID %d, want 1", got.Header.PID)
	}
}

func TestRejected(t *testing.T) {
	for _, tc := range []struct {
		name string
		cmd  func() gim.Command
		want func(gim.Command) bool
	}{
		{
			name: "unknown amdgv",
			cmd:  func() gim.Command { return gim.NewCmd(uint32(gim.ClientAMDGV) | 0x7fff) },
			want: func(c gim.Command) bool { return c.(*gim.Cmd).Response == gim.ResponseUnknownCmd },
		},
		{
			name: "version",
			cmd: func() gim.Command {
				c := gim.NewCmd(gim.CmdGetDevicesInfo)
				c.Version = 1
				return c
			},
			want: func(c gim.Command) bool { return c.(*gim.Cmd).Response == gim.ResponseVersion },
		},
		{
			name: "oversized input",
			cmd: func() gim.Command {
				c := gim.NewCmd(gim.CmdGPUReset)
				c.InputSize = gim.CmdMaxInSize + 1
				return c
			},
			want: func(c gim.Command) bool { return c.(*gim.Cmd).Response == gim.ResponseInvalidInput },
		},
		{
			name: "unknown smi",
			cmd:  func() gim.Command { return gim.NewSMICmd(uint32(gim.ClientSMI) | 0x03) },
			want: func(c gim.Command) bool { return c.(*gim.SMICmd).Status == gim.SMIStatusNotSupported },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			_, sock := startServer(t, HandlerFunc(func(*Request) { calls.Add(1) }))
			cmd := tc.cmd()
			send(t, sock, cmd, nil, -1)
			recv(t, sock, cmd)
			if !tc.want(cmd) {
				t.Errorf("unexpected response %+v", cmd)
			}
			if n := calls.Load(); n != 0 {
				t.Errorf("handler called %d times, want 0", n)
			}
		})
	}
}

func TestOutbound(t *testing.T) {
	image := bytes.Repeat([]byte("vbios"), 1000)
	reqs := make(chan *Request, 1)
	_, sock := startServer(t, HandlerFunc(func(r *Request) { reqs <- r }))

	cmd := gim.NewCmd(gim.CmdPSPVBFlashCopy)
	cmd.SetInput(&gim.VBFlashInfo{
		Shm: gim.ShmInfo{BufferSize: uint32(len(image))},
		BDF: gim.NewBDF(0, 0x3, 0, 0),
	})
	send(t, sock, cmd, image, -1)
	recv(t, sock, cmd)

	if cmd.Response != gim.ResponseSuccess {
		t.Errorf("Response = %v, want %v", cmd.Response, gim.ResponseSuccess)
	}
	r := <-reqs
	if got := r.Outbound; !bytes.Equal(got, image) {
		t.Errorf("handler received %d outbound bytes, want the %d byte image", len(got), len(image))
	}
	var in gim.VBFlashInfo
	r.Cmd.(*gim.Cmd).GetInput(&in)
	if want := gim.NewBDF(0, 0x3, 0, 0); in.BDF != want {
		t.Errorf("handler saw BDF %v, want %v", in.BDF, want)
	}
}

func TestOutboundRefused(t *testing.T) {
	for _, tc := range []struct {
		name  string
		claim uint32
	}{
		{name: "above limit", claim: 1 << 30},
		{name: "short file", claim: 64},
	} {
		t.Run(tc.name, func(t *testing.T) {
			reqs := make(chan *Request, 4)
			_, sock := startServer(t, HandlerFunc(func(r *Request) { reqs <- r }))

			cmd := gim.NewCmd(gim.CmdPSPVBFlashCopy)
			cmd.SetInput(&gim.VBFlashInfo{
				Shm: gim.ShmInfo{BufferSize: tc.claim},
				BDF: gim.NewBDF(0, 0x3, 0, 0),
			})
			send(t, sock, cmd, make([]byte, 16), -1)
			recv(t, sock, cmd)
			if cmd.Response != gim.ResponseInvalidInput {
				t.Errorf("Response = %v, want %v", cmd.Response, gim.ResponseInvalidInput)
			}

			// The connection is still framed.
			next := gim.NewCmd(gim.CmdQueryInterfaceVersion)
			send(t, sock, next, nil, -1)
			recv(t, sock, next)
			if next.Response != gim.ResponseSuccess {
				t.Errorf("next Response = %v, want %v", next.Response, gim.ResponseSuccess)
			}
			if r := <-reqs; r.Cmd.Code() != gim.CmdQueryInterfaceVersion {
				t.Errorf("handler ran %#x, want only %#x", r.Cmd.Code(), gim.CmdQueryInterfaceVersion)
			}
			if n := len(reqs); n != 0 {
				t.Errorf("%d unexpected handler calls", n)
			}
		})
	}
}

func TestInbound(t *testing.T) {
	dump := bytes.Repeat([]byte{0xab, 0xcd}, 3000)
	for _, tc := range []struct {
		name     string
		cap      int
		wantSize int
		wantRsp  gim.Response
	}{
		{name: "fits", cap: 8192, wantSize: len(dump), wantRsp: gim.ResponseSuccess},
		{name: "truncated", cap: 100, wantSize: 100, wantRsp: gim.ResponseSuccessExceedBuffer},
		{name: "no buffer", cap: 0, wantSize: 0, wantRsp: gim.ResponseSuccessExceedBuffer},
	} {
		t.Run(tc.name, func(t *testing.T) {
			caps := make(chan int, 1)
			_, sock := startServer(t, HandlerFunc(func(r *Request) {
				caps <- r.InboundCap
				r.Cmd.(*gim.Cmd).SetOutput(&gim.DiagDataOut{DataSize: uint32(len(dump))})
				r.Inbound = dump
			}))

			cmd := gim.NewCmd(gim.CmdGetDiagData)
			cmd.SetOutput(&gim.DiagDataOut{Shm: gim.ShmInfo{BufferSize: uint32(tc.cap)}})
			send(t, sock, cmd, nil, -1)
			recv(t, sock, cmd)

			if gotCap := <-caps; gotCap != tc.cap {
				t.Errorf("handler saw InboundCap %d, want %d", gotCap, tc.cap)
			}
			if cmd.Response != tc.wantRsp {
				t.Errorf("Response = %v, want %v", cmd.Response, tc.wantRsp)
			}
			var out gim.DiagDataOut
			cmd.GetOutput(&out)
			if int(out.Shm.BufferSize) != tc.wantSize {
				t.Fatalf("inbound size = %d, want %d", out.Shm.BufferSize, tc.wantSize)
			}
			if out.DataSize != uint32(len(dump)) {
				t.Errorf("DataSize = %d, want %d", out.DataSize, len(dump))
			}

			dst := make([]byte, tc.cap)
			n, err := shm.Recv(sock, dst, out.Shm.BufferSize)
			if err != nil {
				t.Fatalf("Recv: %v", err)
			}
			if !bytes.Equal(dst[:n], dump[:tc.wantSize]) {
				t.Errorf("inbound data mismatch")
			}
		})
	}
}

func TestFDOutbound(t *testing.T) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	_, sock := startServer(t, HandlerFunc(func(r *Request) {
		c := r.Cmd.(*gim.SMICmd)
		if r.FD == nil {
			c.Status = gim.SMIStatusInval
			return
		}
		if _, err := r.FD.Write([]byte{'!'}); err != nil {
			c.Status = gim.SMIStatusIO
		}
	}))

	cmd := gim.NewSMICmd(gim.SMICreateEvent)
	cmd.SetFD(int32(p[1]))
	send(t, sock, cmd, nil, p[1])
	recv(t, sock, cmd)
	if cmd.Status != gim.SMIStatusSuccess {
		t.Fatalf("Status = %d, want %d", cmd.Status, gim.SMIStatusSuccess)
	}
	var b [1]byte
	if _, err := unix.Read(p[0], b[:]); err != nil || b[0] != '!' {
		t.Errorf("Read = %q, %v; want %q", b[0], err, '!')
	}
}

func TestBadFrame(t *testing.T) {
	client, server, err := unet.SocketPair(false)
	if err != nil {
		t.Fatalf("SocketPair: %v", err)
	}
	defer client.Close()

	s := NewServer(HandlerFunc(func(*Request) {
		t.Errorf("handler called for a malformed frame")
	}))
	done := make(chan error, 1)
	go func() { done <- s.Handle(server) }()

	// The header bit is missing.
	hdr := gim.Header{CmdID: gim.CmdGetDevicesInfo}
	buf := make([]byte, gim.HeaderSize)
	hdr.MarshalBytes(buf)
	if err := shm.WriteTo(client, [][]byte{buf}, nil); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if err := <-done; !errors.Is(err, errBadFrame) {
		t.Errorf("Handle = %v, want %v", err, errBadFrame)
	}
	// The server closed its end.
	if _, err := shm.ReadFrom(client, make([]byte, 1), 0); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrom after bad frame = %v, want %v", err, io.EOF)
	}
}

func TestStopIdle(t *testing.T) {
	s, sock := startServer(t, HandlerFunc(func(*Request) {}))

	// One round trip so the client is known to be registered and idle.
	cmd := gim.NewCmd(gim.CmdGetDevicesInfo)
	send(t, sock, cmd, nil, -1)
	recv(t, sock, cmd)

	s.Stop()
	if _, err := shm.ReadFrom(sock, make([]byte, 1), 0); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrom after Stop = %v, want %v", err, io.EOF)
	}
}

func TestStopBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s, sock := startServer(t, HandlerFunc(func(r *Request) {
		close(entered)
		<-release
		r.Cmd.(*gim.Cmd).Response = gim.ResponseGeneric
	}))

	cmd := gim.NewCmd(gim.CmdGetDevicesInfo)
	send(t, sock, cmd, nil, -1)
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatalf("Stop returned while a command was in progress")
	default:
	}
	close(release)

	// The in-progress command still completes.
	recv(t, sock, cmd)
	if cmd.Response != gim.ResponseGeneric {
		t.Errorf("Response = %v, want %v", cmd.Response, gim.ResponseGeneric)
	}
	<-stopped
	if _, err := shm.ReadFrom(sock, make([]byte, 1), 0); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrom after Stop = %v, want %v", err, io.EOF)
	}
}

func TestServe(t *testing.T) {
	addr := fmt.Sprintf("@gimserver-test-%d", os.Getpid())
	ss, err := unet.BindAndListen(addr, false)
	if err != nil {
		t.Fatalf("BindAndListen: %v", err)
	}
	s := NewServer(HandlerFunc(func(r *Request) {
		r.Cmd.(*gim.Cmd).SetOutput(&gim.QueryInterfaceVersionRsp{Major: gim.InterfaceMajorVersion, Minor: gim.InterfaceMinorVersion})
	}))
	served := make(chan error, 1)
	go func() { served <- s.Serve(ss) }()
	defer func() {
		ss.Close()
		<-served
		s.Stop()
	}()

	sock, err := unet.Connect(addr, false)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sock.Close()

	cmd := gim.NewCmd(gim.CmdQueryInterfaceVersion)
	cmd.SetInput(&gim.QueryInterfaceVersionReq{})
	send(t, sock, cmd, nil, -1)
	recv(t, sock, cmd)
	var rsp gim.QueryInterfaceVersionRsp
	cmd.GetOutput(&rsp)
	if rsp.Major != gim.InterfaceMajorVersion || rsp.Minor != gim.InterfaceMinorVersion {
		t.Errorf("version = %d.%d, want %d.%d", rsp.Major, rsp.Minor, gim.InterfaceMajorVersion, gim.InterfaceMinorVersion)
	}
}
