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

package gimcoms

import (
	"fmt"
	"os"
	"runtime"

	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/unet"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/connmux"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/shm"
)

// daemonBackend streams commands to the daemon, one connection per calling
// thread.
//
// Each command is framed as follows:
//
//	client                                  daemon
//	  | ---- Header, command record ---------> |
//	  | ---- [1 byte + outbound memfd] ------> |  FlagShmOutbound, size > 0
//	  | ---- [1 byte + caller FD] -----------> |  FlagFDOutbound
//	  | <--- response record ----------------- |
//	  | <--- [1 byte + inbound memfd] -------- |  FlagShmInbound, size > 0
type daemonBackend struct {
	addr string
}

func newDaemonBackend(opts *Options) *daemonBackend {
	return &daemonBackend{addr: opts.DaemonSocket}
}

func (*daemonBackend) kind() Kind {
	return Daemon
}

func (d *daemonBackend) dial() (*unet.Socket, error) {
	transportCalls.WithLabelValues(Daemon.String(), "connect").Inc()
	sock, err := unet.Connect(d.addr, false)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: fmt.Errorf("%s: %w", d.addr, err)}
	}
	return sock, nil
}

func (d *daemonBackend) open(gim.ClientType) (connmux.Conn, error) {
	return d.dial()
}

func (d *daemonBackend) access(gim.ClientType) error {
	sock, err := d.dial()
	if err != nil {
		return err
	}
	return sock.Close()
}

func (d *daemonBackend) execute(reg *connmux.Registry, h connmux.Handle, info *gim.Info, cmd gim.Command) error {
	// The connection is keyed by OS thread, so stay on one for the whole
	// round trip.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	conn, err := reg.Get(h, currentThread(), func() (connmux.Conn, error) {
		return d.dial()
	})
	if err != nil {
		return err
	}
	sock, ok := conn.(*unet.Socket)
	if !ok {
		return fmt.Errorf("handle %d is not a daemon connection", h)
	}
	return d.roundTrip(sock, h, info, cmd)
}

// roundTrip sends cmd on sock and reads the response into cmd. cmd is only
// modified once the whole response record has been read.
func (d *daemonBackend) roundTrip(sock *unet.Socket, h connmux.Handle, info *gim.Info, cmd gim.Command) error {
	amdgv, _ := cmd.(*gim.Cmd)
	smi, _ := cmd.(*gim.SMICmd)

	// Resolve the outbound buffer before anything is written.
	var outbound []byte
	if amdgv != nil && info.Flags&gim.FlagShmOutbound != 0 {
		if size := gim.ShmSize(amdgv.Input[:]); size > 0 {
			var err error
			if outbound, err = shm.Resolve(gim.ShmAddr(amdgv.Input[:]), size); err != nil {
				return err
			}
		}
	}

	hdr := gim.Header{
		CmdID:     cmd.Code() | gim.HeaderMask,
		ThreadFD:  uint32(sock.FD()),
		PrimaryFD: uint32(h),
		PID:       uint32(os.Getpid()),
	}
	size := cmd.SizeBytes()
	buf := make([]byte, gim.HeaderSize+size)
	hdr.MarshalBytes(buf[:gim.HeaderSize])

	var ctx shm.Context
	if amdgv != nil {
		ctx.Save(amdgv, info.Flags)
		defer ctx.Restore(amdgv)
	}
	cmd.MarshalBytes(buf[gim.HeaderSize:])

	if err := shm.WriteTo(sock, [][]byte{buf[:gim.HeaderSize], buf[gim.HeaderSize:]}, nil); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if outbound != nil {
		if err := shm.Send(sock, outbound); err != nil {
			return &TransportError{Op: "send shm", Err: err}
		}
	}
	if smi != nil && info.Flags&gim.FlagFDOutbound != 0 {
		if err := shm.SendFD(sock, int(smi.FD())); err != nil {
			return &TransportError{Op: "send fd", Err: err}
		}
	}

	rsp := buf[gim.HeaderSize:]
	if _, err := shm.ReadFrom(sock, rsp, 0); err != nil {
		return &TransportError{Op: "read", Err: err}
	}
	cmd.UnmarshalBytes(rsp)
	if amdgv == nil {
		log.Debugf("gimcoms: daemon: %v on FD %d done", info, sock.FD())
		return nil
	}
	ctx.Restore(amdgv)

	if info.Flags&gim.FlagShmInbound != 0 {
		d.recvInbound(sock, info, amdgv, ctx.Inbound())
	}
	log.Debugf("gimcoms: daemon: %v on FD %d done: %v", info, sock.FD(), amdgv.Response)
	return nil
}

// recvInbound copies the daemon's inbound buffer into the local buffer
// named by addr. The response record has already been read, so a failure
// here is logged and the backend's response code is left to speak for the
// command.
func (d *daemonBackend) recvInbound(sock *unet.Socket, info *gim.Info, cmd *gim.Cmd, addr uint64) {
	size := gim.ShmSize(cmd.Output[:])
	if size == 0 {
		return
	}
	var dst []byte
	if b, ok := shm.Lookup(addr); ok {
		dst = b.Bytes()
	} else {
		log.Warningf("gimcoms: %v: no local buffer at %#x, discarding %d inbound bytes", info, addr, size)
	}
	n, err := shm.Recv(sock, dst, size)
	if err != nil {
		log.Warningf("gimcoms: %v: receiving inbound buffer failed: %v", info, err)
		return
	}
	if n < int(size) && dst != nil {
		log.Warningf("gimcoms: %v: inbound buffer truncated from %d to %d bytes", info, size, n)
	}
}
