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

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/fd"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/connmux"
)

// devConn is an open device node.
type devConn struct {
	file *fd.FD
}

// FD implements connmux.Conn.FD.
func (c devConn) FD() int {
	return c.file.FD()
}

// Shutdown implements connmux.Conn.Shutdown. Device nodes have nothing to
// shut down.
func (devConn) Shutdown() error {
	return nil
}

// Close implements connmux.Conn.Close.
func (c devConn) Close() error {
	return c.file.Close()
}

// kernelBackend sends every command as one ioctl on the handle's device
// node. The driver validates the record and writes the response into it.
//
// Shared buffers need no handling here: the driver reads and writes them
// through the addresses in the ShmInfo records.
type kernelBackend struct {
	opts *Options

	// ioctl issues the request. It is replaced in tests.
	ioctl func(fd int, req uint32, buf []byte) error
}

func newKernelBackend(opts *Options) *kernelBackend {
	return &kernelBackend{
		opts:  opts,
		ioctl: ioctl,
	}
}

func (*kernelBackend) kind() Kind {
	return Kernel
}

func (k *kernelBackend) open(t gim.ClientType) (connmux.Conn, error) {
	path, err := k.opts.devicePath(t)
	if err != nil {
		return nil, err
	}
	transportCalls.WithLabelValues(Kernel.String(), "open").Inc()
	f, err := fd.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return devConn{file: f}, nil
}

func (k *kernelBackend) access(t gim.ClientType) error {
	path, err := k.opts.devicePath(t)
	if err != nil {
		return err
	}
	if err := unix.Access(path, unix.F_OK); err != nil {
		return &TransportError{Op: "access", Err: fmt.Errorf("%s: %w", path, err)}
	}
	return nil
}

func (k *kernelBackend) execute(reg *connmux.Registry, h connmux.Handle, info *gim.Info, cmd gim.Command) error {
	conn, err := reg.Primary(h)
	if err != nil {
		return err
	}
	req, ok := gim.IoctlCmd(info.Client)
	if !ok {
		return fmt.Errorf("%w: %v", ErrBadClientType, info.Client)
	}

	buf := make([]byte, cmd.SizeBytes())
	cmd.MarshalBytes(buf)
	transportCalls.WithLabelValues(Kernel.String(), "ioctl").Inc()
	if err := k.ioctl(conn.FD(), req, buf); err != nil {
		return &TransportError{Op: "ioctl", Err: err}
	}
	cmd.UnmarshalBytes(buf)
	log.Debugf("gimcoms: kernel: %v on FD %d done", info, conn.FD())
	return nil
}
