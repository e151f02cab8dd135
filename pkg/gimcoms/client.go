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
	"runtime"

	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/connmux"
)

// Handle names a logical connection opened with Client.Open.
type Handle = connmux.Handle

// Client dispatches commands to the backend chosen by its Selector.
//
// A Client is safe for concurrent use. Commands issued on one handle from
// different OS threads travel on different daemon connections and are not
// ordered with respect to each other; commands from one thread are. A
// goroutine that needs its commands ordered must stay locked to its thread
// with runtime.LockOSThread.
type Client struct {
	opts Options
	sel  *Selector

	kernel *kernelBackend
	daemon *daemonBackend

	// reg holds every open handle, tagged with its client type.
	reg connmux.Registry
}

// NewClient returns a Client for opts. If sel is nil, the client probes the
// host under opts.ProcRoot.
func NewClient(opts Options, sel *Selector) *Client {
	opts = opts.withDefaults()
	if sel == nil {
		sel = NewSelector(NewProcProber(opts))
	}
	c := &Client{
		opts: opts,
		sel:  sel,
	}
	c.kernel = newKernelBackend(&c.opts)
	c.daemon = newDaemonBackend(&c.opts)
	return c
}

var (
	defaultOnce   sync.Once
	defaultClient *Client
)

// Default returns the process-wide Client using DefaultOptions.
func Default() *Client {
	defaultOnce.Do(func() {
		defaultClient = NewClient(DefaultOptions(), nil)
	})
	return defaultClient
}

// backend returns the selected backend.
func (c *Client) backend() (backend, error) {
	switch k := c.sel.Resolve(); k {
	case Kernel:
		return c.kernel, nil
	case Daemon:
		return c.daemon, nil
	default:
		return nil, ErrNoBackend
	}
}

// Kind returns the selected backend kind.
func (c *Client) Kind() Kind {
	return c.sel.Resolve()
}

// IsUserMode returns true if commands go to the daemon.
func (c *Client) IsUserMode() bool {
	return c.Kind() == Daemon
}

// Open opens a logical connection for commands of client type t.
func (c *Client) Open(t gim.ClientType) (Handle, error) {
	if _, err := c.opts.devicePath(t); err != nil {
		return -1, err
	}
	b, err := c.backend()
	if err != nil {
		return -1, err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	conn, err := b.open(t)
	if err != nil {
		return -1, err
	}
	h, err := c.reg.Register(conn, currentThread(), uint32(t))
	if err != nil {
		conn.Close()
		return -1, err
	}
	log.Debugf("gimcoms: opened %v handle %d on the %v backend", t, h, b.kind())
	return h, nil
}

// Close closes h and every connection opened under it.
func (c *Client) Close(h Handle) error {
	n, err := c.reg.Destroy(h)
	if err != nil {
		return err
	}
	log.Debugf("gimcoms: closed handle %d and %d connection(s)", h, n)
	return nil
}

// Access returns nil if the selected backend can serve client type t.
func (c *Client) Access(t gim.ClientType) error {
	if _, err := c.opts.devicePath(t); err != nil {
		return err
	}
	b, err := c.backend()
	if err != nil {
		return err
	}
	return b.access(t)
}

// Connections returns the number of connections open under h.
func (c *Client) Connections(h Handle) (int, error) {
	return c.reg.Len(h)
}

// Execute sends cmd on h and overwrites cmd with the backend's response.
//
// Execute returns a usage error, without any I/O, if cmd is not a
// registered command, does not match the client type h was opened for,
// declares sizes beyond its fixed regions, or names a caller descriptor
// that is not open. It returns a *TransportError if
// the round trip fails, in which case cmd is left as it was and h should be
// closed. A response carrying a failure code is not an error; see
// CheckResponse.
//
// Execute does not retry.
func (c *Client) Execute(h Handle, cmd gim.Command) error {
	info, err := gim.Validate(cmd)
	if err != nil {
		return err
	}
	b, err := c.backend()
	if err != nil {
		return err
	}

	tag, err := c.reg.Tag(h)
	if err != nil {
		countCommand(b.kind(), err)
		return err
	}
	if t := gim.ClientType(tag); t != info.Client {
		err := fmt.Errorf("%w: %v on a %v handle", ErrBadClientType, info, t)
		countCommand(b.kind(), err)
		return err
	}

	if err := checkCallerFD(info, cmd); err != nil {
		countCommand(b.kind(), err)
		return err
	}

	err = b.execute(&c.reg, h, info, cmd)
	countCommand(b.kind(), err)
	return err
}

// checkCallerFD returns ErrBadDescriptor if cmd passes a caller descriptor
// that is not open. The descriptor follows the record on the wire, so it
// is checked before anything is written.
func checkCallerFD(info *gim.Info, cmd gim.Command) error {
	smi, ok := cmd.(*gim.SMICmd)
	if !ok || info.Flags&gim.FlagFDOutbound == 0 {
		return nil
	}
	fd := smi.FD()
	if fd < 0 {
		return fmt.Errorf("%w: %d", ErrBadDescriptor, fd)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return fmt.Errorf("%w: %d: %v", ErrBadDescriptor, fd, err)
	}
	return nil
}
