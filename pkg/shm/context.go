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
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
)

// Context holds the local buffer addresses of one command while the command
// is on the wire.
//
// The outbound record lives at the start of the input region and the
// inbound record at the start of the output region. Each is handled only
// if the command's flags name it.
type Context struct {
	flags   gim.Flags
	outAddr uint64
	inAddr  uint64
	saved   bool
}

// Save records the buffer addresses of cmd and zeroes them in cmd.
func (c *Context) Save(cmd *gim.Cmd, flags gim.Flags) {
	c.flags = flags
	if flags&gim.FlagShmOutbound != 0 {
		c.outAddr = gim.ShmAddr(cmd.Input[:])
		gim.SetShmAddr(cmd.Input[:], 0)
	}
	if flags&gim.FlagShmInbound != 0 {
		c.inAddr = gim.ShmAddr(cmd.Output[:])
		gim.SetShmAddr(cmd.Output[:], 0)
	}
	c.saved = true
}

// Restore writes the addresses recorded by Save back into cmd, overwriting
// whatever the peer put there. Restore without a prior Save is a no-op.
func (c *Context) Restore(cmd *gim.Cmd) {
	if !c.saved {
		return
	}
	if c.flags&gim.FlagShmOutbound != 0 {
		gim.SetShmAddr(cmd.Input[:], c.outAddr)
	}
	if c.flags&gim.FlagShmInbound != 0 {
		gim.SetShmAddr(cmd.Output[:], c.inAddr)
	}
}

// Outbound returns the saved outbound buffer address.
func (c *Context) Outbound() uint64 {
	return c.outAddr
}

// Inbound returns the saved inbound buffer address.
func (c *Context) Inbound() uint64 {
	return c.inAddr
}
