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

package gim

import (
	"gvisor.dev/gvisor/pkg/abi/linux"
)

// ioctl magic numbers of the kernel driver's device nodes.
const (
	SMIIoctlMagic   = uint32('S')
	AMDGVIoctlMagic = uint32('R')
)

// Kernel ioctl request numbers. The driver takes the whole command record
// in both directions.
var (
	SMIIoctlCmd   = linux.IOWR(SMIIoctlMagic, 0, SMICmdSize)
	AMDGVIoctlCmd = linux.IOWR(AMDGVIoctlMagic, 0, CmdSize)
)

// IoctlCmd returns the ioctl request number for t, or false if t is not a
// known client type.
func IoctlCmd(t ClientType) (uint32, bool) {
	switch t {
	case ClientSMI:
		return SMIIoctlCmd, true
	case ClientAMDGV:
		return AMDGVIoctlCmd, true
	default:
		return 0, false
	}
}

// DevicePath returns the kernel device node serving t, or false if t is not
// a known client type.
func DevicePath(t ClientType) (string, bool) {
	switch t {
	case ClientSMI:
		return SMIDevicePath, true
	case ClientAMDGV:
		return AMDGVDevicePath, true
	default:
		return "", false
	}
}
