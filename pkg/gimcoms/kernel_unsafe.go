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
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl calls ioctl(2) with buf as the argument.
func ioctl(fd int, req uint32, buf []byte) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
		if errno == unix.EINTR {
			continue
		}
		runtime.KeepAlive(buf)
		if errno != 0 {
			return errno
		}
		return nil
	}
}
