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
	"golang.org/x/sys/unix"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/connmux"
)

// backend is implemented by kernelBackend and daemonBackend.
type backend interface {
	// kind returns the backend's Kind.
	kind() Kind

	// open creates the primary connection of a new handle for t.
	open(t gim.ClientType) (connmux.Conn, error)

	// access checks that the backend can serve t, without keeping any
	// connection open.
	access(t gim.ClientType) error

	// execute runs a validated command on handle h.
	execute(reg *connmux.Registry, h connmux.Handle, info *gim.Info, cmd gim.Command) error
}

// currentThread returns the calling OS thread. The result is stable only
// while the goroutine is locked to its thread.
func currentThread() connmux.ThreadID {
	return connmux.ThreadID(unix.Gettid())
}
