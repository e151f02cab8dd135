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

// Package gimcoms issues GIM administrative commands to whichever backend
// serves this host: the gim kernel driver through a device ioctl, or the
// gim user-mode daemon through an abstract unix socket.
//
// The backend is chosen once per Selector. Every Client call then follows
// the same contract: the command record is sent whole, the backend's
// response overwrites it in place, and bulk data named by a ShmInfo record
// is carried on the side.
//
// Errors fall into three classes:
//
//   - Usage errors (unknown handle or command, oversized record, no
//     backend) are returned before any I/O.
//   - Transport errors (*TransportError) mean the round trip did not
//     complete; the backend's state is unknown.
//   - Protocol errors (*ProtocolError) mean the backend answered with a
//     failure response. Execute never returns them; CheckResponse and the
//     typed helpers do.
package gimcoms

import (
	"errors"
	"fmt"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
)

// Kind identifies a backend.
type Kind int

// Backend kinds.
const (
	// Unavailable means no backend was found.
	Unavailable Kind = iota

	// Kernel is the gim kernel module, reached through its device nodes.
	Kernel

	// Daemon is the gim user-mode daemon, reached through its socket.
	Daemon
)

// String implements fmt.Stringer.String.
func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Kernel:
		return "kernel"
	case Daemon:
		return "daemon"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// ErrNoBackend is returned by every Client operation when neither
	// backend is present.
	ErrNoBackend = errors.New("no gim backend available")

	// ErrBadClientType is returned for a client type with no device node
	// or for a command issued on a handle opened for another client type.
	ErrBadClientType = errors.New("invalid client type")

	// ErrBadDescriptor is returned for an SMI command whose caller
	// descriptor is not open in this process.
	ErrBadDescriptor = errors.New("caller descriptor is not open")
)

// TransportError reports a failed round trip. The backend may or may not
// have executed the command.
type TransportError struct {
	// Op is the failed step, e.g. "connect", "write", "read" or "ioctl".
	Op string

	// Err is the underlying error, typically a unix.Errno.
	Err error
}

// Error implements error.Error.
func (e *TransportError) Error() string {
	return fmt.Sprintf("gim transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport returns true if err is or wraps a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// ProtocolError reports a command the backend received and rejected.
type ProtocolError struct {
	// Code is the command code.
	Code uint32

	// Response is the AMDGV response code. It is meaningful only for AMDGV
	// commands.
	Response gim.Response

	// Status is the SMI status word. It is meaningful only for SMI
	// commands.
	Status int32
}

// Error implements error.Error.
func (e *ProtocolError) Error() string {
	name := fmt.Sprintf("%#x", e.Code)
	if info, ok := gim.Lookup(e.Code); ok {
		name = info.String()
	}
	if gim.ClientTypeOf(e.Code) == gim.ClientSMI {
		return fmt.Sprintf("gim command %s failed: status %d", name, e.Status)
	}
	return fmt.Sprintf("gim command %s failed: %v", name, e.Response)
}

// CheckResponse returns a *ProtocolError if cmd carries a failure
// response, and nil otherwise.
//
// A version mismatch is reported like any other failure; no version
// negotiation is attempted.
func CheckResponse(cmd gim.Command) error {
	switch c := cmd.(type) {
	case *gim.Cmd:
		if !c.Response.OK() {
			return &ProtocolError{Code: c.ID, Response: c.Response}
		}
	case *gim.SMICmd:
		if c.Status != gim.SMIStatusSuccess {
			return &ProtocolError{Code: c.ID, Status: c.Status}
		}
	}
	return nil
}
