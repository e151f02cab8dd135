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

// Package gim contains the wire format shared by GIM command clients and
// the backends that serve them: the kernel driver's ioctl interface and the
// user-mode daemon's socket protocol.
//
// All records are little endian with C natural alignment, and must match
// their backend counterparts byte for byte.
package gim

import (
	"fmt"
)

// ClientType selects the command record format and the kernel device node.
// It occupies bits 24..31 of every command code.
type ClientType uint32

// Client types.
const (
	ClientSMI   ClientType = 1 << 24
	ClientAMDGV ClientType = 2 << 24
)

// String implements fmt.Stringer.String.
func (t ClientType) String() string {
	switch t {
	case ClientSMI:
		return "smi"
	case ClientAMDGV:
		return "amdgv"
	default:
		return fmt.Sprintf("ClientType(%#x)", uint32(t))
	}
}

// Command code bits.
const (
	// ClientTypeMask extracts the ClientType from a command code.
	ClientTypeMask = 0xff000000

	// HeaderMask is set in the Header.CmdID copy of a command code to tell
	// the daemon that a command record follows.
	HeaderMask = 1 << 21

	// ShmOutboundMask marks an AMDGV command whose input region starts with
	// a ShmInfo describing a client buffer to hand to the backend.
	ShmOutboundMask = 1 << 22

	// ShmInboundMask marks an AMDGV command whose output region starts with
	// a ShmInfo describing a client buffer the backend fills.
	ShmInboundMask = 1 << 23

	// SMIFDMask marks an SMI command whose payload carries a caller file
	// descriptor at SMIFDOffset.
	SMIFDMask = 1 << 20

	// FamilyMask extracts the AMDGV command family.
	FamilyMask = 0xf << 16
)

// ClientTypeOf returns the client type encoded in code.
func ClientTypeOf(code uint32) ClientType {
	return ClientType(code & ClientTypeMask)
}

// Family is an AMDGV command family.
type Family uint32

// AMDGV command families.
const (
	FamilyRAS    Family = 0 << 16
	FamilyCommon Family = 1 << 16
	FamilyDCore  Family = 2 << 16
)

// String implements fmt.Stringer.String.
func (f Family) String() string {
	switch f {
	case FamilyRAS:
		return "ras"
	case FamilyCommon:
		return "common"
	case FamilyDCore:
		return "dcore"
	default:
		return fmt.Sprintf("Family(%#x)", uint32(f))
	}
}

// Interface constants.
const (
	// CmdVersion is the record version written by clients.
	CmdVersion = 2

	InterfaceMajorVersion = 1
	InterfaceMinorVersion = 1

	// CmdMaxInSize and CmdMaxOutSize are the fixed region sizes of Cmd.
	CmdMaxInSize  = 128
	CmdMaxOutSize = 1600

	// SMIMaxPayload is the number of 32-bit words in an SMI payload.
	SMIMaxPayload = 1024

	// SMIFDOffset is the byte offset of the caller descriptor in an SMI
	// payload when SMIFDMask is set.
	SMIFDOffset = 16

	// ShmInfoOffset is the offset of the ShmInfo record inside the input
	// or output region of a shared-buffer command.
	ShmInfoOffset = 0

	// MaxDiagDataBufferSize is the largest diagnostic dump the backend
	// returns.
	MaxDiagDataBufferSize = 4 << 20

	// MaxShmSize is the largest shared buffer a daemon accepts in one
	// handoff. VBIOS images and dumps are a few MiB at most.
	MaxShmSize = 64 << 20
)

// Well-known backend endpoints.
const (
	SMIDevicePath   = "/dev/gim-smi0"
	AMDGVDevicePath = "/dev/amdgv-cmd-handle"

	// DaemonSocket is the abstract socket name of the user-mode daemon. The
	// leading '@' stands for the NUL byte of the abstract namespace.
	DaemonSocket = "@/gim.socket"

	// DaemonProcess is the process name of the user-mode daemon.
	DaemonProcess = "gim_user_mode"

	// KernelModule is the name of the kernel driver module.
	KernelModule = "gim"

	// DiagDataDefaultPath is where diagnostic dumps land by default.
	DiagDataDefaultPath = "/var/log/"
)

// Response is the response code a backend writes into Cmd.Response.
type Response uint8

// Response codes.
const (
	ResponseSuccess Response = iota
	ResponseSuccessExceedBuffer
	ResponseUnknownCmd
	ResponseVersion
	ResponseInvalidInput
	ResponseDrvInitFail
	ResponseGeneric
)

var responseNames = [...]string{
	ResponseSuccess:             "success",
	ResponseSuccessExceedBuffer: "success, output truncated",
	ResponseUnknownCmd:          "unknown command",
	ResponseVersion:             "version mismatch",
	ResponseInvalidInput:        "invalid input",
	ResponseDrvInitFail:         "driver init failure",
	ResponseGeneric:             "generic error",
}

// String implements fmt.Stringer.String.
func (r Response) String() string {
	if int(r) < len(responseNames) {
		return responseNames[r]
	}
	return fmt.Sprintf("Response(%d)", uint8(r))
}

// OK returns true if r reports success, possibly with truncated output.
func (r Response) OK() bool {
	return r == ResponseSuccess || r == ResponseSuccessExceedBuffer
}
