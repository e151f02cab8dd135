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
	"gvisor.dev/gvisor/pkg/hostarch"
)

// Common family command codes, enum amdgv_cmd_common_id.
const (
	CmdCommonIoctl       = uint32(ClientAMDGV) | uint32(FamilyCommon)
	CmdPSPVBFlashCopy    = uint32(ClientAMDGV) | uint32(FamilyCommon) | 0x1 | ShmOutboundMask
	CmdPSPVBFlashProcess = uint32(ClientAMDGV) | uint32(FamilyCommon) | 0x2
	CmdPSPVBFlashStatus  = uint32(ClientAMDGV) | uint32(FamilyCommon) | 0x3
)

// Common ioctl passthrough limits.
const (
	CommonIoctlNodeSize = 40
	CommonIoctlCmdSize  = 80
	CommonIoctlOutSize  = 1000
)

// VBFlashInfo is struct amdgv_cmd_vbflash_info, the input of
// CmdPSPVBFlashCopy. Shm describes the image to be copied.
type VBFlashInfo struct {
	Shm ShmInfo
	BDF BDF
	_   uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (v *VBFlashInfo) SizeBytes() int { return ShmInfoSize + 8 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (v *VBFlashInfo) MarshalBytes(dst []byte) []byte {
	dst = v.Shm.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(v.BDF))
	hostarch.ByteOrder.PutUint32(dst[4:8], 0)
	return dst[8:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (v *VBFlashInfo) UnmarshalBytes(src []byte) []byte {
	src = v.Shm.UnmarshalBytes(src)
	v.BDF = BDF(hostarch.ByteOrder.Uint32(src[:4]))
	return src[8:]
}

// BDFArg is a command argument consisting of one BDF, used by
// CmdPSPVBFlashProcess and CmdPSPVBFlashStatus.
type BDFArg struct {
	BDF BDF
}

// SizeBytes implements Marshallable.SizeBytes.
func (b *BDFArg) SizeBytes() int { return 4 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (b *BDFArg) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(b.BDF))
	return dst[4:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (b *BDFArg) UnmarshalBytes(src []byte) []byte {
	b.BDF = BDF(hostarch.ByteOrder.Uint32(src[:4]))
	return src[4:]
}

// U32 is a single 32-bit value, used for status words.
type U32 uint32

// SizeBytes implements Marshallable.SizeBytes.
func (u *U32) SizeBytes() int { return 4 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (u *U32) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(*u))
	return dst[4:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (u *U32) UnmarshalBytes(src []byte) []byte {
	*u = U32(hostarch.ByteOrder.Uint32(src[:4]))
	return src[4:]
}

// CommonIoctlIn is struct amdgv_common_ioctl_in.
type CommonIoctlIn struct {
	BDF  BDF
	Node [CommonIoctlNodeSize]byte
	Cmd  [CommonIoctlCmdSize]byte
}

// NewCommonIoctlIn returns a passthrough request for node and cmd,
// truncated to fit with their terminating NULs.
func NewCommonIoctlIn(bdf BDF, node, cmd string) *CommonIoctlIn {
	c := &CommonIoctlIn{BDF: bdf}
	copy(c.Node[:CommonIoctlNodeSize-1], node)
	copy(c.Cmd[:CommonIoctlCmdSize-1], cmd)
	return c
}

// SizeBytes implements Marshallable.SizeBytes.
func (c *CommonIoctlIn) SizeBytes() int { return 4 + CommonIoctlNodeSize + CommonIoctlCmdSize }

// MarshalBytes implements Marshallable.MarshalBytes.
func (c *CommonIoctlIn) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(c.BDF))
	dst = dst[4:]
	dst = dst[copy(dst, c.Node[:]):]
	return dst[copy(dst, c.Cmd[:]):]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (c *CommonIoctlIn) UnmarshalBytes(src []byte) []byte {
	c.BDF = BDF(hostarch.ByteOrder.Uint32(src[:4]))
	src = src[4:]
	src = src[copy(c.Node[:], src):]
	return src[copy(c.Cmd[:], src):]
}

// CommonIoctlOut is struct amdgv_common_ioctl_out.
type CommonIoctlOut struct {
	Size   uint32
	Output [CommonIoctlOutSize]byte
}

// Bytes returns the valid prefix of Output.
func (c *CommonIoctlOut) Bytes() []byte {
	n := c.Size
	if n > CommonIoctlOutSize {
		n = CommonIoctlOutSize
	}
	return c.Output[:n]
}

// SizeBytes implements Marshallable.SizeBytes.
func (c *CommonIoctlOut) SizeBytes() int { return 4 + CommonIoctlOutSize }

// MarshalBytes implements Marshallable.MarshalBytes.
func (c *CommonIoctlOut) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], c.Size)
	dst = dst[4:]
	return dst[copy(dst, c.Output[:]):]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (c *CommonIoctlOut) UnmarshalBytes(src []byte) []byte {
	c.Size = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	return src[copy(c.Output[:], src):]
}
