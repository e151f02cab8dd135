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
	"os"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// Record sizes.
const (
	CmdSize     = 1760
	SMICmdSize  = 4108
	HeaderSize  = 48
	ShmInfoSize = 16
)

// Marshallable is implemented by every fixed-layout record in this package.
// MarshalBytes and UnmarshalBytes consume exactly SizeBytes bytes and return
// the remainder of the buffer.
type Marshallable interface {
	SizeBytes() int
	MarshalBytes(dst []byte) []byte
	UnmarshalBytes(src []byte) []byte
}

// Command is a top-level command record: a Cmd or an SMICmd.
type Command interface {
	Marshallable

	// Code returns the command code, including client type and flag bits.
	Code() uint32
}

// Cmd is the AMDGV command record, struct amdgv_cmd.
type Cmd struct {
	ID         uint32
	InputSize  uint32
	OutputSize uint32
	Version    uint8
	Response   Response
	_          [2]uint8
	PID        uint32
	Reserved   [3]uint32
	Input      [CmdMaxInSize]byte
	Output     [CmdMaxOutSize]byte
}

// NewCmd returns a Cmd for code stamped with the current record version and
// the calling process id.
func NewCmd(code uint32) *Cmd {
	return &Cmd{
		ID:      code,
		Version: CmdVersion,
		PID:     uint32(os.Getpid()),
	}
}

// Code implements Command.Code.
func (c *Cmd) Code() uint32 {
	return c.ID
}

// SizeBytes implements Marshallable.SizeBytes.
func (c *Cmd) SizeBytes() int {
	return CmdSize
}

// MarshalBytes implements Marshallable.MarshalBytes.
func (c *Cmd) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], c.ID)
	dst = dst[4:]
	hostarch.ByteOrder.PutUint32(dst[:4], c.InputSize)
	dst = dst[4:]
	hostarch.ByteOrder.PutUint32(dst[:4], c.OutputSize)
	dst = dst[4:]
	dst[0] = c.Version
	dst[1] = uint8(c.Response)
	dst[2] = 0
	dst[3] = 0
	dst = dst[4:]
	hostarch.ByteOrder.PutUint32(dst[:4], c.PID)
	dst = dst[4:]
	for _, r := range c.Reserved {
		hostarch.ByteOrder.PutUint32(dst[:4], r)
		dst = dst[4:]
	}
	dst = dst[copy(dst, c.Input[:]):]
	dst = dst[copy(dst, c.Output[:]):]
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (c *Cmd) UnmarshalBytes(src []byte) []byte {
	c.ID = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	c.InputSize = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	c.OutputSize = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	c.Version = src[0]
	c.Response = Response(src[1])
	src = src[4:]
	c.PID = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	for i := range c.Reserved {
		c.Reserved[i] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	src = src[copy(c.Input[:], src):]
	src = src[copy(c.Output[:], src):]
	return src
}

// SetInput marshals in into the input region and records its size.
func (c *Cmd) SetInput(in Marshallable) {
	n := in.SizeBytes()
	in.MarshalBytes(c.Input[:n])
	c.InputSize = uint32(n)
}

// SetOutput marshals out into the output region and records its size. It is
// used by backends writing responses and by clients pre-populating output
// records that carry a ShmInfo.
func (c *Cmd) SetOutput(out Marshallable) {
	n := out.SizeBytes()
	out.MarshalBytes(c.Output[:n])
	c.OutputSize = uint32(n)
}

// GetInput unmarshals the input region into in.
func (c *Cmd) GetInput(in Marshallable) {
	in.UnmarshalBytes(c.Input[:in.SizeBytes()])
}

// GetOutput unmarshals the output region into out.
func (c *Cmd) GetOutput(out Marshallable) {
	out.UnmarshalBytes(c.Output[:out.SizeBytes()])
}

// SMICmd is the SMI command record, struct smi_ioctl_cmd.
type SMICmd struct {
	ID      uint32
	InLen   int16
	OutLen  int16
	Status  int32
	Payload [SMIMaxPayload]uint32
}

// NewSMICmd returns an SMICmd for code.
func NewSMICmd(code uint32) *SMICmd {
	return &SMICmd{ID: code}
}

// Code implements Command.Code.
func (c *SMICmd) Code() uint32 {
	return c.ID
}

// SizeBytes implements Marshallable.SizeBytes.
func (c *SMICmd) SizeBytes() int {
	return SMICmdSize
}

// MarshalBytes implements Marshallable.MarshalBytes.
func (c *SMICmd) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], c.ID)
	dst = dst[4:]
	hostarch.ByteOrder.PutUint16(dst[:2], uint16(c.InLen))
	dst = dst[2:]
	hostarch.ByteOrder.PutUint16(dst[:2], uint16(c.OutLen))
	dst = dst[2:]
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(c.Status))
	dst = dst[4:]
	for _, w := range c.Payload {
		hostarch.ByteOrder.PutUint32(dst[:4], w)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (c *SMICmd) UnmarshalBytes(src []byte) []byte {
	c.ID = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	c.InLen = int16(hostarch.ByteOrder.Uint16(src[:2]))
	src = src[2:]
	c.OutLen = int16(hostarch.ByteOrder.Uint16(src[:2]))
	src = src[2:]
	c.Status = int32(hostarch.ByteOrder.Uint32(src[:4]))
	src = src[4:]
	for i := range c.Payload {
		c.Payload[i] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	return src
}

// FD returns the caller descriptor carried by an SMIFDMask command.
func (c *SMICmd) FD() int32 {
	return int32(c.Payload[SMIFDOffset/4])
}

// SetFD stores fd in the payload slot read by the backend for SMIFDMask
// commands.
func (c *SMICmd) SetFD(fd int32) {
	c.Payload[SMIFDOffset/4] = uint32(fd)
}

// Header precedes every command record on the daemon socket,
// struct cmd_header.
type Header struct {
	// CmdID is the command code with HeaderMask set.
	CmdID uint32

	// ThreadFD is the client's descriptor of the connection carrying this
	// command.
	ThreadFD uint32

	// PrimaryFD is the logical handle the connection belongs to.
	PrimaryFD uint32

	PID      uint32
	Reserved [8]uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (h *Header) SizeBytes() int {
	return HeaderSize
}

// MarshalBytes implements Marshallable.MarshalBytes.
func (h *Header) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], h.CmdID)
	dst = dst[4:]
	hostarch.ByteOrder.PutUint32(dst[:4], h.ThreadFD)
	dst = dst[4:]
	hostarch.ByteOrder.PutUint32(dst[:4], h.PrimaryFD)
	dst = dst[4:]
	hostarch.ByteOrder.PutUint32(dst[:4], h.PID)
	dst = dst[4:]
	for _, r := range h.Reserved {
		hostarch.ByteOrder.PutUint32(dst[:4], r)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (h *Header) UnmarshalBytes(src []byte) []byte {
	h.CmdID = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	h.ThreadFD = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	h.PrimaryFD = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	h.PID = hostarch.ByteOrder.Uint32(src[:4])
	src = src[4:]
	for i := range h.Reserved {
		h.Reserved[i] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	return src
}

// Code returns the command code without HeaderMask.
func (h *Header) Code() uint32 {
	return h.CmdID &^ HeaderMask
}

// ShmInfo describes a shared buffer, struct amdgv_cmd_shm_info.
//
// BufferAddr is a local address in the process that wrote the record. It is
// meaningless to any other process; the daemon protocol carries the buffer
// contents out of band as a memfd.
type ShmInfo struct {
	BufferSize uint32
	_          uint32
	BufferAddr uint64
}

// SizeBytes implements Marshallable.SizeBytes.
func (s *ShmInfo) SizeBytes() int {
	return ShmInfoSize
}

// MarshalBytes implements Marshallable.MarshalBytes.
func (s *ShmInfo) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], s.BufferSize)
	hostarch.ByteOrder.PutUint32(dst[4:8], 0)
	hostarch.ByteOrder.PutUint64(dst[8:16], s.BufferAddr)
	return dst[16:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (s *ShmInfo) UnmarshalBytes(src []byte) []byte {
	s.BufferSize = hostarch.ByteOrder.Uint32(src[:4])
	s.BufferAddr = hostarch.ByteOrder.Uint64(src[8:16])
	return src[16:]
}

// Offsets of the ShmInfo fields within a region.
const (
	shmSizeOffset = ShmInfoOffset
	shmAddrOffset = ShmInfoOffset + 8
)

// ShmAddr returns the BufferAddr field of the ShmInfo at the start of region.
func ShmAddr(region []byte) uint64 {
	return hostarch.ByteOrder.Uint64(region[shmAddrOffset : shmAddrOffset+8])
}

// SetShmAddr overwrites the BufferAddr field of the ShmInfo at the start of
// region.
func SetShmAddr(region []byte, addr uint64) {
	hostarch.ByteOrder.PutUint64(region[shmAddrOffset:shmAddrOffset+8], addr)
}

// ShmSize returns the BufferSize field of the ShmInfo at the start of
// region.
func ShmSize(region []byte) uint32 {
	return hostarch.ByteOrder.Uint32(region[shmSizeOffset : shmSizeOffset+4])
}

// SetShmSize overwrites the BufferSize field of the ShmInfo at the start of
// region.
func SetShmSize(region []byte, size uint32) {
	hostarch.ByteOrder.PutUint32(region[shmSizeOffset:shmSizeOffset+4], size)
}
