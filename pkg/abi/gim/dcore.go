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
	"fmt"

	"gvisor.dev/gvisor/pkg/hostarch"
)

// Debug-core command codes, enum amdgv_cmd_rdl_id. The "in" half of each
// dbglib record goes in the input region and the "out" half in the output
// region.
const (
	CmdDCoreIoctl       = uint32(ClientAMDGV) | uint32(FamilyDCore)
	CmdStartTrapGPUHang = CmdDCoreIoctl | 0x1
	CmdNotifyDumpDone   = CmdDCoreIoctl | 0x2
	CmdGetDiagData      = CmdDCoreIoctl | 0x3 | ShmInboundMask
	CmdStopTrapGPUHang  = CmdDCoreIoctl | 0x4
	CmdGetFFBMData      = CmdDCoreIoctl | 0x5 | ShmInboundMask
)

// TrapEvent is enum dbglib_trap_event.
type TrapEvent uint32

// Trap events.
const (
	TrapEventError TrapEvent = iota
	TrapEventReset
	TrapEventManualDump
	TrapEventExit
)

// String implements fmt.Stringer.String.
func (e TrapEvent) String() string {
	switch e {
	case TrapEventError:
		return "error"
	case TrapEventReset:
		return "reset"
	case TrapEventManualDump:
		return "manual-dump"
	case TrapEventExit:
		return "exit"
	default:
		return fmt.Sprintf("TrapEvent(%d)", uint32(e))
	}
}

// TrapStatus is enum dbglib_trap_status.
type TrapStatus uint32

// Trap states.
const (
	TrapDisabled TrapStatus = iota
	TrapWaiting
	TrapDumping
	TrapExit
)

// DCoreIn is the "in" half shared by every debug-core record: the BDF of the
// target device.
type DCoreIn struct {
	DBSF BDF
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DCoreIn) SizeBytes() int { return 4 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DCoreIn) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(d.DBSF))
	return dst[4:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DCoreIn) UnmarshalBytes(src []byte) []byte {
	d.DBSF = BDF(hostarch.ByteOrder.Uint32(src[:4]))
	return src[4:]
}

// TrapGPUHangOut is the "out" half of struct dbglib_trap_gpu_info.
type TrapGPUHangOut struct {
	DBSF      BDF
	VFIdx     uint32
	Event     TrapEvent
	ErrorCode uint32
	Cookie    uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (t *TrapGPUHangOut) SizeBytes() int { return 20 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (t *TrapGPUHangOut) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(t.DBSF))
	hostarch.ByteOrder.PutUint32(dst[4:8], t.VFIdx)
	hostarch.ByteOrder.PutUint32(dst[8:12], uint32(t.Event))
	hostarch.ByteOrder.PutUint32(dst[12:16], t.ErrorCode)
	hostarch.ByteOrder.PutUint32(dst[16:20], t.Cookie)
	return dst[20:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (t *TrapGPUHangOut) UnmarshalBytes(src []byte) []byte {
	t.DBSF = BDF(hostarch.ByteOrder.Uint32(src[:4]))
	t.VFIdx = hostarch.ByteOrder.Uint32(src[4:8])
	t.Event = TrapEvent(hostarch.ByteOrder.Uint32(src[8:12]))
	t.ErrorCode = hostarch.ByteOrder.Uint32(src[12:16])
	t.Cookie = hostarch.ByteOrder.Uint32(src[16:20])
	return src[20:]
}

// DiagDataOut is the "out" half of struct dbglib_diag_data. Shm is the
// caller's pre-allocated buffer; DataSize is how much of it the backend
// filled. When DataSize is zero, ErrorCode explains why.
type DiagDataOut struct {
	Shm       ShmInfo
	DataSize  uint32
	ErrorCode uint32
	Cookie    uint32
	_         uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DiagDataOut) SizeBytes() int { return ShmInfoSize + 16 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DiagDataOut) MarshalBytes(dst []byte) []byte {
	dst = d.Shm.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint32(dst[:4], d.DataSize)
	hostarch.ByteOrder.PutUint32(dst[4:8], d.ErrorCode)
	hostarch.ByteOrder.PutUint32(dst[8:12], d.Cookie)
	hostarch.ByteOrder.PutUint32(dst[12:16], 0)
	return dst[16:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DiagDataOut) UnmarshalBytes(src []byte) []byte {
	src = d.Shm.UnmarshalBytes(src)
	d.DataSize = hostarch.ByteOrder.Uint32(src[:4])
	d.ErrorCode = hostarch.ByteOrder.Uint32(src[4:8])
	d.Cookie = hostarch.ByteOrder.Uint32(src[8:12])
	return src[16:]
}

// FFBMDataOut is the "out" half of struct dbglib_ffbm_data.
type FFBMDataOut struct {
	Shm ShmInfo
}

// SizeBytes implements Marshallable.SizeBytes.
func (f *FFBMDataOut) SizeBytes() int { return ShmInfoSize }

// MarshalBytes implements Marshallable.MarshalBytes.
func (f *FFBMDataOut) MarshalBytes(dst []byte) []byte {
	return f.Shm.MarshalBytes(dst)
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (f *FFBMDataOut) UnmarshalBytes(src []byte) []byte {
	return f.Shm.UnmarshalBytes(src)
}
