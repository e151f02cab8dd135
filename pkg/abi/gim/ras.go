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

// RAS family command codes, enum amdgv_cmd_ras_id.
const (
	CmdQueryInterfaceVersion     = uint32(ClientAMDGV) | uint32(FamilyRAS)
	CmdGetDevicesInfo            = uint32(ClientAMDGV) | 0x001
	CmdGetBlockECCStatus         = uint32(ClientAMDGV) | 0x002
	CmdRASInjectError            = uint32(ClientAMDGV) | 0x003
	CmdRASEnable                 = uint32(ClientAMDGV) | 0x004
	CmdGetBadPages               = uint32(ClientAMDGV) | 0x005
	CmdClearBadPageInfo          = uint32(ClientAMDGV) | 0x006
	CmdGPUReset                  = uint32(ClientAMDGV) | 0x007
	CmdGetFBPFRegions            = uint32(ClientAMDGV) | 0x008
	CmdGetFBVFRegions            = uint32(ClientAMDGV) | 0x009
	CmdGetVFBDF                  = uint32(ClientAMDGV) | 0x00a
	CmdRASTALoad                 = uint32(ClientAMDGV) | 0x00b
	CmdRASTAUnload               = uint32(ClientAMDGV) | 0x00c
	CmdRASGetSafeFBAddressRanges = uint32(ClientAMDGV) | 0x00d
	CmdTranslateFBAddress        = uint32(ClientAMDGV) | 0x00e
	CmdRASResetAllErrorCounts    = uint32(ClientAMDGV) | 0x00f
)

// RAS limits.
const (
	MaxGPUNum           = 32
	MaxBadPagesPerGroup = 32
	MaxNumSafeRanges    = 64
	MaxFBRegions        = 4
	CmdPathLen          = 100
)

// AllDeviceBDF addresses every device in commands taking a BDF.
const AllDeviceBDF BDF = 0xffffffff

// ASICType is enum amdgv_cmd_asic_type.
type ASICType uint32

// ASIC types.
const (
	ASICMI300X ASICType = iota + 9
	ASICUnknown
)

// String implements fmt.Stringer.String.
func (a ASICType) String() string {
	switch a {
	case ASICMI300X:
		return "MI300X"
	default:
		return "unknown"
	}
}

// RASBlock is enum amdgv_ras_block.
type RASBlock uint32

// RAS blocks.
const (
	RASBlockUMC RASBlock = iota
	RASBlockSDMA
	RASBlockGFX
	RASBlockMMHUB
	RASBlockATHUB
	RASBlockPCIEBIF
	RASBlockHDP
	RASBlockXGMIWAFL
	RASBlockDF
	RASBlockSMN
	RASBlockSEM
	RASBlockMP0
	RASBlockMP1
	RASBlockFUSE
	RASBlockMCA
	RASBlockVCN
	RASBlockJPEG
	RASBlockIH
	RASBlockMPIO
	RASBlockMax
)

var rasBlockNames = [...]string{
	"umc", "sdma", "gfx", "mmhub", "athub", "pcie_bif", "hdp", "xgmi_wafl",
	"df", "smn", "sem", "mp0", "mp1", "fuse", "mca", "vcn", "jpeg", "ih",
	"mpio",
}

// String implements fmt.Stringer.String.
func (b RASBlock) String() string {
	if b < RASBlockMax {
		return rasBlockNames[b]
	}
	return fmt.Sprintf("RASBlock(%d)", uint32(b))
}

// ParseRASBlock returns the block named s.
func ParseRASBlock(s string) (RASBlock, error) {
	for i, name := range rasBlockNames {
		if name == s {
			return RASBlock(i), nil
		}
	}
	return 0, fmt.Errorf("unknown RAS block %q", s)
}

// RASErrorType is enum amdgv_ras_error_type.
type RASErrorType uint32

// RAS error types.
const (
	RASErrorNone               RASErrorType = 0
	RASErrorParity             RASErrorType = 1
	RASErrorSingleCorrectable  RASErrorType = 2
	RASErrorMultiUncorrectable RASErrorType = 4
	RASErrorPoison             RASErrorType = 8
)

// ECCSupport is enum amdgv_ecc_type_support, used as a bit index in
// DevInfo.ECCSupported.
type ECCSupport uint32

// ECC support bits.
const (
	ECCSupportMem ECCSupport = iota
	ECCSupportSRAM
	ECCSupportPoison
)

// EEPROMErrType is enum amdgv_ras_eeprom_err_type.
type EEPROMErrType uint32

// EEPROM error types.
const (
	EEPROMErrPlaceHolder EEPROMErrType = iota
	EEPROMErrRecoverable
	EEPROMErrNonRecoverable
)

// FB region areas. PF and VF regions share the same field.
const (
	FBRegionPFDataExchange = iota
	FBRegionPFIPDiscovery
	FBRegionTMR
	FBRegionCSA
)

// VF FB region areas.
const (
	FBRegionVF = iota
	FBRegionVFDataExchange
	FBRegionVFIPDiscovery
)

// TAStatus is enum amdgv_ras_ta_load_status.
type TAStatus uint32

// TA load results.
const (
	TAStatusNoChange TAStatus = iota
	TAStatusUpgraded
	TAStatusDowngraded
	TAStatusLoaded
)

// FBAddrType is enum amdgv_fb_addr_type.
type FBAddrType uint32

// Framebuffer address kinds.
const (
	FBAddrSocPhy FBAddrType = iota
	FBAddrBank
	FBAddrVFPhy
)

// BDF is a PCI address, union amdgv_cmd_device_bdf.
type BDF uint32

// NewBDF packs a PCI address.
func NewBDF(domain, bus, device, function uint32) BDF {
	return BDF(domain&0xffff<<16 | bus&0xff<<8 | device&0x1f<<3 | function&0x7)
}

// Function returns the function number.
func (b BDF) Function() uint32 { return uint32(b) & 0x7 }

// Device returns the device number.
func (b BDF) Device() uint32 { return uint32(b) >> 3 & 0x1f }

// Bus returns the bus number.
func (b BDF) Bus() uint32 { return uint32(b) >> 8 & 0xff }

// Domain returns the PCI domain.
func (b BDF) Domain() uint32 { return uint32(b) >> 16 }

// String implements fmt.Stringer.String.
func (b BDF) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", b.Domain(), b.Bus(), b.Device(), b.Function())
}

// ParseBDF parses a "dddd:bb:dd.f" PCI address.
func ParseBDF(s string) (BDF, error) {
	var domain, bus, device, function uint32
	if _, err := fmt.Sscanf(s, "%x:%x:%x.%x", &domain, &bus, &device, &function); err != nil {
		return 0, fmt.Errorf("invalid BDF %q: %w", s, err)
	}
	if domain > 0xffff || bus > 0xff || device > 0x1f || function > 0x7 {
		return 0, fmt.Errorf("invalid BDF %q: field out of range", s)
	}
	return NewBDF(domain, bus, device, function), nil
}

// DevHandle is struct amdgv_cmd_dev_handle.
type DevHandle struct {
	Handle uint64
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DevHandle) SizeBytes() int { return 8 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DevHandle) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], d.Handle)
	return dst[8:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DevHandle) UnmarshalBytes(src []byte) []byte {
	d.Handle = hostarch.ByteOrder.Uint64(src[:8])
	return src[8:]
}

// DevBlockInfo is struct amdgv_cmd_dev_block_info.
type DevBlockInfo struct {
	Dev        DevHandle
	Block      RASBlock
	SubblockID uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DevBlockInfo) SizeBytes() int { return 16 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DevBlockInfo) MarshalBytes(dst []byte) []byte {
	dst = d.Dev.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(d.Block))
	hostarch.ByteOrder.PutUint32(dst[4:8], d.SubblockID)
	return dst[8:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DevBlockInfo) UnmarshalBytes(src []byte) []byte {
	src = d.Dev.UnmarshalBytes(src)
	d.Block = RASBlock(hostarch.ByteOrder.Uint32(src[:4]))
	d.SubblockID = hostarch.ByteOrder.Uint32(src[4:8])
	return src[8:]
}

// RASInjectError is struct amdgv_cmd_ras_inject_error.
//
// Value overlays {Method, VFIdx}: the low word is the injection method and
// the high word the VF index (31 for the PF).
type RASInjectError struct {
	Device    DevBlockInfo
	Address   uint64
	ErrorType RASErrorType
	_         uint32
	Value     uint64
	Chiplet   uint32
	_         uint32
}

// SetMethod sets the method and VF index halves of Value.
func (r *RASInjectError) SetMethod(method, vfIdx uint32) {
	r.Value = uint64(vfIdx)<<32 | uint64(method)
}

// SizeBytes implements Marshallable.SizeBytes.
func (r *RASInjectError) SizeBytes() int { return 48 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (r *RASInjectError) MarshalBytes(dst []byte) []byte {
	dst = r.Device.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint64(dst[:8], r.Address)
	hostarch.ByteOrder.PutUint32(dst[8:12], uint32(r.ErrorType))
	hostarch.ByteOrder.PutUint32(dst[12:16], 0)
	hostarch.ByteOrder.PutUint64(dst[16:24], r.Value)
	hostarch.ByteOrder.PutUint32(dst[24:28], r.Chiplet)
	hostarch.ByteOrder.PutUint32(dst[28:32], 0)
	return dst[32:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (r *RASInjectError) UnmarshalBytes(src []byte) []byte {
	src = r.Device.UnmarshalBytes(src)
	r.Address = hostarch.ByteOrder.Uint64(src[:8])
	r.ErrorType = RASErrorType(hostarch.ByteOrder.Uint32(src[8:12]))
	r.Value = hostarch.ByteOrder.Uint64(src[16:24])
	r.Chiplet = hostarch.ByteOrder.Uint32(src[24:28])
	return src[32:]
}

// RASEnableECC is struct amdgv_cmd_ras_enable_ecc.
type RASEnableECC struct {
	Device     DevHandle
	Passphrase [8]byte
}

// SizeBytes implements Marshallable.SizeBytes.
func (r *RASEnableECC) SizeBytes() int { return 16 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (r *RASEnableECC) MarshalBytes(dst []byte) []byte {
	dst = r.Device.MarshalBytes(dst)
	return dst[copy(dst[:8], r.Passphrase[:]):]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (r *RASEnableECC) UnmarshalBytes(src []byte) []byte {
	src = r.Device.UnmarshalBytes(src)
	return src[copy(r.Passphrase[:], src[:8]):]
}

// DevIndex pairs a device handle with an index: struct
// amdgv_cmd_req_bad_pages_group and struct amdgv_cmd_vf_info share this
// layout.
type DevIndex struct {
	Device DevHandle
	Index  uint32
	_      uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DevIndex) SizeBytes() int { return 16 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DevIndex) MarshalBytes(dst []byte) []byte {
	dst = d.Device.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint32(dst[:4], d.Index)
	hostarch.ByteOrder.PutUint32(dst[4:8], 0)
	return dst[8:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DevIndex) UnmarshalBytes(src []byte) []byte {
	src = d.Device.UnmarshalBytes(src)
	d.Index = hostarch.ByteOrder.Uint32(src[:4])
	return src[8:]
}

// DevInfo is struct amdgv_cmd_dev_info.
type DevInfo struct {
	Handle       uint64
	BDF          BDF
	ECCEnabled   uint32
	ECCSupported uint32
	VFNum        uint32
	ASICType     ASICType
	_            uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DevInfo) SizeBytes() int { return 32 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DevInfo) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], d.Handle)
	hostarch.ByteOrder.PutUint32(dst[8:12], uint32(d.BDF))
	hostarch.ByteOrder.PutUint32(dst[12:16], d.ECCEnabled)
	hostarch.ByteOrder.PutUint32(dst[16:20], d.ECCSupported)
	hostarch.ByteOrder.PutUint32(dst[20:24], d.VFNum)
	hostarch.ByteOrder.PutUint32(dst[24:28], uint32(d.ASICType))
	hostarch.ByteOrder.PutUint32(dst[28:32], 0)
	return dst[32:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DevInfo) UnmarshalBytes(src []byte) []byte {
	d.Handle = hostarch.ByteOrder.Uint64(src[:8])
	d.BDF = BDF(hostarch.ByteOrder.Uint32(src[8:12]))
	d.ECCEnabled = hostarch.ByteOrder.Uint32(src[12:16])
	d.ECCSupported = hostarch.ByteOrder.Uint32(src[16:20])
	d.VFNum = hostarch.ByteOrder.Uint32(src[20:24])
	d.ASICType = ASICType(hostarch.ByteOrder.Uint32(src[24:28]))
	return src[32:]
}

// DevicesInfo is struct amdgv_cmd_devices_info.
type DevicesInfo struct {
	Devs   [MaxGPUNum]DevInfo
	DevNum uint8
	_      [7]uint8
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DevicesInfo) SizeBytes() int { return MaxGPUNum*32 + 8 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DevicesInfo) MarshalBytes(dst []byte) []byte {
	for i := range d.Devs {
		dst = d.Devs[i].MarshalBytes(dst)
	}
	clear(dst[:8])
	dst[0] = d.DevNum
	return dst[8:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DevicesInfo) UnmarshalBytes(src []byte) []byte {
	for i := range d.Devs {
		src = d.Devs[i].UnmarshalBytes(src)
	}
	d.DevNum = src[0]
	return src[8:]
}

// Devices returns the populated prefix of Devs.
func (d *DevicesInfo) Devices() []DevInfo {
	n := int(d.DevNum)
	if n > MaxGPUNum {
		n = MaxGPUNum
	}
	return d.Devs[:n]
}

// ECCCount is struct amdgv_cmd_ecc_count.
type ECCCount struct {
	Correctable   uint32
	Uncorrectable uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (e *ECCCount) SizeBytes() int { return 8 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (e *ECCCount) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], e.Correctable)
	hostarch.ByteOrder.PutUint32(dst[4:8], e.Uncorrectable)
	return dst[8:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (e *ECCCount) UnmarshalBytes(src []byte) []byte {
	e.Correctable = hostarch.ByteOrder.Uint32(src[:4])
	e.Uncorrectable = hostarch.ByteOrder.Uint32(src[4:8])
	return src[8:]
}

// BadPageRecord is struct amdgv_cmd_bad_page_record. Address doubles as
// the offset and Bank as the CU, depending on the error source.
type BadPageRecord struct {
	Address     uint64
	RetiredPage uint64
	Timestamp   uint64
	ErrType     EEPROMErrType
	Bank        uint8
	MemChannel  uint8
	MCUMCID     uint8
	_           uint8
}

// SizeBytes implements Marshallable.SizeBytes.
func (b *BadPageRecord) SizeBytes() int { return 32 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (b *BadPageRecord) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], b.Address)
	hostarch.ByteOrder.PutUint64(dst[8:16], b.RetiredPage)
	hostarch.ByteOrder.PutUint64(dst[16:24], b.Timestamp)
	hostarch.ByteOrder.PutUint32(dst[24:28], uint32(b.ErrType))
	dst[28] = b.Bank
	dst[29] = b.MemChannel
	dst[30] = b.MCUMCID
	dst[31] = 0
	return dst[32:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (b *BadPageRecord) UnmarshalBytes(src []byte) []byte {
	b.Address = hostarch.ByteOrder.Uint64(src[:8])
	b.RetiredPage = hostarch.ByteOrder.Uint64(src[8:16])
	b.Timestamp = hostarch.ByteOrder.Uint64(src[16:24])
	b.ErrType = EEPROMErrType(hostarch.ByteOrder.Uint32(src[24:28]))
	b.Bank = src[28]
	b.MemChannel = src[29]
	b.MCUMCID = src[30]
	return src[32:]
}

// BadPagesInfo is struct amdgv_cmd_bad_pages_info.
type BadPagesInfo struct {
	GroupIndex uint32
	InGroup    uint32
	TotalCount uint32
	_          uint32
	Records    [MaxBadPagesPerGroup]BadPageRecord
}

// SizeBytes implements Marshallable.SizeBytes.
func (b *BadPagesInfo) SizeBytes() int { return 16 + MaxBadPagesPerGroup*32 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (b *BadPagesInfo) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], b.GroupIndex)
	hostarch.ByteOrder.PutUint32(dst[4:8], b.InGroup)
	hostarch.ByteOrder.PutUint32(dst[8:12], b.TotalCount)
	hostarch.ByteOrder.PutUint32(dst[12:16], 0)
	dst = dst[16:]
	for i := range b.Records {
		dst = b.Records[i].MarshalBytes(dst)
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (b *BadPagesInfo) UnmarshalBytes(src []byte) []byte {
	b.GroupIndex = hostarch.ByteOrder.Uint32(src[:4])
	b.InGroup = hostarch.ByteOrder.Uint32(src[4:8])
	b.TotalCount = hostarch.ByteOrder.Uint32(src[8:12])
	src = src[16:]
	for i := range b.Records {
		src = b.Records[i].UnmarshalBytes(src)
	}
	return src
}

// FBRegionAreaInfo is struct amdgv_fb_region_area_info.
type FBRegionAreaInfo struct {
	Start  uint64
	Size   uint64
	Region uint32
	_      uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (f *FBRegionAreaInfo) SizeBytes() int { return 24 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (f *FBRegionAreaInfo) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], f.Start)
	hostarch.ByteOrder.PutUint64(dst[8:16], f.Size)
	hostarch.ByteOrder.PutUint32(dst[16:20], f.Region)
	hostarch.ByteOrder.PutUint32(dst[20:24], 0)
	return dst[24:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (f *FBRegionAreaInfo) UnmarshalBytes(src []byte) []byte {
	f.Start = hostarch.ByteOrder.Uint64(src[:8])
	f.Size = hostarch.ByteOrder.Uint64(src[8:16])
	f.Region = hostarch.ByteOrder.Uint32(src[16:20])
	return src[24:]
}

// FBRegions is struct amdgv_cmd_fb_regions.
type FBRegions struct {
	Count   uint32
	_       uint32
	Regions [MaxFBRegions]FBRegionAreaInfo
}

// SizeBytes implements Marshallable.SizeBytes.
func (f *FBRegions) SizeBytes() int { return 8 + MaxFBRegions*24 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (f *FBRegions) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint32(dst[:4], f.Count)
	hostarch.ByteOrder.PutUint32(dst[4:8], 0)
	dst = dst[8:]
	for i := range f.Regions {
		dst = f.Regions[i].MarshalBytes(dst)
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (f *FBRegions) UnmarshalBytes(src []byte) []byte {
	f.Count = hostarch.ByteOrder.Uint32(src[:4])
	src = src[8:]
	for i := range f.Regions {
		src = f.Regions[i].UnmarshalBytes(src)
	}
	return src
}

// QueryInterfaceVersionReq is struct amdgv_query_interface_version_req.
type QueryInterfaceVersionReq struct {
	Reserved [8]uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (q *QueryInterfaceVersionReq) SizeBytes() int { return 32 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (q *QueryInterfaceVersionReq) MarshalBytes(dst []byte) []byte {
	for _, r := range q.Reserved {
		hostarch.ByteOrder.PutUint32(dst[:4], r)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (q *QueryInterfaceVersionReq) UnmarshalBytes(src []byte) []byte {
	for i := range q.Reserved {
		q.Reserved[i] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	return src
}

// QueryInterfaceVersionRsp is struct amdgv_query_interface_version_rsp.
type QueryInterfaceVersionRsp struct {
	Major    uint8
	Minor    uint8
	Reserved [26]uint8
}

// SizeBytes implements Marshallable.SizeBytes.
func (q *QueryInterfaceVersionRsp) SizeBytes() int { return 28 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (q *QueryInterfaceVersionRsp) MarshalBytes(dst []byte) []byte {
	dst[0] = q.Major
	dst[1] = q.Minor
	copy(dst[2:28], q.Reserved[:])
	return dst[28:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (q *QueryInterfaceVersionRsp) UnmarshalBytes(src []byte) []byte {
	q.Major = src[0]
	q.Minor = src[1]
	copy(q.Reserved[:], src[2:28])
	return src[28:]
}

// RASTALoadReq is struct amdgv_cmd_ras_ta_load_req. DataAddr is a local
// address, so the command is only meaningful on the kernel path.
type RASTALoadReq struct {
	Dev      DevHandle
	Version  uint32
	DataLen  uint32
	DataAddr uint64
	Reserved [2]uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (r *RASTALoadReq) SizeBytes() int { return 32 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (r *RASTALoadReq) MarshalBytes(dst []byte) []byte {
	dst = r.Dev.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint32(dst[:4], r.Version)
	hostarch.ByteOrder.PutUint32(dst[4:8], r.DataLen)
	hostarch.ByteOrder.PutUint64(dst[8:16], r.DataAddr)
	hostarch.ByteOrder.PutUint32(dst[16:20], r.Reserved[0])
	hostarch.ByteOrder.PutUint32(dst[20:24], r.Reserved[1])
	return dst[24:]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (r *RASTALoadReq) UnmarshalBytes(src []byte) []byte {
	src = r.Dev.UnmarshalBytes(src)
	r.Version = hostarch.ByteOrder.Uint32(src[:4])
	r.DataLen = hostarch.ByteOrder.Uint32(src[4:8])
	r.DataAddr = hostarch.ByteOrder.Uint64(src[8:16])
	r.Reserved[0] = hostarch.ByteOrder.Uint32(src[16:20])
	r.Reserved[1] = hostarch.ByteOrder.Uint32(src[20:24])
	return src[24:]
}

// RASTALoadRsp is struct amdgv_cmd_ras_ta_load_rsp.
type RASTALoadRsp struct {
	SessionID uint64
	Status    TAStatus
	Reserved  [5]uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (r *RASTALoadRsp) SizeBytes() int { return 32 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (r *RASTALoadRsp) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[:8], r.SessionID)
	hostarch.ByteOrder.PutUint32(dst[8:12], uint32(r.Status))
	dst = dst[12:]
	for _, v := range r.Reserved {
		hostarch.ByteOrder.PutUint32(dst[:4], v)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (r *RASTALoadRsp) UnmarshalBytes(src []byte) []byte {
	r.SessionID = hostarch.ByteOrder.Uint64(src[:8])
	r.Status = TAStatus(hostarch.ByteOrder.Uint32(src[8:12]))
	src = src[12:]
	for i := range r.Reserved {
		r.Reserved[i] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	return src
}

// RASTAUnloadReq is struct amdgv_cmd_ras_ta_unload_req.
type RASTAUnloadReq struct {
	Dev       DevHandle
	SessionID uint64
	Reserved  [4]uint32
}

// SizeBytes implements Marshallable.SizeBytes.
func (r *RASTAUnloadReq) SizeBytes() int { return 32 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (r *RASTAUnloadReq) MarshalBytes(dst []byte) []byte {
	dst = r.Dev.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint64(dst[:8], r.SessionID)
	dst = dst[8:]
	for _, v := range r.Reserved {
		hostarch.ByteOrder.PutUint32(dst[:4], v)
		dst = dst[4:]
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (r *RASTAUnloadReq) UnmarshalBytes(src []byte) []byte {
	src = r.Dev.UnmarshalBytes(src)
	r.SessionID = hostarch.ByteOrder.Uint64(src[:8])
	src = src[8:]
	for i := range r.Reserved {
		r.Reserved[i] = hostarch.ByteOrder.Uint32(src[:4])
		src = src[4:]
	}
	return src
}

// SafeFBRange is one entry of SafeFBAddressRanges.
type SafeFBRange struct {
	Start uint64
	Size  uint64
	_     [2]uint32
}

// SafeFBAddressRanges is struct amdgv_cmd_ras_safe_fb_address_ranges_rsp.
type SafeFBAddressRanges struct {
	NumRanges uint32
	_         [3]uint32
	Ranges    [MaxNumSafeRanges]SafeFBRange
}

// SizeBytes implements Marshallable.SizeBytes.
func (s *SafeFBAddressRanges) SizeBytes() int { return 16 + MaxNumSafeRanges*24 }

// MarshalBytes implements Marshallable.MarshalBytes.
func (s *SafeFBAddressRanges) MarshalBytes(dst []byte) []byte {
	clear(dst[:16])
	hostarch.ByteOrder.PutUint32(dst[:4], s.NumRanges)
	dst = dst[16:]
	for i := range s.Ranges {
		hostarch.ByteOrder.PutUint64(dst[:8], s.Ranges[i].Start)
		hostarch.ByteOrder.PutUint64(dst[8:16], s.Ranges[i].Size)
		clear(dst[16:24])
		dst = dst[24:]
	}
	return dst
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (s *SafeFBAddressRanges) UnmarshalBytes(src []byte) []byte {
	s.NumRanges = hostarch.ByteOrder.Uint32(src[:4])
	src = src[16:]
	for i := range s.Ranges {
		s.Ranges[i].Start = hostarch.ByteOrder.Uint64(src[:8])
		s.Ranges[i].Size = hostarch.ByteOrder.Uint64(src[8:16])
		src = src[24:]
	}
	return src
}

// FBBankAddr is struct amdgv_fb_bank_addr.
type FBBankAddr struct {
	StackID    uint32
	BankGroup  uint32
	Bank       uint32
	Row        uint32
	Column     uint32
	Channel    uint32
	Subchannel uint32
	Reserved   [3]uint32
}

// FBVFPhyAddr is struct amdgv_fb_vf_phy_addr.
type FBVFPhyAddr struct {
	VFIdx uint32
	_     uint32
	Addr  uint64
}

// fbAddrSize is the size of the address union shared by the translate
// request and response.
const fbAddrSize = 40

// FBAddr is the address union of the translate commands. Its meaning
// depends on the accompanying FBAddrType.
type FBAddr [fbAddrSize]byte

// Bank decodes the union as a bank address.
func (f *FBAddr) Bank() FBBankAddr {
	var b FBBankAddr
	fields := []*uint32{&b.StackID, &b.BankGroup, &b.Bank, &b.Row, &b.Column, &b.Channel, &b.Subchannel, &b.Reserved[0], &b.Reserved[1], &b.Reserved[2]}
	for i, p := range fields {
		*p = hostarch.ByteOrder.Uint32(f[i*4:])
	}
	return b
}

// SetBank encodes b into the union.
func (f *FBAddr) SetBank(b FBBankAddr) {
	fields := []uint32{b.StackID, b.BankGroup, b.Bank, b.Row, b.Column, b.Channel, b.Subchannel, b.Reserved[0], b.Reserved[1], b.Reserved[2]}
	for i, v := range fields {
		hostarch.ByteOrder.PutUint32(f[i*4:], v)
	}
}

// SocPhy decodes the union as a system physical address.
func (f *FBAddr) SocPhy() uint64 {
	return hostarch.ByteOrder.Uint64(f[:8])
}

// SetSocPhy encodes a system physical address into the union.
func (f *FBAddr) SetSocPhy(addr uint64) {
	*f = FBAddr{}
	hostarch.ByteOrder.PutUint64(f[:8], addr)
}

// VFPhy decodes the union as a VF physical address.
func (f *FBAddr) VFPhy() FBVFPhyAddr {
	return FBVFPhyAddr{
		VFIdx: hostarch.ByteOrder.Uint32(f[:4]),
		Addr:  hostarch.ByteOrder.Uint64(f[8:16]),
	}
}

// SetVFPhy encodes a VF physical address into the union.
func (f *FBAddr) SetVFPhy(a FBVFPhyAddr) {
	*f = FBAddr{}
	hostarch.ByteOrder.PutUint32(f[:4], a.VFIdx)
	hostarch.ByteOrder.PutUint64(f[8:16], a.Addr)
}

// SizeBytes implements Marshallable.SizeBytes.
func (f *FBAddr) SizeBytes() int { return fbAddrSize }

// MarshalBytes implements Marshallable.MarshalBytes.
func (f *FBAddr) MarshalBytes(dst []byte) []byte {
	return dst[copy(dst[:fbAddrSize], f[:]):]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (f *FBAddr) UnmarshalBytes(src []byte) []byte {
	return src[copy(f[:], src[:fbAddrSize]):]
}

// TranslateFBAddressReq is struct amdgv_cmd_translate_fb_address_req.
type TranslateFBAddressReq struct {
	Dev      DevHandle
	SrcType  FBAddrType
	DestType FBAddrType
	Addr     FBAddr
}

// SizeBytes implements Marshallable.SizeBytes.
func (t *TranslateFBAddressReq) SizeBytes() int { return 16 + fbAddrSize }

// MarshalBytes implements Marshallable.MarshalBytes.
func (t *TranslateFBAddressReq) MarshalBytes(dst []byte) []byte {
	dst = t.Dev.MarshalBytes(dst)
	hostarch.ByteOrder.PutUint32(dst[:4], uint32(t.SrcType))
	hostarch.ByteOrder.PutUint32(dst[4:8], uint32(t.DestType))
	return t.Addr.MarshalBytes(dst[8:])
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (t *TranslateFBAddressReq) UnmarshalBytes(src []byte) []byte {
	src = t.Dev.UnmarshalBytes(src)
	t.SrcType = FBAddrType(hostarch.ByteOrder.Uint32(src[:4]))
	t.DestType = FBAddrType(hostarch.ByteOrder.Uint32(src[4:8]))
	return t.Addr.UnmarshalBytes(src[8:])
}

// DebugDataDirPath is struct amdgv_cmd_debug_data_dir_path.
type DebugDataDirPath struct {
	Path [CmdPathLen]byte
}

// NewDebugDataDirPath returns a DebugDataDirPath holding p, truncated to fit
// with its terminating NUL.
func NewDebugDataDirPath(p string) *DebugDataDirPath {
	var d DebugDataDirPath
	copy(d.Path[:CmdPathLen-1], p)
	return &d
}

// String returns the path up to the first NUL.
func (d *DebugDataDirPath) String() string {
	return cString(d.Path[:])
}

// SizeBytes implements Marshallable.SizeBytes.
func (d *DebugDataDirPath) SizeBytes() int { return CmdPathLen }

// MarshalBytes implements Marshallable.MarshalBytes.
func (d *DebugDataDirPath) MarshalBytes(dst []byte) []byte {
	return dst[copy(dst[:CmdPathLen], d.Path[:]):]
}

// UnmarshalBytes implements Marshallable.UnmarshalBytes.
func (d *DebugDataDirPath) UnmarshalBytes(src []byte) []byte {
	return src[copy(d.Path[:], src[:CmdPathLen]):]
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
