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
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Flags describe the side channels a command uses on the daemon socket.
type Flags uint32

// Command flags.
const (
	// FlagShmOutbound: the input region starts with a ShmInfo whose buffer
	// is handed to the backend.
	FlagShmOutbound Flags = 1 << iota

	// FlagShmInbound: the output region starts with a ShmInfo naming the
	// local buffer the backend's data is copied into.
	FlagShmInbound

	// FlagFDOutbound: the SMI payload carries a caller descriptor that is
	// passed to the backend.
	FlagFDOutbound
)

// String implements fmt.Stringer.String.
func (f Flags) String() string {
	var parts []string
	if f&FlagShmOutbound != 0 {
		parts = append(parts, "shm-out")
	}
	if f&FlagShmInbound != 0 {
		parts = append(parts, "shm-in")
	}
	if f&FlagFDOutbound != 0 {
		parts = append(parts, "fd-out")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// FlagsOf derives the flags encoded in code's private bits, whether or
// not code is registered.
func FlagsOf(code uint32) Flags {
	var f Flags
	switch ClientTypeOf(code) {
	case ClientAMDGV:
		if code&ShmOutboundMask != 0 {
			f |= FlagShmOutbound
		}
		if code&ShmInboundMask != 0 {
			f |= FlagShmInbound
		}
	case ClientSMI:
		if code&SMIFDMask != 0 {
			f |= FlagFDOutbound
		}
	}
	return f
}

// Info describes one registered command.
type Info struct {
	Code   uint32
	Name   string
	Client ClientType
	Family Family
	Flags  Flags

	// RequestSize and ResponseSize are the sizes of the typed payloads the
	// command carries in its input and output regions. Zero means the
	// command has no typed payload in that direction.
	RequestSize  int
	ResponseSize int
}

// String implements fmt.Stringer.String.
func (i *Info) String() string {
	return fmt.Sprintf("%s(%#x)", i.Name, i.Code)
}

func sizeOf(m Marshallable) int {
	if m == nil {
		return 0
	}
	return m.SizeBytes()
}

func amdgv(code uint32, name string, req, rsp Marshallable) Info {
	return Info{
		Code:         code,
		Name:         name,
		Client:       ClientAMDGV,
		Family:       Family(code & FamilyMask),
		Flags:        FlagsOf(code),
		RequestSize:  sizeOf(req),
		ResponseSize: sizeOf(rsp),
	}
}

func smi(code uint32, name string) Info {
	return Info{
		Code:   code,
		Name:   name,
		Client: ClientSMI,
		Flags:  FlagsOf(code),
	}
}

var registry = func() map[uint32]*Info {
	infos := []Info{
		amdgv(CmdQueryInterfaceVersion, "query_interface_version", &QueryInterfaceVersionReq{}, &QueryInterfaceVersionRsp{}),
		amdgv(CmdGetDevicesInfo, "get_devices_info", nil, &DevicesInfo{}),
		amdgv(CmdGetBlockECCStatus, "get_block_ecc_status", &DevBlockInfo{}, &ECCCount{}),
		amdgv(CmdRASInjectError, "ras_inject_error", &RASInjectError{}, nil),
		amdgv(CmdRASEnable, "ras_enable", &RASEnableECC{}, nil),
		amdgv(CmdGetBadPages, "get_bad_pages", &DevIndex{}, &BadPagesInfo{}),
		amdgv(CmdClearBadPageInfo, "clear_bad_page_info", &DevHandle{}, nil),
		amdgv(CmdGPUReset, "gpu_reset", &DevHandle{}, nil),
		amdgv(CmdGetFBPFRegions, "get_fb_pf_regions", &DevHandle{}, &FBRegions{}),
		amdgv(CmdGetFBVFRegions, "get_fb_vf_regions", &DevIndex{}, &FBRegions{}),
		amdgv(CmdGetVFBDF, "get_vf_bdf", &DevIndex{}, &BDFArg{}),
		amdgv(CmdRASTALoad, "ras_ta_load", &RASTALoadReq{}, &RASTALoadRsp{}),
		amdgv(CmdRASTAUnload, "ras_ta_unload", &RASTAUnloadReq{}, nil),
		amdgv(CmdRASGetSafeFBAddressRanges, "ras_get_safe_fb_address_ranges", &DevHandle{}, &SafeFBAddressRanges{}),
		amdgv(CmdTranslateFBAddress, "translate_fb_address", &TranslateFBAddressReq{}, &FBAddr{}),
		amdgv(CmdRASResetAllErrorCounts, "ras_reset_all_error_counts", &DevHandle{}, nil),

		amdgv(CmdCommonIoctl, "common_ioctl", &CommonIoctlIn{}, &CommonIoctlOut{}),
		amdgv(CmdPSPVBFlashCopy, "psp_vbflash_copy", &VBFlashInfo{}, nil),
		amdgv(CmdPSPVBFlashProcess, "psp_vbflash_process", &BDFArg{}, nil),
		amdgv(CmdPSPVBFlashStatus, "psp_vbflash_status", &BDFArg{}, new(U32)),

		amdgv(CmdStartTrapGPUHang, "start_trap_gpu_hang", &DCoreIn{}, &TrapGPUHangOut{}),
		amdgv(CmdNotifyDumpDone, "notify_dump_done", &DCoreIn{}, nil),
		amdgv(CmdGetDiagData, "get_diag_data", &DCoreIn{}, &DiagDataOut{}),
		amdgv(CmdStopTrapGPUHang, "stop_trap_gpu_hang", &DCoreIn{}, nil),
		amdgv(CmdGetFFBMData, "get_ffbm_data", &DCoreIn{}, &FFBMDataOut{}),

		smi(SMIHandshake, "handshake"),
		smi(SMIGetServerStaticInfo, "get_server_static_info"),
		smi(SMIGetVFPartitioningInfo, "get_vf_partitioning_info"),
		smi(SMIGetGPUPerformanceInfo, "get_gpu_performance_info"),
		smi(SMIGetVFStaticInfo, "get_vf_static_info"),
		smi(SMIGetVFDynamicInfo, "get_vf_dynamic_info"),
		smi(SMICreateEvent, "create_event"),
		smi(SMIGetECCStatus, "get_ecc_status"),
		smi(SMIGetHandle, "get_handle"),
		smi(SMIGetBadPageInfo, "get_bad_page_info"),
		smi(SMIGetGuestData, "get_guest_data"),
		smi(SMIGetDFCFWTable, "get_dfc_fw_table"),
		smi(SMIGetPCIeInfo, "get_pcie_info"),
		smi(SMIGetUcodeErrRecords, "get_ucode_err_records"),
		smi(SMIGetVFUcodeInfo, "get_vf_ucode_info"),
		smi(SMIGetPartitionProfileInfo, "get_partition_profile_info"),
		smi(SMIGetBlockECCStatus, "get_block_ecc_status"),
		smi(SMIGetGPUFWInfo, "get_gpu_fw_info"),
		smi(SMIGetSMIData, "get_smi_data"),
		smi(SMIGetLinkMetrics, "get_link_metrics"),
		smi(SMIGetLinkTopology, "get_link_topology"),
		smi(SMIGetXGMIFBSharingCaps, "get_xgmi_fb_sharing_caps"),
		smi(SMIGetXGMIFBSharingModeInfo, "get_xgmi_fb_sharing_mode_info"),
		smi(SMISetXGMIFBSharingMode, "set_xgmi_fb_sharing_mode"),
		smi(SMIReadEvent, "read_event"),
		smi(SMIDestroyEvent, "destroy_event"),
		smi(SMIGetRASFeatureInfo, "get_ras_feature_info"),
		smi(SMISetVFPartitioningInfo, "set_vf_partitioning_info"),
		smi(SMIGetMetricsTable, "get_metrics_table"),
		smi(SMIClearVFFB, "clear_vf_fb"),
		smi(SMISetXGMIFBSharingModeV2, "set_xgmi_fb_sharing_mode_v2"),
		smi(SMIGetAcceleratorPartitionProfile, "get_accelerator_partition_profile_config"),
		smi(SMIGetGPUAcceleratorPartition, "get_gpu_accelerator_partition"),
		smi(SMIGetCurrMemoryPartitionSetting, "get_curr_memory_partition_setting"),
		smi(SMISetGPUAcceleratorPartitionSetting, "set_gpu_accelerator_partition_setting"),
		smi(SMISetGPUMemoryPartitionSetting, "set_gpu_memory_partition_setting"),
		smi(SMIGetSOCPState, "get_soc_pstate"),
		smi(SMISetSOCPState, "set_soc_pstate"),
		smi(SMIGetGPUDriverModel, "get_gpu_driver_model"),
		smi(SMISetGPUPowerCap, "set_gpu_power_cap"),
		smi(SMIGetCPER, "get_cper"),
		smi(SMIGetVBIOSInfo, "get_vbios_info"),
		smi(SMIGetBoardInfo, "get_board_info"),
		smi(SMIGetASICInfo, "get_asic_info"),
		smi(SMIGetVRAMInfo, "get_vram_info"),
		smi(SMIGetGPUDriverInfo, "get_gpu_driver_info"),
		smi(SMIGetPowerCapInfo, "get_power_cap_info"),
		smi(SMIGetPFFBInfo, "get_pf_fb_info"),
		smi(SMIGetGPUCacheInfo, "get_gpu_cache_info"),
	}
	m := make(map[uint32]*Info, len(infos))
	for i := range infos {
		info := &infos[i]
		if _, ok := m[info.Code]; ok {
			panic(fmt.Sprintf("duplicate command code %#x (%s)", info.Code, info.Name))
		}
		if info.RequestSize > CmdMaxInSize || info.ResponseSize > CmdMaxOutSize {
			panic(fmt.Sprintf("command %s payload does not fit the command record", info.Name))
		}
		m[info.Code] = info
	}
	return m
}()

// Lookup returns the registry entry for code. Flag bits are part of the
// code: a known command number with the wrong flag bits is not found.
func Lookup(code uint32) (*Info, bool) {
	info, ok := registry[code]
	return info, ok
}

// Commands returns every registered command sorted by code.
func Commands() []*Info {
	infos := make([]*Info, 0, len(registry))
	for _, info := range registry {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Code < infos[j].Code })
	return infos
}

// Errors returned by Validate.
var (
	ErrNilCommand     = errors.New("nil command")
	ErrUnknownCommand = errors.New("unknown command code")
	ErrClientMismatch = errors.New("command record does not match client type")
	ErrSizeOverflow   = errors.New("declared size exceeds command region")
)

// Validate checks cmd against the registry without performing any I/O. It
// returns the command's registry entry.
func Validate(cmd Command) (*Info, error) {
	switch c := cmd.(type) {
	case nil:
		return nil, ErrNilCommand
	case *Cmd:
		if c == nil {
			return nil, ErrNilCommand
		}
	case *SMICmd:
		if c == nil {
			return nil, ErrNilCommand
		}
	}

	code := cmd.Code()
	info, ok := Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w %#x", ErrUnknownCommand, code)
	}
	switch c := cmd.(type) {
	case *Cmd:
		if info.Client != ClientAMDGV {
			return nil, fmt.Errorf("%w: %v in an amdgv record", ErrClientMismatch, info)
		}
		if c.InputSize > CmdMaxInSize || c.OutputSize > CmdMaxOutSize {
			return nil, fmt.Errorf("%w: %v input %d output %d", ErrSizeOverflow, info, c.InputSize, c.OutputSize)
		}
	case *SMICmd:
		if info.Client != ClientSMI {
			return nil, fmt.Errorf("%w: %v in an smi record", ErrClientMismatch, info)
		}
		const maxLen = SMIMaxPayload * 4
		if c.InLen < 0 || int(c.InLen) > maxLen || c.OutLen < 0 || int(c.OutLen) > maxLen {
			return nil, fmt.Errorf("%w: %v in %d out %d", ErrSizeOverflow, info, c.InLen, c.OutLen)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported record %T", ErrClientMismatch, cmd)
	}
	return info, nil
}

// NewCommand returns an empty record of the right type for code, stamped as
// NewCmd and NewSMICmd do.
func NewCommand(code uint32) (Command, error) {
	info, ok := Lookup(code)
	if !ok {
		return nil, fmt.Errorf("%w %#x", ErrUnknownCommand, code)
	}
	if info.Client == ClientSMI {
		return NewSMICmd(code), nil
	}
	return NewCmd(code), nil
}
