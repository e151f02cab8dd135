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

// SMI command codes, enum smi_cmd_code. 0x03 is unassigned.
const (
	SMIHandshake                         = uint32(ClientSMI) | 0x01
	SMIGetServerStaticInfo               = uint32(ClientSMI) | 0x02
	SMIGetVFPartitioningInfo             = uint32(ClientSMI) | 0x04
	SMIGetGPUPerformanceInfo             = uint32(ClientSMI) | 0x05
	SMIGetVFStaticInfo                   = uint32(ClientSMI) | 0x06
	SMIGetVFDynamicInfo                  = uint32(ClientSMI) | 0x07
	SMICreateEvent                       = uint32(ClientSMI) | 0x08 | SMIFDMask
	SMIGetECCStatus                      = uint32(ClientSMI) | 0x09
	SMIGetHandle                         = uint32(ClientSMI) | 0x0a
	SMIGetBadPageInfo                    = uint32(ClientSMI) | 0x0b
	SMIGetGuestData                      = uint32(ClientSMI) | 0x0c
	SMIGetDFCFWTable                     = uint32(ClientSMI) | 0x0d
	SMIGetPCIeInfo                       = uint32(ClientSMI) | 0x0e
	SMIGetUcodeErrRecords                = uint32(ClientSMI) | 0x0f
	SMIGetVFUcodeInfo                    = uint32(ClientSMI) | 0x10
	SMIGetPartitionProfileInfo           = uint32(ClientSMI) | 0x11
	SMIGetBlockECCStatus                 = uint32(ClientSMI) | 0x12
	SMIGetGPUFWInfo                      = uint32(ClientSMI) | 0x13
	SMIGetSMIData                        = uint32(ClientSMI) | 0x14
	SMIGetLinkMetrics                    = uint32(ClientSMI) | 0x15
	SMIGetLinkTopology                   = uint32(ClientSMI) | 0x16
	SMIGetXGMIFBSharingCaps              = uint32(ClientSMI) | 0x17
	SMIGetXGMIFBSharingModeInfo          = uint32(ClientSMI) | 0x18
	SMISetXGMIFBSharingMode              = uint32(ClientSMI) | 0x19
	SMIReadEvent                         = uint32(ClientSMI) | 0x1a
	SMIDestroyEvent                      = uint32(ClientSMI) | 0x1b
	SMIGetRASFeatureInfo                 = uint32(ClientSMI) | 0x1c
	SMISetVFPartitioningInfo             = uint32(ClientSMI) | 0x1d
	SMIGetMetricsTable                   = uint32(ClientSMI) | 0x1e
	SMIClearVFFB                         = uint32(ClientSMI) | 0x1f
	SMISetXGMIFBSharingModeV2            = uint32(ClientSMI) | 0x20
	SMIGetAcceleratorPartitionProfile    = uint32(ClientSMI) | 0x21
	SMIGetGPUAcceleratorPartition        = uint32(ClientSMI) | 0x22
	SMIGetCurrMemoryPartitionSetting     = uint32(ClientSMI) | 0x23
	SMISetGPUAcceleratorPartitionSetting = uint32(ClientSMI) | 0x24
	SMISetGPUMemoryPartitionSetting      = uint32(ClientSMI) | 0x25
	SMIGetSOCPState                      = uint32(ClientSMI) | 0x26
	SMISetSOCPState                      = uint32(ClientSMI) | 0x27
	SMIGetGPUDriverModel                 = uint32(ClientSMI) | 0x28
	SMISetGPUPowerCap                    = uint32(ClientSMI) | 0x29
	SMIGetCPER                           = uint32(ClientSMI) | 0x2a
	SMIGetVBIOSInfo                      = uint32(ClientSMI) | 0x2b
	SMIGetBoardInfo                      = uint32(ClientSMI) | 0x2c
	SMIGetASICInfo                       = uint32(ClientSMI) | 0x2d
	SMIGetVRAMInfo                       = uint32(ClientSMI) | 0x2e
	SMIGetGPUDriverInfo                  = uint32(ClientSMI) | 0x2f
	SMIGetPowerCapInfo                   = uint32(ClientSMI) | 0x30
	SMIGetPFFBInfo                       = uint32(ClientSMI) | 0x31
	SMIGetGPUCacheInfo                   = uint32(ClientSMI) | 0x32
)

// SMI status codes, SMICmd.Status.
const (
	SMIStatusSuccess      = 0
	SMIStatusInval        = 1
	SMIStatusNotSupported = 2
	SMIStatusIO           = 12
)
