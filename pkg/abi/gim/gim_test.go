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
	"testing"

	"gvisor.dev/gvisor/pkg/hostarch"
)

func TestSizes(t *testing.T) {
	for _, tc := range []struct {
		name string
		m    Marshallable
		want int
	}{
		{"Cmd", &Cmd{}, 1760},
		{"SMICmd", &SMICmd{}, 4108},
		{"Header", &Header{}, 48},
		{"ShmInfo", &ShmInfo{}, 16},
		{"VBFlashInfo", &VBFlashInfo{}, 24},
		{"CommonIoctlIn", &CommonIoctlIn{}, 124},
		{"CommonIoctlOut", &CommonIoctlOut{}, 1004},
		{"DevInfo", &DevInfo{}, 32},
		{"DevicesInfo", &DevicesInfo{}, 1032},
		{"ECCCount", &ECCCount{}, 8},
		{"BadPageRecord", &BadPageRecord{}, 32},
		{"BadPagesInfo", &BadPagesInfo{}, 1040},
		{"FBRegionAreaInfo", &FBRegionAreaInfo{}, 24},
		{"FBRegions", &FBRegions{}, 104},
		{"QueryInterfaceVersionReq", &QueryInterfaceVersionReq{}, 32},
		{"QueryInterfaceVersionRsp", &QueryInterfaceVersionRsp{}, 28},
		{"RASInjectError", &RASInjectError{}, 48},
		{"RASEnableECC", &RASEnableECC{}, 16},
		{"DevIndex", &DevIndex{}, 16},
		{"RASTALoadReq", &RASTALoadReq{}, 32},
		{"RASTALoadRsp", &RASTALoadRsp{}, 32},
		{"RASTAUnloadReq", &RASTAUnloadReq{}, 32},
		{"SafeFBAddressRanges", &SafeFBAddressRanges{}, 1552},
		{"FBAddr", &FBAddr{}, 40},
		{"TranslateFBAddressReq", &TranslateFBAddressReq{}, 56},
		{"DebugDataDirPath", &DebugDataDirPath{}, 100},
		{"TrapGPUHangOut", &TrapGPUHangOut{}, 20},
		{"DiagDataOut", &DiagDataOut{}, 32},
		{"FFBMDataOut", &FFBMDataOut{}, 16},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.m.SizeBytes(); got != tc.want {
				t.Errorf("SizeBytes() = %d, want %d", got, tc.want)
			}
			buf := make([]byte, tc.want+3)
			if rest := tc.m.MarshalBytes(buf); len(rest) != 3 {
				t.Errorf("MarshalBytes consumed %d bytes, want %d", len(buf)-len(rest), tc.want)
			}
			if rest := tc.m.UnmarshalBytes(buf); len(rest) != 3 {
				t.Errorf("UnmarshalBytes consumed %d bytes, want %d", len(buf)-len(rest), tc.want)
			}
		})
	}
}

func TestCmdLayout(t *testing.T) {
	c := Cmd{
		ID:         CmdGetDevicesInfo,
		InputSize:  0x11,
		OutputSize: 0x22,
		Version:    CmdVersion,
		Response:   ResponseInvalidInput,
		PID:        0x12345678,
		Reserved:   [3]uint32{1, 2, 3},
	}
	c.Input[0] = 0xaa
	c.Output[0] = 0xbb
	c.Output[CmdMaxOutSize-1] = 0xcc

	buf := make([]byte, CmdSize)
	c.MarshalBytes(buf)

	if got := hostarch.ByteOrder.Uint32(buf[0:]); got != CmdGetDevicesInfo {
		t.Errorf("ID at 0 = %#x, want %#x", got, CmdGetDevicesInfo)
	}
	if got := hostarch.ByteOrder.Uint32(buf[4:]); got != 0x11 {
		t.Errorf("InputSize at 4 = %#x, want 0x11", got)
	}
	if got := hostarch.ByteOrder.Uint32(buf[8:]); got != 0x22 {
		t.Errorf("OutputSize at 8 = %#x, want 0x22", got)
	}
	if buf[12] != CmdVersion || buf[13] != byte(ResponseInvalidInput) {
		t.Errorf("version/response at 12 = %d/%d, want %d/%d", buf[12], buf[13], CmdVersion, ResponseInvalidInput)
	}
	if got := hostarch.ByteOrder.Uint32(buf[16:]); got != 0x12345678 {
		t.Errorf("PID at 16 = %#x, want 0x12345678", got)
	}
	if got := hostarch.ByteOrder.Uint32(buf[28:]); got != 3 {
		t.Errorf("Reserved[2] at 28 = %d, want 3", got)
	}
	if buf[32] != 0xaa {
		t.Errorf("Input at 32 = %#x, want 0xaa", buf[32])
	}
	if buf[160] != 0xbb || buf[CmdSize-1] != 0xcc {
		t.Errorf("Output at 160/%d = %#x/%#x, want 0xbb/0xcc", CmdSize-1, buf[160], buf[CmdSize-1])
	}

	var got Cmd
	got.UnmarshalBytes(buf)
	if got != c {
		t.Errorf("Cmd changed across MarshalBytes/UnmarshalBytes")
	}
}

func TestSMICmdFD(t *testing.T) {
	c := NewSMICmd(SMICreateEvent)
	c.SetFD(42)
	buf := make([]byte, SMICmdSize)
	c.MarshalBytes(buf)
	if got := int32(hostarch.ByteOrder.Uint32(buf[12+SMIFDOffset:])); got != 42 {
		t.Errorf("fd at payload offset %d = %d, want 42", SMIFDOffset, got)
	}
	var back SMICmd
	back.UnmarshalBytes(buf)
	if back.FD() != 42 {
		t.Errorf("FD() = %d, want 42", back.FD())
	}
}

func TestHeader(t *testing.T) {
	h := Header{
		CmdID:     CmdGetDiagData | HeaderMask,
		ThreadFD:  7,
		PrimaryFD: 5,
		PID:       99,
	}
	buf := make([]byte, HeaderSize)
	h.MarshalBytes(buf)
	var got Header
	got.UnmarshalBytes(buf)
	if got != h {
		t.Errorf("Header = %+v, want %+v", got, h)
	}
	if got.Code() != CmdGetDiagData {
		t.Errorf("Code() = %#x, want %#x", got.Code(), CmdGetDiagData)
	}
}

func TestShmFields(t *testing.T) {
	var c Cmd
	c.SetInput(&VBFlashInfo{Shm: ShmInfo{BufferSize: 4096, BufferAddr: 0xdeadbeef000}, BDF: NewBDF(0, 3, 0, 0)})
	if got := ShmAddr(c.Input[:]); got != 0xdeadbeef000 {
		t.Errorf("ShmAddr = %#x, want 0xdeadbeef000", got)
	}
	if got := ShmSize(c.Input[:]); got != 4096 {
		t.Errorf("ShmSize = %d, want 4096", got)
	}
	SetShmAddr(c.Input[:], 0)
	var info VBFlashInfo
	c.GetInput(&info)
	if info.Shm.BufferAddr != 0 || info.Shm.BufferSize != 4096 || info.BDF != NewBDF(0, 3, 0, 0) {
		t.Errorf("VBFlashInfo = %+v after clearing the address", info)
	}
}

func TestRegistryFlags(t *testing.T) {
	for _, tc := range []struct {
		code   uint32
		flags  Flags
		family Family
		client ClientType
	}{
		{CmdGetDevicesInfo, 0, FamilyRAS, ClientAMDGV},
		{CmdPSPVBFlashCopy, FlagShmOutbound, FamilyCommon, ClientAMDGV},
		{CmdPSPVBFlashStatus, 0, FamilyCommon, ClientAMDGV},
		{CmdGetDiagData, FlagShmInbound, FamilyDCore, ClientAMDGV},
		{CmdGetFFBMData, FlagShmInbound, FamilyDCore, ClientAMDGV},
		{SMICreateEvent, FlagFDOutbound, FamilyRAS, ClientSMI},
		{SMIGetHandle, 0, FamilyRAS, ClientSMI},
	} {
		info, ok := Lookup(tc.code)
		if !ok {
			t.Errorf("Lookup(%#x) not found", tc.code)
			continue
		}
		if info.Flags != tc.flags || info.Client != tc.client {
			t.Errorf("%v: flags %v client %v, want %v %v", info, info.Flags, info.Client, tc.flags, tc.client)
		}
		if tc.client == ClientAMDGV && info.Family != tc.family {
			t.Errorf("%v: family %v, want %v", info, info.Family, tc.family)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	for _, code := range []uint32{
		0,
		uint32(ClientAMDGV) | 0x7ff,
		// Known number without its shared-memory bit.
		CmdPSPVBFlashCopy &^ ShmOutboundMask,
		uint32(ClientSMI) | 0x03,
	} {
		if info, ok := Lookup(code); ok {
			t.Errorf("Lookup(%#x) = %v, want not found", code, info)
		}
	}
}

func TestValidate(t *testing.T) {
	oversized := NewCmd(CmdGetDevicesInfo)
	oversized.OutputSize = CmdMaxOutSize + 1
	negative := NewSMICmd(SMIGetHandle)
	negative.InLen = -1

	for _, tc := range []struct {
		name string
		cmd  Command
		want error
	}{
		{"ok", NewCmd(CmdGetDevicesInfo), nil},
		{"smi ok", NewSMICmd(SMIHandshake), nil},
		{"nil", nil, ErrNilCommand},
		{"typed nil", (*Cmd)(nil), ErrNilCommand},
		{"unknown", NewCmd(uint32(ClientAMDGV) | 0x7ff), ErrUnknownCommand},
		{"smi code in amdgv record", NewCmd(SMIHandshake), ErrClientMismatch},
		{"amdgv code in smi record", NewSMICmd(CmdGPUReset), ErrClientMismatch},
		{"oversized", oversized, ErrSizeOverflow},
		{"negative", negative, ErrSizeOverflow},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Errorf("Validate() = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestBDF(t *testing.T) {
	b := NewBDF(0x1, 0x83, 0x1f, 0x7)
	if got, want := b.String(), "0001:83:1f.7"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	parsed, err := ParseBDF("0001:83:1f.7")
	if err != nil {
		t.Fatalf("ParseBDF: %v", err)
	}
	if parsed != b {
		t.Errorf("ParseBDF = %v, want %v", parsed, b)
	}
	if _, err := ParseBDF("0000:00:20.0"); err == nil {
		t.Errorf("ParseBDF accepted device 0x20")
	}
}

func TestFBAddrUnion(t *testing.T) {
	var a FBAddr
	bank := FBBankAddr{StackID: 1, BankGroup: 2, Bank: 3, Row: 4, Column: 5, Channel: 6, Subchannel: 7}
	a.SetBank(bank)
	if got := a.Bank(); got != bank {
		t.Errorf("Bank() = %+v, want %+v", got, bank)
	}
	a.SetVFPhy(FBVFPhyAddr{VFIdx: 3, Addr: 0x1000})
	if got := a.VFPhy(); got.VFIdx != 3 || got.Addr != 0x1000 {
		t.Errorf("VFPhy() = %+v", got)
	}
	a.SetSocPhy(0xabc000)
	if got := a.SocPhy(); got != 0xabc000 {
		t.Errorf("SocPhy() = %#x", got)
	}
}

func TestIoctlNumbers(t *testing.T) {
	// _IOWR('R', 0, 1760) and _IOWR('S', 0, 4108).
	if AMDGVIoctlCmd != 0xc6e05200 {
		t.Errorf("AMDGVIoctlCmd = %#x, want 0xc6e05200", AMDGVIoctlCmd)
	}
	if SMIIoctlCmd != 0xd00c5300 {
		t.Errorf("SMIIoctlCmd = %#x, want 0xd00c5300", SMIIoctlCmd)
	}
}
