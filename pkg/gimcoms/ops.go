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
	"fmt"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/shm"
)

// The helpers below build one AMDGV command, execute it on h and decode its
// output. A failure response is returned as a *ProtocolError.

// run executes code on h. in, if not nil, is marshalled into the input
// region. out, if not nil, is marshalled into the output region before the
// call, so that any ShmInfo it holds reaches the backend, and decoded from
// it afterwards.
func (c *Client) run(h Handle, code uint32, in, out gim.Marshallable) error {
	cmd := gim.NewCmd(code)
	if in != nil {
		cmd.SetInput(in)
	}
	if out != nil {
		cmd.SetOutput(out)
	}
	if err := c.Execute(h, cmd); err != nil {
		return err
	}
	if err := CheckResponse(cmd); err != nil {
		return err
	}
	if cmd.Response == gim.ResponseSuccessExceedBuffer {
		log.Infof("gimcoms: %#x: backend truncated its output", code)
	}
	if out != nil {
		cmd.GetOutput(out)
	}
	return nil
}

func devHandle(dev uint64) *gim.DevHandle {
	return &gim.DevHandle{Handle: dev}
}

func devIndex(dev uint64, idx uint32) *gim.DevIndex {
	return &gim.DevIndex{Device: gim.DevHandle{Handle: dev}, Index: idx}
}

// QueryInterfaceVersion returns the backend's command interface version.
func (c *Client) QueryInterfaceVersion(h Handle) (major, minor uint8, err error) {
	var rsp gim.QueryInterfaceVersionRsp
	if err := c.run(h, gim.CmdQueryInterfaceVersion, &gim.QueryInterfaceVersionReq{}, &rsp); err != nil {
		return 0, 0, err
	}
	return rsp.Major, rsp.Minor, nil
}

// DevicesInfo returns the devices managed by the backend.
func (c *Client) DevicesInfo(h Handle) ([]gim.DevInfo, error) {
	var rsp gim.DevicesInfo
	if err := c.run(h, gim.CmdGetDevicesInfo, nil, &rsp); err != nil {
		return nil, err
	}
	return rsp.Devices(), nil
}

// BlockECCStatus returns the error counts of one RAS block.
func (c *Client) BlockECCStatus(h Handle, dev uint64, block gim.RASBlock, subblock uint32) (gim.ECCCount, error) {
	req := gim.DevBlockInfo{
		Dev:        gim.DevHandle{Handle: dev},
		Block:      block,
		SubblockID: subblock,
	}
	var rsp gim.ECCCount
	err := c.run(h, gim.CmdGetBlockECCStatus, &req, &rsp)
	return rsp, err
}

// InjectError injects a RAS error.
func (c *Client) InjectError(h Handle, req *gim.RASInjectError) error {
	return c.run(h, gim.CmdRASInjectError, req, nil)
}

// EnableRAS enables error injection on a device.
func (c *Client) EnableRAS(h Handle, req *gim.RASEnableECC) error {
	return c.run(h, gim.CmdRASEnable, req, nil)
}

// BadPages returns one group of retired pages.
func (c *Client) BadPages(h Handle, dev uint64, group uint32) (*gim.BadPagesInfo, error) {
	var rsp gim.BadPagesInfo
	if err := c.run(h, gim.CmdGetBadPages, devIndex(dev, group), &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// ClearBadPageInfo clears a device's retired page records.
func (c *Client) ClearBadPageInfo(h Handle, dev uint64) error {
	return c.run(h, gim.CmdClearBadPageInfo, devHandle(dev), nil)
}

// GPUReset resets a device.
func (c *Client) GPUReset(h Handle, dev uint64) error {
	return c.run(h, gim.CmdGPUReset, devHandle(dev), nil)
}

// FBPFRegions returns the framebuffer regions of a physical function.
func (c *Client) FBPFRegions(h Handle, dev uint64) (*gim.FBRegions, error) {
	var rsp gim.FBRegions
	if err := c.run(h, gim.CmdGetFBPFRegions, devHandle(dev), &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// FBVFRegions returns the framebuffer regions of virtual function vf.
func (c *Client) FBVFRegions(h Handle, dev uint64, vf uint32) (*gim.FBRegions, error) {
	var rsp gim.FBRegions
	if err := c.run(h, gim.CmdGetFBVFRegions, devIndex(dev, vf), &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// VFBDF returns the PCI address of virtual function vf.
func (c *Client) VFBDF(h Handle, dev uint64, vf uint32) (gim.BDF, error) {
	var rsp gim.BDFArg
	if err := c.run(h, gim.CmdGetVFBDF, devIndex(dev, vf), &rsp); err != nil {
		return 0, err
	}
	return rsp.BDF, nil
}

// RASTALoad loads a RAS trusted application.
func (c *Client) RASTALoad(h Handle, req *gim.RASTALoadReq) (*gim.RASTALoadRsp, error) {
	var rsp gim.RASTALoadRsp
	if err := c.run(h, gim.CmdRASTALoad, req, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// RASTAUnload unloads the RAS trusted application of session.
func (c *Client) RASTAUnload(h Handle, dev, session uint64) error {
	req := gim.RASTAUnloadReq{
		Dev:       gim.DevHandle{Handle: dev},
		SessionID: session,
	}
	return c.run(h, gim.CmdRASTAUnload, &req, nil)
}

// SafeFBAddressRanges returns the framebuffer ranges safe for error
// injection.
func (c *Client) SafeFBAddressRanges(h Handle, dev uint64) (*gim.SafeFBAddressRanges, error) {
	var rsp gim.SafeFBAddressRanges
	if err := c.run(h, gim.CmdRASGetSafeFBAddressRanges, devHandle(dev), &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// TranslateFBAddress converts a framebuffer address between representations.
func (c *Client) TranslateFBAddress(h Handle, req *gim.TranslateFBAddressReq) (gim.FBAddr, error) {
	var rsp gim.FBAddr
	err := c.run(h, gim.CmdTranslateFBAddress, req, &rsp)
	return rsp, err
}

// ResetAllErrorCounts clears every error counter of a device.
func (c *Client) ResetAllErrorCounts(h Handle, dev uint64) error {
	return c.run(h, gim.CmdRASResetAllErrorCounts, devHandle(dev), nil)
}

// CommonIoctl runs an administrative passthrough command and returns its
// text output.
func (c *Client) CommonIoctl(h Handle, bdf gim.BDF, node, command string) ([]byte, error) {
	var rsp gim.CommonIoctlOut
	if err := c.run(h, gim.CmdCommonIoctl, gim.NewCommonIoctlIn(bdf, node, command), &rsp); err != nil {
		return nil, err
	}
	return rsp.Bytes(), nil
}

// VBFlashCopy hands a VBIOS image to the device at bdf.
func (c *Client) VBFlashCopy(h Handle, bdf gim.BDF, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("empty VBIOS image")
	}
	buf, err := shm.NewBuffer(len(image))
	if err != nil {
		return err
	}
	defer buf.Release()
	copy(buf.Bytes(), image)

	req := gim.VBFlashInfo{
		Shm: buf.Info(len(image)),
		BDF: bdf,
	}
	return c.run(h, gim.CmdPSPVBFlashCopy, &req, nil)
}

// VBFlashProcess starts flashing the image copied by VBFlashCopy.
func (c *Client) VBFlashProcess(h Handle, bdf gim.BDF) error {
	return c.run(h, gim.CmdPSPVBFlashProcess, &gim.BDFArg{BDF: bdf}, nil)
}

// VBFlashStatus returns the progress of a flash started by VBFlashProcess.
func (c *Client) VBFlashStatus(h Handle, bdf gim.BDF) (uint32, error) {
	var rsp gim.U32
	if err := c.run(h, gim.CmdPSPVBFlashStatus, &gim.BDFArg{BDF: bdf}, &rsp); err != nil {
		return 0, err
	}
	return uint32(rsp), nil
}

// StartTrapGPUHang arms the GPU hang trap of a device and waits for an
// event.
func (c *Client) StartTrapGPUHang(h Handle, bdf gim.BDF) (*gim.TrapGPUHangOut, error) {
	var rsp gim.TrapGPUHangOut
	if err := c.run(h, gim.CmdStartTrapGPUHang, &gim.DCoreIn{DBSF: bdf}, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// NotifyDumpDone tells the backend that the dump of a trapped hang has been
// collected.
func (c *Client) NotifyDumpDone(h Handle, bdf gim.BDF) error {
	return c.run(h, gim.CmdNotifyDumpDone, &gim.DCoreIn{DBSF: bdf}, nil)
}

// StopTrapGPUHang disarms the GPU hang trap of a device.
func (c *Client) StopTrapGPUHang(h Handle, bdf gim.BDF) error {
	return c.run(h, gim.CmdStopTrapGPUHang, &gim.DCoreIn{DBSF: bdf}, nil)
}

// DiagData retrieves the diagnostic dump of a device into dst and returns
// the dump's header. At most dst.Len() bytes are copied.
func (c *Client) DiagData(h Handle, bdf gim.BDF, dst *shm.Buffer) (*gim.DiagDataOut, error) {
	rsp := gim.DiagDataOut{Shm: dst.Info(dst.Len())}
	if err := c.run(h, gim.CmdGetDiagData, &gim.DCoreIn{DBSF: bdf}, &rsp); err != nil {
		return nil, err
	}
	return &rsp, nil
}

// FFBMData retrieves the FFBM table of a device into dst and returns the
// size the backend reported.
func (c *Client) FFBMData(h Handle, bdf gim.BDF, dst *shm.Buffer) (int, error) {
	rsp := gim.FFBMDataOut{Shm: dst.Info(dst.Len())}
	if err := c.run(h, gim.CmdGetFFBMData, &gim.DCoreIn{DBSF: bdf}, &rsp); err != nil {
		return 0, err
	}
	return int(rsp.Shm.BufferSize), nil
}
