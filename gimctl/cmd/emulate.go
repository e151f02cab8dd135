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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os/signal"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
	"gvisor.dev/gvisor/pkg/unet"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimserver"
)

// Emulate implements subcommands.Command for the "emulate" command.
type Emulate struct {
	devices int
}

// Name implements subcommands.Command.Name.
func (*Emulate) Name() string {
	return "emulate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Emulate) Synopsis() string {
	return "serve an emulated daemon for testing clients"
}

// Usage implements subcommands.Command.Usage.
func (*Emulate) Usage() string {
	return `emulate [--devices N] - serve an emulated daemon for testing clients.

The emulator listens on the daemon socket and answers commands for N
synthetic devices until interrupted. Clients only select it if a process
named like the daemon is running, so point them at it with --daemon-socket
and a matching options file.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *Emulate) SetFlags(f *flag.FlagSet) {
	f.IntVar(&e.devices, "devices", 2, "number of emulated devices.")
}

// Execute implements subcommands.Command.Execute.
func (e *Emulate) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if e.devices < 0 || e.devices > gim.MaxGPUNum {
		return Errorf("--devices must be between 0 and %d", gim.MaxGPUNum)
	}
	conf := args[0].(*config.Config)
	opts, err := conf.Options()
	if err != nil {
		return Errorf("%v", err)
	}

	ss, err := unet.BindAndListen(opts.DaemonSocket, false)
	if err != nil {
		return Errorf("listening on %q: %v", opts.DaemonSocket, err)
	}
	srv := gimserver.NewServer(newEmulator(e.devices))
	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		ss.Close()
	}()

	log.Infof("Emulating %d device(s) on %q", e.devices, opts.DaemonSocket)
	err = srv.Serve(ss)
	srv.Stop()
	if ctx.Err() == nil {
		return Errorf("serving: %v", err)
	}
	log.Infof("Emulator stopped")
	return subcommands.ExitSuccess
}

// emulator answers commands for a fixed set of synthetic devices.
type emulator struct {
	devices []gim.DevInfo

	mu sync.Mutex

	// ecc holds injected error counts by device handle and block.
	ecc map[uint64]map[gim.RASBlock]gim.ECCCount

	// images holds copied VBIOS images by device.
	images map[gim.BDF][]byte

	// flashed holds the flash status by device.
	flashed map[gim.BDF]uint32
}

// Flash status values reported by the emulator.
const (
	flashIdle = 0
	flashDone = 0x100
)

func newEmulator(n int) *emulator {
	e := &emulator{
		ecc:     make(map[uint64]map[gim.RASBlock]gim.ECCCount),
		images:  make(map[gim.BDF][]byte),
		flashed: make(map[gim.BDF]uint32),
	}
	for i := 0; i < n; i++ {
		e.devices = append(e.devices, gim.DevInfo{
			Handle:       uint64(i+1) << 12,
			BDF:          gim.NewBDF(0, uint32(0x83+i), 0, 0),
			ECCEnabled:   1,
			ECCSupported: 1 << gim.ECCSupportMem,
			VFNum:        8,
			ASICType:     gim.ASICMI300X,
		})
	}
	return e
}

func (e *emulator) byHandle(h uint64) (gim.DevInfo, bool) {
	for _, d := range e.devices {
		if d.Handle == h {
			return d, true
		}
	}
	return gim.DevInfo{}, false
}

func (e *emulator) byBDF(bdf gim.BDF) (gim.DevInfo, bool) {
	for _, d := range e.devices {
		if d.BDF == bdf {
			return d, true
		}
	}
	return gim.DevInfo{}, false
}

// HandleCommand implements gimserver.Handler.HandleCommand.
func (e *emulator) HandleCommand(r *gimserver.Request) {
	switch c := r.Cmd.(type) {
	case *gim.SMICmd:
		if c.ID == gim.SMIHandshake {
			c.Status = gim.SMIStatusSuccess
		} else {
			c.Status = gim.SMIStatusNotSupported
		}
	case *gim.Cmd:
		c.Response = e.handleAMDGV(r, c)
	}
}

func (e *emulator) handleAMDGV(r *gimserver.Request, c *gim.Cmd) gim.Response {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch c.ID {
	case gim.CmdQueryInterfaceVersion:
		c.SetOutput(&gim.QueryInterfaceVersionRsp{Major: gim.InterfaceMajorVersion, Minor: gim.InterfaceMinorVersion})

	case gim.CmdGetDevicesInfo:
		info := gim.DevicesInfo{DevNum: uint8(len(e.devices))}
		copy(info.Devs[:], e.devices)
		c.SetOutput(&info)

	case gim.CmdGetBlockECCStatus:
		var in gim.DevBlockInfo
		c.GetInput(&in)
		if _, ok := e.byHandle(in.Dev.Handle); !ok {
			return gim.ResponseInvalidInput
		}
		count := e.ecc[in.Dev.Handle][in.Block]
		c.SetOutput(&count)

	case gim.CmdRASInjectError:
		var in gim.RASInjectError
		c.GetInput(&in)
		h := in.Device.Dev.Handle
		if _, ok := e.byHandle(h); !ok || in.Device.Block >= gim.RASBlockMax {
			return gim.ResponseInvalidInput
		}
		if e.ecc[h] == nil {
			e.ecc[h] = make(map[gim.RASBlock]gim.ECCCount)
		}
		count := e.ecc[h][in.Device.Block]
		if in.ErrorType&gim.RASErrorMultiUncorrectable != 0 {
			count.Uncorrectable++
		} else {
			count.Correctable++
		}
		e.ecc[h][in.Device.Block] = count

	case gim.CmdRASResetAllErrorCounts, gim.CmdGPUReset, gim.CmdClearBadPageInfo:
		var in gim.DevHandle
		c.GetInput(&in)
		if _, ok := e.byHandle(in.Handle); !ok {
			return gim.ResponseInvalidInput
		}
		if c.ID != gim.CmdClearBadPageInfo {
			delete(e.ecc, in.Handle)
		}

	case gim.CmdGetBadPages:
		var in gim.DevIndex
		c.GetInput(&in)
		if _, ok := e.byHandle(in.Device.Handle); !ok {
			return gim.ResponseInvalidInput
		}
		c.SetOutput(&gim.BadPagesInfo{GroupIndex: in.Index})

	case gim.CmdPSPVBFlashCopy:
		var in gim.VBFlashInfo
		c.GetInput(&in)
		if _, ok := e.byBDF(in.BDF); !ok || len(r.Outbound) == 0 {
			return gim.ResponseInvalidInput
		}
		e.images[in.BDF] = r.Outbound
		e.flashed[in.BDF] = flashIdle

	case gim.CmdPSPVBFlashProcess:
		var in gim.BDFArg
		c.GetInput(&in)
		if _, ok := e.images[in.BDF]; !ok {
			return gim.ResponseInvalidInput
		}
		e.flashed[in.BDF] = flashDone

	case gim.CmdPSPVBFlashStatus:
		var in gim.BDFArg
		c.GetInput(&in)
		status := gim.U32(e.flashed[in.BDF])
		c.SetOutput(&status)

	case gim.CmdCommonIoctl:
		var in gim.CommonIoctlIn
		c.GetInput(&in)
		var out gim.CommonIoctlOut
		text := fmt.Sprintf("%v %s: %s\n", in.BDF, cString(in.Node[:]), cString(in.Cmd[:]))
		out.Size = uint32(copy(out.Output[:], text))
		c.SetOutput(&out)

	case gim.CmdGetDiagData, gim.CmdGetFFBMData:
		var in gim.DCoreIn
		c.GetInput(&in)
		d, ok := e.byBDF(in.DBSF)
		if !ok {
			return gim.ResponseInvalidInput
		}
		r.Inbound = e.dump(d)
		if c.ID == gim.CmdGetDiagData {
			c.SetOutput(&gim.DiagDataOut{DataSize: uint32(len(r.Inbound))})
		} else {
			c.SetOutput(&gim.FFBMDataOut{})
		}

	case gim.CmdStartTrapGPUHang:
		var in gim.DCoreIn
		c.GetInput(&in)
		if _, ok := e.byBDF(in.DBSF); !ok {
			return gim.ResponseInvalidInput
		}
		// Emulated devices never hang.
		c.SetOutput(&gim.TrapGPUHangOut{DBSF: in.DBSF, Event: gim.TrapEventExit})
	}
	return gim.ResponseSuccess
}

// dump returns the emulated diagnostic data of d.
func (e *emulator) dump(d gim.DevInfo) []byte {
	s := fmt.Sprintf("device %v handle %#x asic %v vfs %d\n", d.BDF, d.Handle, d.ASICType, d.VFNum)
	for b, count := range e.ecc[d.Handle] {
		s += fmt.Sprintf("%v: ce %d ue %d\n", b, count.Correctable, count.Uncorrectable)
	}
	return []byte(s)
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
