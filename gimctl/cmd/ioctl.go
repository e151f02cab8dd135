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
	"os"
	"strings"

	"github.com/google/subcommands"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimcoms"
)

// Ioctl implements subcommands.Command for the "ioctl" command.
type Ioctl struct {
	bdf  string
	node string
}

// Name implements subcommands.Command.Name.
func (*Ioctl) Name() string {
	return "ioctl"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Ioctl) Synopsis() string {
	return "run an administrative passthrough command"
}

// Usage implements subcommands.Command.Usage.
func (*Ioctl) Usage() string {
	return `ioctl --bdf <dddd:bb:dd.f> --node <name> <command...> - run an administrative passthrough command.

The command words are joined with spaces and sent to the backend node; its
text output is printed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Ioctl) SetFlags(f *flag.FlagSet) {
	f.StringVar(&i.bdf, "bdf", "", "PCI address of the device.")
	f.StringVar(&i.node, "node", "", "backend node the command is sent to.")
}

// Execute implements subcommands.Command.Execute.
func (i *Ioctl) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 || i.node == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	bdf, err := parseBDF(i.bdf)
	if err != nil {
		return Errorf("%v", err)
	}
	command := strings.Join(f.Args(), " ")
	if len(i.node) >= gim.CommonIoctlNodeSize || len(command) >= gim.CommonIoctlCmdSize {
		return Errorf("node or command too long, limits are %d and %d bytes", gim.CommonIoctlNodeSize-1, gim.CommonIoctlCmdSize-1)
	}

	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		out, err := c.CommonIoctl(h, bdf, i.node, command)
		if err != nil {
			return err
		}
		if _, err := os.Stdout.Write(out); err != nil {
			return err
		}
		if len(out) > 0 && out[len(out)-1] != '\n' {
			fmt.Println()
		}
		return nil
	})
}

// Trap implements subcommands.Command for the "trap" command.
type Trap struct {
	bdf  string
	stop bool
}

// Name implements subcommands.Command.Name.
func (*Trap) Name() string {
	return "trap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Trap) Synopsis() string {
	return "wait for a GPU hang on a device"
}

// Usage implements subcommands.Command.Usage.
func (*Trap) Usage() string {
	return `trap --bdf <dddd:bb:dd.f> [--stop] - wait for a GPU hang on a device.

The hang trap is armed and the command blocks until the backend reports an
event. The dump is then acknowledged so the device can recover. With --stop,
the trap is disarmed instead.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (t *Trap) SetFlags(f *flag.FlagSet) {
	f.StringVar(&t.bdf, "bdf", "", "PCI address of the device.")
	f.BoolVar(&t.stop, "stop", false, "disarm the trap.")
}

type trapView struct {
	BDF       string `json:"bdf"`
	VF        uint32 `json:"vf"`
	Event     string `json:"event"`
	ErrorCode uint32 `json:"error_code"`
}

// Execute implements subcommands.Command.Execute.
func (t *Trap) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	bdf, err := parseBDF(t.bdf)
	if err != nil {
		return Errorf("%v", err)
	}

	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		if t.stop {
			return c.StopTrapGPUHang(h, bdf)
		}
		ev, err := c.StartTrapGPUHang(h, bdf)
		if err != nil {
			return err
		}
		v := trapView{BDF: ev.DBSF.String(), VF: ev.VFIdx, Event: ev.Event.String(), ErrorCode: ev.ErrorCode}
		tbl := &table{header: []string{"BDF", "VF", "EVENT", "ERROR"}, value: v}
		tbl.add(v.BDF, v.VF, v.Event, v.ErrorCode)
		if err := tbl.print(conf, os.Stdout); err != nil {
			return err
		}
		if ev.Event == gim.TrapEventExit {
			return nil
		}
		return c.NotifyDumpDone(h, bdf)
	})
}
