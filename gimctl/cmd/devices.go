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

	"github.com/google/subcommands"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimcoms"
)

// Devices implements subcommands.Command for the "devices" command.
type Devices struct{}

// Name implements subcommands.Command.Name.
func (*Devices) Name() string {
	return "devices"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Devices) Synopsis() string {
	return "list the GPUs managed by the backend"
}

// Usage implements subcommands.Command.Usage.
func (*Devices) Usage() string {
	return `devices - list the GPUs managed by the backend.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Devices) SetFlags(*flag.FlagSet) {}

// deviceView is the JSON form of gim.DevInfo.
type deviceView struct {
	Handle       string `json:"handle"`
	BDF          string `json:"bdf"`
	ASIC         string `json:"asic"`
	VFs          uint32 `json:"vfs"`
	ECCSupported bool   `json:"ecc_supported"`
	ECCEnabled   bool   `json:"ecc_enabled"`
}

func devicesTable(devs []gim.DevInfo) *table {
	views := make([]deviceView, 0, len(devs))
	t := &table{header: []string{"HANDLE", "BDF", "ASIC", "VFS", "ECC"}}
	for _, d := range devs {
		v := deviceView{
			Handle:       fmt.Sprintf("%#x", d.Handle),
			BDF:          d.BDF.String(),
			ASIC:         d.ASICType.String(),
			VFs:          d.VFNum,
			ECCSupported: d.ECCSupported != 0,
			ECCEnabled:   d.ECCEnabled != 0,
		}
		views = append(views, v)
		ecc := "unsupported"
		if v.ECCSupported {
			ecc = "disabled"
			if v.ECCEnabled {
				ecc = "enabled"
			}
		}
		t.add(v.Handle, v.BDF, v.ASIC, v.VFs, ecc)
	}
	t.value = views
	return t
}

// Execute implements subcommands.Command.Execute.
func (*Devices) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		devs, err := c.DevicesInfo(h)
		if err != nil {
			return err
		}
		return devicesTable(devs).print(conf, os.Stdout)
	})
}
