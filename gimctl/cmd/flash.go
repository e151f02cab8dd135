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
	"gvisor.dev/gvisor/pkg/log"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimcoms"
)

// Flash implements subcommands.Command for the "flash" command.
type Flash struct {
	bdf      string
	copyOnly bool
}

// Name implements subcommands.Command.Name.
func (*Flash) Name() string {
	return "flash"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Flash) Synopsis() string {
	return "flash a VBIOS image onto a device"
}

// Usage implements subcommands.Command.Usage.
func (*Flash) Usage() string {
	return `flash --bdf <dddd:bb:dd.f> [--copy-only] <image> - flash a VBIOS image onto a device.

The image is handed to the backend in shared memory, flashing is started and
the backend's flash status is printed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (fl *Flash) SetFlags(f *flag.FlagSet) {
	f.StringVar(&fl.bdf, "bdf", "", "PCI address of the device.")
	f.BoolVar(&fl.copyOnly, "copy-only", false, "hand the image over without starting the flash.")
}

// Execute implements subcommands.Command.Execute.
func (fl *Flash) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	bdf, err := parseBDF(fl.bdf)
	if err != nil {
		return Errorf("%v", err)
	}
	image, err := os.ReadFile(f.Arg(0))
	if err != nil {
		return Errorf("reading image: %v", err)
	}

	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		log.Infof("Copying %d byte image to %v", len(image), bdf)
		if err := c.VBFlashCopy(h, bdf, image); err != nil {
			return fmt.Errorf("copying image: %w", err)
		}
		if fl.copyOnly {
			return nil
		}
		if err := c.VBFlashProcess(h, bdf); err != nil {
			return fmt.Errorf("starting flash: %w", err)
		}
		status, err := c.VBFlashStatus(h, bdf)
		if err != nil {
			return fmt.Errorf("reading flash status: %w", err)
		}
		fmt.Printf("%v: flash status %#x\n", bdf, status)
		return nil
	})
}
