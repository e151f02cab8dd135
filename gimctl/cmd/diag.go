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
	"path/filepath"
	"time"

	"github.com/google/subcommands"
	"gvisor.dev/gvisor/pkg/cleanup"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimcoms"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/shm"
)

// Diag implements subcommands.Command for the "diag" command.
type Diag struct {
	bdf  string
	dir  string
	size int
	ffbm bool
}

// Name implements subcommands.Command.Name.
func (*Diag) Name() string {
	return "diag"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Diag) Synopsis() string {
	return "save the diagnostic dump of a device"
}

// Usage implements subcommands.Command.Usage.
func (*Diag) Usage() string {
	return `diag --bdf <dddd:bb:dd.f> [--dir <path>] [--ffbm] - save the diagnostic dump of a device.

The dump is written to a file named after the device and the current time.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Diag) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.bdf, "bdf", "", "PCI address of the device.")
	f.StringVar(&d.dir, "dir", gim.DiagDataDefaultPath, "directory the dump is written to.")
	f.IntVar(&d.size, "size", gim.MaxDiagDataBufferSize, "size of the receive buffer in bytes. Larger dumps are truncated.")
	f.BoolVar(&d.ffbm, "ffbm", false, "save the FFBM table instead of the diagnostic data.")
}

// Execute implements subcommands.Command.Execute.
func (d *Diag) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	bdf, err := parseBDF(d.bdf)
	if err != nil {
		return Errorf("%v", err)
	}
	if d.size <= 0 {
		return Errorf("--size must be positive, got %d", d.size)
	}

	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		buf, err := shm.NewBuffer(d.size)
		if err != nil {
			return err
		}
		defer buf.Release()

		kind := "diag"
		var n int
		if d.ffbm {
			kind = "ffbm"
			if n, err = c.FFBMData(h, bdf, buf); err != nil {
				return err
			}
		} else {
			out, err := c.DiagData(h, bdf, buf)
			if err != nil {
				return err
			}
			if out.DataSize == 0 {
				return fmt.Errorf("%v has no diagnostic data, error code %d", bdf, out.ErrorCode)
			}
			n = int(out.Shm.BufferSize)
			if int(out.DataSize) > n {
				log.Warningf("Dump of %v truncated from %d to %d bytes", bdf, out.DataSize, n)
			}
		}

		data := received(buf, n, bdf)
		path, err := writeDump(d.dir, kind, bdf, data)
		if err != nil {
			return err
		}
		fmt.Printf("%v: wrote %d bytes to %s\n", bdf, len(data), path)
		return nil
	})
}

// received returns the n bytes the backend reported in buf, clamped to the
// buffer.
func received(buf *shm.Buffer, n int, bdf gim.BDF) []byte {
	if n > buf.Len() {
		log.Warningf("Backend reported %d bytes for %v, more than the %d byte buffer", n, bdf, buf.Len())
		n = buf.Len()
	}
	return buf.Bytes()[:n]
}

// writeDump writes data to a new file in dir and returns its path.
func writeDump(dir, kind string, bdf gim.BDF, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%04x_%02x_%02x_%x_%s.bin", kind, bdf.Domain(), bdf.Bus(), bdf.Device(), bdf.Function(), time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	cu := cleanup.Make(func() {
		f.Close()
		os.Remove(path)
	})
	defer cu.Clean()

	if _, err := f.Write(data); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	cu.Release()
	return path, nil
}
