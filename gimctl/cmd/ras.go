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

// deviceFlag registers the --dev flag shared by the RAS commands.
func deviceFlag(f *flag.FlagSet, dev *uint64) {
	f.Uint64Var(dev, "dev", 0, "device handle, as listed by 'gimctl devices'.")
}

// ECC implements subcommands.Command for the "ecc" command.
type ECC struct {
	dev      uint64
	block    string
	subblock uint
}

// Name implements subcommands.Command.Name.
func (*ECC) Name() string {
	return "ecc"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*ECC) Synopsis() string {
	return "show the ECC error counts of a device"
}

// Usage implements subcommands.Command.Usage.
func (*ECC) Usage() string {
	return `ecc --dev <handle> [--block <name>] - show the ECC error counts of a device.

Without --block, every RAS block is listed.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (e *ECC) SetFlags(f *flag.FlagSet) {
	deviceFlag(f, &e.dev)
	f.StringVar(&e.block, "block", "", "RAS block, e.g. umc or gfx. Empty means all blocks.")
	f.UintVar(&e.subblock, "subblock", 0, "sub-block within --block.")
}

type eccView struct {
	Block         string `json:"block"`
	Correctable   uint32 `json:"correctable"`
	Uncorrectable uint32 `json:"uncorrectable"`
}

// Execute implements subcommands.Command.Execute.
func (e *ECC) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	var blocks []gim.RASBlock
	if e.block == "" {
		for b := gim.RASBlock(0); b < gim.RASBlockMax; b++ {
			blocks = append(blocks, b)
		}
	} else {
		b, err := gim.ParseRASBlock(e.block)
		if err != nil {
			return Errorf("%v", err)
		}
		blocks = append(blocks, b)
	}

	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		var views []eccView
		t := &table{header: []string{"BLOCK", "CORRECTABLE", "UNCORRECTABLE"}}
		for _, b := range blocks {
			count, err := c.BlockECCStatus(h, e.dev, b, uint32(e.subblock))
			if err != nil {
				return fmt.Errorf("block %v: %w", b, err)
			}
			views = append(views, eccView{Block: b.String(), Correctable: count.Correctable, Uncorrectable: count.Uncorrectable})
			t.add(b, count.Correctable, count.Uncorrectable)
		}
		t.value = views
		return t.print(conf, os.Stdout)
	})
}

// Inject implements subcommands.Command for the "inject" command.
type Inject struct {
	dev       uint64
	block     string
	subblock  uint
	address   uint64
	errorType uint
	method    uint
	vf        uint
	chiplet   uint
}

// Name implements subcommands.Command.Name.
func (*Inject) Name() string {
	return "inject"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Inject) Synopsis() string {
	return "inject a RAS error into a device"
}

// Usage implements subcommands.Command.Usage.
func (*Inject) Usage() string {
	return `inject --dev <handle> --block <name> [flags] - inject a RAS error into a device.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Inject) SetFlags(f *flag.FlagSet) {
	deviceFlag(f, &i.dev)
	f.StringVar(&i.block, "block", "umc", "RAS block to inject into.")
	f.UintVar(&i.subblock, "subblock", 0, "sub-block within --block.")
	f.Uint64Var(&i.address, "address", 0, "framebuffer address to inject at.")
	f.UintVar(&i.errorType, "type", uint(gim.RASErrorSingleCorrectable), "RAS error type: 1 parity, 2 correctable, 4 uncorrectable, 8 poison.")
	f.UintVar(&i.method, "method", 0, "injection method.")
	f.UintVar(&i.vf, "vf", 31, "VF index, 31 for the PF.")
	f.UintVar(&i.chiplet, "chiplet", 0, "chiplet index.")
}

// Execute implements subcommands.Command.Execute.
func (i *Inject) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	block, err := gim.ParseRASBlock(i.block)
	if err != nil {
		return Errorf("%v", err)
	}
	req := gim.RASInjectError{
		Device: gim.DevBlockInfo{
			Dev:        gim.DevHandle{Handle: i.dev},
			Block:      block,
			SubblockID: uint32(i.subblock),
		},
		Address:   i.address,
		ErrorType: gim.RASErrorType(i.errorType),
		Chiplet:   uint32(i.chiplet),
	}
	req.SetMethod(uint32(i.method), uint32(i.vf))
	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		return c.InjectError(h, &req)
	})
}

// BadPages implements subcommands.Command for the "bad-pages" command.
type BadPages struct {
	dev uint64
}

// Name implements subcommands.Command.Name.
func (*BadPages) Name() string {
	return "bad-pages"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*BadPages) Synopsis() string {
	return "list the retired pages of a device"
}

// Usage implements subcommands.Command.Usage.
func (*BadPages) Usage() string {
	return `bad-pages --dev <handle> - list the retired pages of a device.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *BadPages) SetFlags(f *flag.FlagSet) {
	deviceFlag(f, &b.dev)
}

type badPageView struct {
	RetiredPage string `json:"retired_page"`
	Address     string `json:"address"`
	Timestamp   uint64 `json:"timestamp"`
	Bank        uint8  `json:"bank"`
	Channel     uint8  `json:"channel"`
	UMC         uint8  `json:"umc"`
}

// Execute implements subcommands.Command.Execute.
func (b *BadPages) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		views := []badPageView{}
		t := &table{header: []string{"PAGE", "ADDRESS", "TIMESTAMP", "BANK", "CHANNEL", "UMC"}}
		// Groups are fetched until every record has been seen.
		for group := uint32(0); ; group++ {
			info, err := c.BadPages(h, b.dev, group)
			if err != nil {
				return err
			}
			n := int(info.InGroup)
			if n > len(info.Records) {
				n = len(info.Records)
			}
			for _, r := range info.Records[:n] {
				v := badPageView{
					RetiredPage: fmt.Sprintf("%#x", r.RetiredPage),
					Address:     fmt.Sprintf("%#x", r.Address),
					Timestamp:   r.Timestamp,
					Bank:        r.Bank,
					Channel:     r.MemChannel,
					UMC:         r.MCUMCID,
				}
				views = append(views, v)
				t.add(v.RetiredPage, v.Address, v.Timestamp, v.Bank, v.Channel, v.UMC)
			}
			if n == 0 || len(views) >= int(info.TotalCount) {
				break
			}
		}
		t.value = views
		return t.print(conf, os.Stdout)
	})
}

// Reset implements subcommands.Command for the "reset" command.
type Reset struct {
	dev    uint64
	counts bool
}

// Name implements subcommands.Command.Name.
func (*Reset) Name() string {
	return "reset"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Reset) Synopsis() string {
	return "reset a device, or only its error counters"
}

// Usage implements subcommands.Command.Usage.
func (*Reset) Usage() string {
	return `reset --dev <handle> [--counts] - reset a device, or only its error counters.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Reset) SetFlags(f *flag.FlagSet) {
	deviceFlag(f, &r.dev)
	f.BoolVar(&r.counts, "counts", false, "only clear the device's error counters.")
}

// Execute implements subcommands.Command.Execute.
func (r *Reset) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	return withHandle(conf, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
		if r.counts {
			return c.ResetAllErrorCounts(h, r.dev)
		}
		return c.GPUReset(h, r.dev)
	})
}
