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

// Backend implements subcommands.Command for the "backend" command.
type Backend struct{}

// Name implements subcommands.Command.Name.
func (*Backend) Name() string {
	return "backend"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Backend) Synopsis() string {
	return "show which backend serves commands and its interface version"
}

// Usage implements subcommands.Command.Usage.
func (*Backend) Usage() string {
	return `backend - show which backend serves commands and its interface version.

The daemon is used when its process is running, the kernel driver when its
module is loaded.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Backend) SetFlags(*flag.FlagSet) {}

type backendView struct {
	Kind      string            `json:"kind"`
	Interface string            `json:"interface,omitempty"`
	Access    map[string]string `json:"access"`
}

// Execute implements subcommands.Command.Execute.
func (*Backend) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	c, err := newClient(conf)
	if err != nil {
		return Errorf("%v", err)
	}

	v := backendView{
		Kind:   c.Kind().String(),
		Access: make(map[string]string),
	}
	t := &table{header: []string{"CLIENT", "ACCESS"}}
	for _, ct := range []gim.ClientType{gim.ClientAMDGV, gim.ClientSMI} {
		status := "ok"
		if err := c.Access(ct); err != nil {
			status = err.Error()
		}
		v.Access[ct.String()] = status
		t.add(ct, status)
	}
	if c.Kind() != gimcoms.Unavailable {
		err := runWithHandle(c, gim.ClientAMDGV, func(c *gimcoms.Client, h gimcoms.Handle) error {
			major, minor, err := c.QueryInterfaceVersion(h)
			if err != nil {
				return err
			}
			v.Interface = fmt.Sprintf("%d.%d", major, minor)
			return nil
		})
		if err != nil {
			return Errorf("querying the interface version: %v", err)
		}
	}
	t.value = v

	if !useJSON(conf, os.Stdout) {
		fmt.Printf("backend: %s\n", v.Kind)
		if v.Interface != "" {
			fmt.Printf("interface: %s\n", v.Interface)
		}
	}
	if err := t.print(conf, os.Stdout); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}
