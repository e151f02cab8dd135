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
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
)

// Commands implements subcommands.Command for the "commands" command.
type Commands struct {
	client string
}

// Name implements subcommands.Command.Name.
func (*Commands) Name() string {
	return "commands"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Commands) Synopsis() string {
	return "list the commands of the wire protocol"
}

// Usage implements subcommands.Command.Usage.
func (*Commands) Usage() string {
	return `commands [--client amdgv|smi] - list the commands of the wire protocol.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Commands) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.client, "client", "", "only list commands of this client type.")
}

type commandView struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Client   string `json:"client"`
	Family   string `json:"family,omitempty"`
	Flags    string `json:"flags"`
	Request  int    `json:"request_size"`
	Response int    `json:"response_size"`
}

func commandsTable(client string) *table {
	views := []commandView{}
	t := &table{header: []string{"CODE", "NAME", "CLIENT", "FAMILY", "FLAGS", "REQ", "RSP"}}
	for _, info := range gim.Commands() {
		if client != "" && info.Client.String() != client {
			continue
		}
		v := commandView{
			Code:     fmt.Sprintf("%#08x", info.Code),
			Name:     info.Name,
			Client:   info.Client.String(),
			Flags:    info.Flags.String(),
			Request:  info.RequestSize,
			Response: info.ResponseSize,
		}
		if info.Client == gim.ClientAMDGV {
			v.Family = info.Family.String()
		}
		views = append(views, v)
		t.add(v.Code, v.Name, v.Client, v.Family, v.Flags, v.Request, v.Response)
	}
	t.value = views
	return t
}

func (c *Commands) run(conf *config.Config, w io.Writer) error {
	return commandsTable(c.client).print(conf, w)
}

// Execute implements subcommands.Command.Execute.
func (c *Commands) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := c.run(conf, os.Stdout); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}
