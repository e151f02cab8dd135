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
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
)

// Options configures where a Client looks for its backends. The zero value
// of any field selects its default.
type Options struct {
	// DaemonSocket is the daemon's socket address. A leading '@' selects
	// the abstract namespace.
	DaemonSocket string `toml:"daemon_socket"`

	// DaemonProcess is the process name that marks the daemon as running.
	DaemonProcess string `toml:"daemon_process"`

	// KernelModule is the module name that marks the kernel driver as
	// loaded.
	KernelModule string `toml:"kernel_module"`

	// SMIDevice and AMDGVDevice are the kernel driver's device nodes.
	SMIDevice   string `toml:"smi_device"`
	AMDGVDevice string `toml:"amdgv_device"`

	// ProcRoot is the procfs mount point probed for the backends.
	ProcRoot string `toml:"proc_root"`
}

// DefaultOptions returns the well-known backend endpoints.
func DefaultOptions() Options {
	return Options{
		DaemonSocket:  gim.DaemonSocket,
		DaemonProcess: gim.DaemonProcess,
		KernelModule:  gim.KernelModule,
		SMIDevice:     gim.SMIDevicePath,
		AMDGVDevice:   gim.AMDGVDevicePath,
		ProcRoot:      "/proc",
	}
}

// withDefaults fills empty fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DaemonSocket == "" {
		o.DaemonSocket = d.DaemonSocket
	}
	if o.DaemonProcess == "" {
		o.DaemonProcess = d.DaemonProcess
	}
	if o.KernelModule == "" {
		o.KernelModule = d.KernelModule
	}
	if o.SMIDevice == "" {
		o.SMIDevice = d.SMIDevice
	}
	if o.AMDGVDevice == "" {
		o.AMDGVDevice = d.AMDGVDevice
	}
	if o.ProcRoot == "" {
		o.ProcRoot = d.ProcRoot
	}
	return o
}

// devicePath returns the device node serving t.
func (o *Options) devicePath(t gim.ClientType) (string, error) {
	switch t {
	case gim.ClientSMI:
		return o.SMIDevice, nil
	case gim.ClientAMDGV:
		return o.AMDGVDevice, nil
	default:
		return "", fmt.Errorf("%w: %v", ErrBadClientType, t)
	}
}

// LoadOptions reads Options from the TOML file at path. Fields missing from
// the file keep their defaults.
func LoadOptions(path string) (Options, error) {
	var o Options
	md, err := toml.DecodeFile(path, &o)
	if err != nil {
		return Options{}, fmt.Errorf("loading %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Options{}, fmt.Errorf("loading %q: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return o.withDefaults(), nil
}
