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
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/prometheus/procfs"
	"gvisor.dev/gvisor/pkg/log"
	"gvisor.dev/gvisor/pkg/sync"
)

// Prober inspects the host for the two backends.
type Prober interface {
	// DaemonRunning returns true if the daemon process is running.
	DaemonRunning() (bool, error)

	// KernelModuleLoaded returns true if the kernel driver is loaded.
	KernelModuleLoaded() (bool, error)
}

// procProber implements Prober over procfs.
type procProber struct {
	root    string
	process string
	module  string
}

// NewProcProber returns a Prober that looks for opts.DaemonProcess among
// the processes and opts.KernelModule among the modules listed under
// opts.ProcRoot.
func NewProcProber(opts Options) Prober {
	opts = opts.withDefaults()
	return &procProber{
		root:    opts.ProcRoot,
		process: opts.DaemonProcess,
		module:  opts.KernelModule,
	}
}

// DaemonRunning implements Prober.DaemonRunning.
func (p *procProber) DaemonRunning() (bool, error) {
	fs, err := procfs.NewFS(p.root)
	if err != nil {
		return false, err
	}
	procs, err := fs.AllProcs()
	if err != nil {
		return false, err
	}
	for _, proc := range procs {
		// Processes may exit while we walk them.
		comm, err := proc.Comm()
		if err != nil {
			continue
		}
		if strings.Contains(comm, p.process) {
			log.Debugf("gimcoms: found %q as PID %d", comm, proc.PID)
			return true, nil
		}
	}
	return false, nil
}

// KernelModuleLoaded implements Prober.KernelModuleLoaded.
func (p *procProber) KernelModuleLoaded() (bool, error) {
	data, err := os.ReadFile(filepath.Join(p.root, "modules"))
	if err != nil {
		return false, err
	}
	s := bufio.NewScanner(bytes.NewReader(data))
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) > 0 && fields[0] == p.module {
			return true, nil
		}
	}
	return false, s.Err()
}

// Selector decides once which backend serves commands.
type Selector struct {
	prober Prober

	once   sync.Once
	kind   Kind
	probes atomic.Int32
}

// NewSelector returns a Selector that consults p on first use.
func NewSelector(p Prober) *Selector {
	return &Selector{prober: p}
}

// Resolve returns the backend kind, probing the host on the first call
// only. The daemon is preferred over the kernel driver. Every later call,
// including after an Unavailable result, returns the same kind.
func (s *Selector) Resolve() Kind {
	s.once.Do(func() {
		s.probes.Add(1)
		probesTotal.Inc()
		s.kind = s.probe()
		log.Infof("gimcoms: using %v backend", s.kind)
	})
	return s.kind
}

func (s *Selector) probe() Kind {
	running, err := s.prober.DaemonRunning()
	if err != nil {
		log.Warningf("gimcoms: probing for the daemon failed: %v", err)
	}
	if running {
		return Daemon
	}
	loaded, err := s.prober.KernelModuleLoaded()
	if err != nil {
		log.Warningf("gimcoms: probing for the kernel module failed: %v", err)
	}
	if loaded {
		return Kernel
	}
	return Unavailable
}

// Probes returns how many times the host has been probed: 0 before the
// first Resolve, 1 after.
func (s *Selector) Probes() int {
	return int(s.probes.Load())
}

