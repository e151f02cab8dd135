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

// Package cli is the main entrypoint for gimctl.
package cli

import (
	"context"
	"flag"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/cmd"
	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
)

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf("%v", err)
	}

	// Without --log, only --debug sends logs to stderr. Errors reach stderr
	// through cmd.Errorf either way.
	logFile := io.Discard
	if conf.Debug {
		logFile = os.Stderr
	}
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile = f
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile))
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	log.Infof("gimctl %s, %d CPUs, PID %d, UID %d", runtime.Version(), runtime.NumCPU(), os.Getpid(), os.Getuid())
	log.Infof("Args: %v", os.Args)
	conf.Log()

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if conf.Metrics {
		writeMetrics(os.Stderr)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// gimctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	// Inventory and status.
	cb(new(cmd.Backend), "")
	cb(new(cmd.Devices), "")
	cb(new(cmd.ECC), "")
	cb(new(cmd.BadPages), "")

	// Commands that change device state.
	const adminGroup = "administration"
	cb(new(cmd.Inject), adminGroup)
	cb(new(cmd.Reset), adminGroup)
	cb(new(cmd.Flash), adminGroup)
	cb(new(cmd.Ioctl), adminGroup)

	const debugGroup = "debug"
	cb(new(cmd.Diag), debugGroup)
	cb(new(cmd.Trap), debugGroup)
	cb(new(cmd.Commands), debugGroup)
	cb(new(cmd.Emulate), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}

// writeMetrics writes the process counters to w in the Prometheus text
// format.
func writeMetrics(w io.Writer) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		log.Warningf("Gathering metrics: %v", err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			log.Warningf("Encoding metric %s: %v", mf.GetName(), err)
			return
		}
	}
}
