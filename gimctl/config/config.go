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

// Package config provides basic infrastructure to set configuration settings
// for gimctl. Each setting that can be changed from the command line is
// registered as a flag and copied into Config.
package config

import (
	"flag"
	"fmt"

	"gvisor.dev/gvisor/pkg/log"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimcoms"
)

// Output formats.
const (
	OutputAuto  = "auto"
	OutputTable = "table"
	OutputJSON  = "json"
)

// Config holds configuration that is not part of the command arguments.
type Config struct {
	// Debug enables debug logging.
	Debug bool

	// LogFormat is the log format, "text" or "json".
	LogFormat string

	// LogFilename is the file logs are appended to. Empty means stderr.
	LogFilename string

	// Output is the result format: OutputAuto, OutputTable or OutputJSON.
	// OutputAuto prints a table on a terminal and JSON otherwise.
	Output string

	// OptionsFile is a TOML file read with gimcoms.LoadOptions.
	OptionsFile string

	// DaemonSocket overrides the daemon address from OptionsFile.
	DaemonSocket string

	// ProcRoot overrides the procfs mount point from OptionsFile.
	ProcRoot string

	// Metrics prints the process counters to stderr when the command
	// completes.
	Metrics bool
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("output", OutputAuto, "result format: auto (default), table or json. auto prints a table on a terminal.")
	flagSet.String("config", "", "path to a TOML file with backend options.")
	flagSet.String("daemon-socket", "", "daemon socket address, overriding the config file. A leading '@' selects the abstract namespace.")
	flagSet.String("proc-root", "", "procfs mount point probed for the backends, overriding the config file.")
	flagSet.Bool("metrics", false, "print the transport counters to stderr when the command completes.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	var err error
	flagSet.VisitAll(func(f *flag.Flag) {
		if err != nil {
			return
		}
		g, ok := f.Value.(flag.Getter)
		if !ok {
			err = fmt.Errorf("flag %q does not implement flag.Getter", f.Name)
			return
		}
		switch f.Name {
		case "debug":
			conf.Debug = g.Get().(bool)
		case "log":
			conf.LogFilename = g.Get().(string)
		case "log-format":
			conf.LogFormat = g.Get().(string)
		case "output":
			conf.Output = g.Get().(string)
		case "config":
			conf.OptionsFile = g.Get().(string)
		case "daemon-socket":
			conf.DaemonSocket = g.Get().(string)
		case "proc-root":
			conf.ProcRoot = g.Get().(string)
		case "metrics":
			conf.Metrics = g.Get().(bool)
		}
	})
	if err != nil {
		return nil, err
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	switch c.Output {
	case OutputAuto, OutputTable, OutputJSON:
	default:
		return fmt.Errorf("invalid output format %q, must be 'auto', 'table' or 'json'", c.Output)
	}
	return nil
}

// Options returns the backend options: the defaults, then OptionsFile, then
// the flag overrides.
func (c *Config) Options() (gimcoms.Options, error) {
	opts := gimcoms.DefaultOptions()
	if c.OptionsFile != "" {
		var err error
		if opts, err = gimcoms.LoadOptions(c.OptionsFile); err != nil {
			return gimcoms.Options{}, err
		}
	}
	if c.DaemonSocket != "" {
		opts.DaemonSocket = c.DaemonSocket
	}
	if c.ProcRoot != "" {
		opts.ProcRoot = c.ProcRoot
	}
	return opts, nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Debug: %t", c.Debug)
	log.Infof("Config.LogFormat: %s", c.LogFormat)
	log.Infof("Config.Output: %s", c.Output)
	log.Infof("Config.OptionsFile: %q", c.OptionsFile)
	log.Infof("Config.DaemonSocket: %q", c.DaemonSocket)
	log.Infof("Config.ProcRoot: %q", c.ProcRoot)
}
