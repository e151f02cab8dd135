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

// Package cmd holds implementations of the gimctl commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"
	"golang.org/x/term"
	"gvisor.dev/gvisor/pkg/log"

	"github.com/amd/MxGPU-Virtualization-sub008/gimctl/config"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/abi/gim"
	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimcoms"
)

// Errorf logs error to the debug log (--log), to stderr, and returns
// subcommands.ExitFailure.
func Errorf(format string, args ...any) subcommands.ExitStatus {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(os.Stderr, "gimctl: "+format+"\n", args...)
	return subcommands.ExitFailure
}

// Fatalf logs the same way as Errorf() does, plus *exits* the process.
func Fatalf(format string, args ...any) {
	Errorf(format, args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}

// newClient returns a client for conf's backend options.
var newClient = func(conf *config.Config) (*gimcoms.Client, error) {
	opts, err := conf.Options()
	if err != nil {
		return nil, err
	}
	return gimcoms.NewClient(opts, nil), nil
}

// withHandle opens a handle of client type t on a new client and calls fn
// with it.
func withHandle(conf *config.Config, t gim.ClientType, fn func(c *gimcoms.Client, h gimcoms.Handle) error) subcommands.ExitStatus {
	c, err := newClient(conf)
	if err != nil {
		return Errorf("%v", err)
	}
	if err := runWithHandle(c, t, fn); err != nil {
		return Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// runWithHandle opens a handle of client type t on c and calls fn with it.
// The calling goroutine stays on one thread so fn's commands share a
// connection.
func runWithHandle(c *gimcoms.Client, t gim.ClientType, fn func(c *gimcoms.Client, h gimcoms.Handle) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	h, err := c.Open(t)
	if err != nil {
		return fmt.Errorf("opening %v handle: %w", t, err)
	}
	defer func() {
		if err := c.Close(h); err != nil {
			log.Warningf("closing handle %d: %v", h, err)
		}
	}()
	return fn(c, h)
}

// useJSON returns true if results go out as JSON.
func useJSON(conf *config.Config, w io.Writer) bool {
	switch conf.Output {
	case config.OutputJSON:
		return true
	case config.OutputTable:
		return false
	}
	f, ok := w.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd()))
}

// table is a result rendered either as aligned columns or as JSON.
type table struct {
	header []string
	rows   [][]string

	// value is what JSON output encodes.
	value any
}

func (t *table) add(cols ...any) {
	row := make([]string, len(cols))
	for i, c := range cols {
		row[i] = fmt.Sprint(c)
	}
	t.rows = append(t.rows, row)
}

// print writes t to w in conf's output format.
func (t *table) print(conf *config.Config, w io.Writer) error {
	if useJSON(conf, w) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(t.value)
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	if len(t.header) > 0 {
		fmt.Fprintln(tw, strings.Join(t.header, "\t"))
	}
	for _, row := range t.rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// parseBDF parses a required --bdf flag.
func parseBDF(s string) (gim.BDF, error) {
	if s == "" {
		return 0, fmt.Errorf("--bdf is required")
	}
	return gim.ParseBDF(s)
}
