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

package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/amd/MxGPU-Virtualization-sub008/pkg/gimcoms"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{LogFormat: "text", Output: OutputAuto}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags mismatch (-want +got):\n%s", diff)
	}
	opts, err := c.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if diff := cmp.Diff(gimcoms.DefaultOptions(), opts); diff != "" {
		t.Errorf("Options mismatch (-want +got):\n%s", diff)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	if err := testFlags.Parse([]string{"--debug", "--log-format=json", "--output=table", "--daemon-socket=@/other.socket"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	if want := true; c.Debug != want {
		t.Errorf("Debug=%v, want: %v", c.Debug, want)
	}
	if want := "json"; c.LogFormat != want {
		t.Errorf("LogFormat=%v, want: %v", c.LogFormat, want)
	}
	if want := OutputTable; c.Output != want {
		t.Errorf("Output=%v, want: %v", c.Output, want)
	}
	if want := "@/other.socket"; c.DaemonSocket != want {
		t.Errorf("DaemonSocket=%v, want: %v", c.DaemonSocket, want)
	}
}

func TestInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"--log-format=xml"},
		{"--output=csv"},
	} {
		testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
		RegisterFlags(testFlags)
		if err := testFlags.Parse(args); err != nil {
			t.Fatalf("Parse(%v): %v", args, err)
		}
		if _, err := NewFromFlags(testFlags); err == nil {
			t.Errorf("NewFromFlags(%v) succeeded, want error", args)
		}
	}
}

func TestOptionsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gim.toml")
	contents := `
daemon_socket = "@/from-file.socket"
proc_root = "/file/proc"
kernel_module = "gim_test"
`
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{OptionsFile: path, ProcRoot: "/flag/proc"}
	got, err := c.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	want := gimcoms.DefaultOptions()
	want.DaemonSocket = "@/from-file.socket"
	want.ProcRoot = "/flag/proc"
	want.KernelModule = "gim_test"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Options mismatch (-want +got):\n%s", diff)
	}

	c.OptionsFile = filepath.Join(t.TempDir(), "missing.toml")
	if _, err := c.Options(); err == nil {
		t.Errorf("Options() with a missing file succeeded")
	}
}
