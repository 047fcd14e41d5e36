// Copyright 2026 The gVisor Authors.
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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/google/subcommands"
	"gvisor.dev/iommu/iommuctl/cmd/util"
	"gvisor.dev/iommu/iommuctl/flag"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	sysfs string
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "report the IOMMU units and groups of this host"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check [flags] - list the IOMMU units the kernel exposes and the devices behind them.

Exits with failure if the host has no IOMMU.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.sysfs, "sysfs", "/sys", "sysfs mount point.")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	h, err := probeHost(c.sysfs)
	if err != nil {
		util.Fatalf("probing %q: %v", c.sysfs, err)
	}
	if err := h.write(os.Stdout); err != nil {
		util.Fatalf("%v", err)
	}
	if len(h.units) == 0 {
		return util.Errorf("no IOMMU found; enable it in firmware and on the kernel command line (e.g. intel_iommu=on)")
	}
	return subcommands.ExitSuccess
}

// iommuUnit is one hardware IOMMU.
type iommuUnit struct {
	name    string
	devices int
}

// hostIOMMU describes the IOMMUs of a host.
type hostIOMMU struct {
	units  []iommuUnit
	groups int
}

// probeHost reads the IOMMU units under <sysfs>/class/iommu and the groups
// under <sysfs>/kernel/iommu_groups. Missing directories mean none.
func probeHost(sysfs string) (hostIOMMU, error) {
	var h hostIOMMU
	units, err := readDirNames(filepath.Join(sysfs, "class", "iommu"))
	if err != nil {
		return h, err
	}
	for _, name := range units {
		devs, err := readDirNames(filepath.Join(sysfs, "class", "iommu", name, "devices"))
		if err != nil {
			return h, err
		}
		h.units = append(h.units, iommuUnit{name: name, devices: len(devs)})
	}
	groups, err := readDirNames(filepath.Join(sysfs, "kernel", "iommu_groups"))
	if err != nil {
		return h, err
	}
	h.groups = len(groups)
	return h, nil
}

// readDirNames returns the sorted names in dir, or nothing if dir does not
// exist.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (h *hostIOMMU) write(out io.Writer) error {
	w := tabwriter.NewWriter(out, 10, 1, 3, ' ', 0)
	fmt.Fprint(w, "UNIT\tDEVICES\n")
	for _, u := range h.units {
		fmt.Fprintf(w, "%s\t%d\n", u.name, u.devices)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d IOMMU groups\n", h.groups)
	return err
}
