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
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/google/subcommands"
	"gvisor.dev/iommu/iommuctl/cmd/util"
	"gvisor.dev/iommu/iommuctl/config"
	"gvisor.dev/iommu/iommuctl/flag"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

// List implements subcommands.Command for the "list" command.
type List struct {
	mappings bool
}

// Name implements subcommands.Command.Name.
func (*List) Name() string {
	return "list"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*List) Synopsis() string {
	return "list domains"
}

// Usage implements subcommands.Command.Usage.
func (*List) Usage() string {
	return `list [flags] - list domains and, optionally, their mappings.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *List) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&l.mappings, "mappings", false, "also list the mappings of each domain.")
}

// Execute implements subcommands.Command.Execute.
func (l *List) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	err := withSession(ctx, conf, false, func(s *session) error {
		return writeDomains(os.Stdout, s.mgr, l.mappings)
	})
	if err != nil {
		util.Fatalf("listing domains: %v", err)
	}
	return subcommands.ExitSuccess
}

// writeDomains writes a table of the domains of m to out.
func writeDomains(out io.Writer, m *manager.Manager, mappings bool) error {
	w := tabwriter.NewWriter(out, 10, 1, 3, ' ', 0)
	fmt.Fprint(w, "ASID\tOWNER\tMAPPINGS\tEPOCH\tCREATED\n")
	for _, di := range m.Domains() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\n", di.ASID, di.Owner, di.Mappings, di.Epoch, humanize.Time(di.Created))
		if !mappings {
			continue
		}
		d, err := m.Get(di.ASID)
		if err != nil {
			// Destroyed while listing.
			continue
		}
		for _, e := range d.Entries() {
			fmt.Fprintf(w, "\t[%v, %v)\t-> %v\t%s\t%v\n", e.IOVA, e.End(), e.PA, humanize.IBytes(e.Length), e.Perm)
		}
	}
	return w.Flush()
}
