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

	"github.com/google/subcommands"
	"gvisor.dev/iommu/iommuctl/cmd/util"
	"gvisor.dev/iommu/iommuctl/config"
	"gvisor.dev/iommu/iommuctl/flag"
	"gvisor.dev/iommu/iommuctl/plan"
	"gvisor.dev/iommu/pkg/iommu"
)

// BulkMap implements subcommands.Command for the "bulk-map" command.
type BulkMap struct {
	atomic bool
	file   string
}

// Name implements subcommands.Command.Name.
func (*BulkMap) Name() string {
	return "bulk-map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*BulkMap) Synopsis() string {
	return "map several ranges as one operation"
}

// Usage implements subcommands.Command.Usage.
func (*BulkMap) Usage() string {
	return `bulk-map [flags] <asid> [iova:pa:size[:perm]...] - map every range, or none.

Mappings are taken from the arguments, then from --file, a YAML list of
{iova, pa, size, perm} objects. If one mapping fails, the mappings made before
it are removed again.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *BulkMap) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&b.atomic, "atomic", false, "check every mapping before making any, so a failure leaves no trace.")
	f.StringVar(&b.file, "file", "", "YAML file listing mappings.")
}

// Execute implements subcommands.Command.Execute.
func (b *BulkMap) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	asid, err := parseASID(f.Arg(0))
	if err != nil {
		util.Fatalf("%v", err)
	}
	var entries []iommu.Entry
	for _, arg := range f.Args()[1:] {
		e, err := plan.ParseMapping(arg)
		if err != nil {
			util.Fatalf("%v", err)
		}
		entries = append(entries, e)
	}
	if len(b.file) > 0 {
		es, err := plan.LoadMappings(b.file)
		if err != nil {
			util.Fatalf("%v", err)
		}
		entries = append(entries, es...)
	}

	err = withSession(ctx, conf, true, func(s *session) error {
		if b.atomic {
			return s.mgr.BulkMapAtomic(ctx, conf.Subject, asid, entries)
		}
		return s.mgr.BulkMap(ctx, conf.Subject, asid, entries)
	})
	if err != nil {
		util.Fatalf("bulk mapping %d ranges in domain %d: %v", len(entries), asid, err)
	}
	util.Infof("Mapped %d ranges in domain %d", len(entries), asid)
	return subcommands.ExitSuccess
}
