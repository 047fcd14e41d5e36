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

// Map implements subcommands.Command for the "map" command.
type Map struct {
	perm  string
	retry bool
}

// Name implements subcommands.Command.Name.
func (*Map) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Map) Synopsis() string {
	return "map an IOVA range to a physical range"
}

// Usage implements subcommands.Command.Usage.
func (*Map) Usage() string {
	return `map [flags] <asid> <iova> <pa> <size> - map <size> bytes at <iova> to <pa>.

Sizes accept byte quantities such as 4KiB.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Map) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.perm, "perm", "rw", "permissions of the mapping, any of r, w and x.")
	f.BoolVar(&m.retry, "retry", false, "wait up to --retry-timeout for a busy domain instead of failing.")
}

// Execute implements subcommands.Command.Execute.
func (m *Map) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 4 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	asid, err := parseASID(f.Arg(0))
	if err != nil {
		util.Fatalf("%v", err)
	}
	e, err := plan.ParseMapping(f.Arg(1) + ":" + f.Arg(2) + ":" + f.Arg(3))
	if err != nil {
		util.Fatalf("%v", err)
	}
	if e.Perm, err = iommu.ParsePerm(m.perm); err != nil {
		util.Fatalf("%v", err)
	}

	err = withSession(ctx, conf, true, func(s *session) error {
		if m.retry {
			return s.mgr.MapWithRetry(ctx, conf.Subject, asid, e.IOVA, e.PA, e.Length, e.Perm)
		}
		return s.mgr.Map(ctx, conf.Subject, asid, e.IOVA, e.PA, e.Length, e.Perm)
	})
	if err != nil {
		util.Fatalf("mapping %v in domain %d: %v", e, asid, err)
	}
	return subcommands.ExitSuccess
}

// Unmap implements subcommands.Command for the "unmap" command.
type Unmap struct {
	retry bool
}

// Name implements subcommands.Command.Name.
func (*Unmap) Name() string {
	return "unmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Unmap) Synopsis() string {
	return "remove a mapping"
}

// Usage implements subcommands.Command.Usage.
func (*Unmap) Usage() string {
	return `unmap [flags] <asid> <iova> <size> - remove the mapping that starts at <iova> and is exactly <size> bytes long.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (u *Unmap) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&u.retry, "retry", false, "wait up to --retry-timeout for a busy domain instead of failing.")
}

// Execute implements subcommands.Command.Execute.
func (u *Unmap) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 3 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	asid, err := parseASID(f.Arg(0))
	if err != nil {
		util.Fatalf("%v", err)
	}
	iova, err := plan.ParseAddr(f.Arg(1))
	if err != nil {
		util.Fatalf("%v", err)
	}
	size, err := plan.ParseSize(f.Arg(2))
	if err != nil {
		util.Fatalf("%v", err)
	}

	err = withSession(ctx, conf, true, func(s *session) error {
		if u.retry {
			return s.mgr.UnmapWithRetry(ctx, conf.Subject, asid, iova, size)
		}
		return s.mgr.Unmap(ctx, conf.Subject, asid, iova, size)
	})
	if err != nil {
		util.Fatalf("unmapping [%v, +%#x) in domain %d: %v", iova, size, asid, err)
	}
	return subcommands.ExitSuccess
}
