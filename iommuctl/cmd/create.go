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
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

// Create implements subcommands.Command for the "create" command.
type Create struct {
	asid uint
}

// Name implements subcommands.Command.Name.
func (*Create) Name() string {
	return "create"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Create) Synopsis() string {
	return "create a translation domain"
}

// Usage implements subcommands.Command.Usage.
func (*Create) Usage() string {
	return `create [flags] <owner> - create a translation domain owned by <owner> and print its ASID.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Create) SetFlags(f *flag.FlagSet) {
	f.UintVar(&c.asid, "asid", 0, "request a specific ASID instead of allocating one.")
}

// Execute implements subcommands.Command.Execute.
func (c *Create) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	owner := f.Arg(0)
	conf := args[0].(*config.Config)

	if c.asid > manager.MaxASID {
		util.Fatalf("ASID %d out of range", c.asid)
	}
	var asid iommu.ASID
	err := withSession(ctx, conf, true, func(s *session) error {
		var (
			d   *iommu.Domain
			err error
		)
		if c.asid != 0 {
			d, err = s.mgr.CreateWithASID(ctx, owner, iommu.ASID(c.asid))
		} else {
			d, err = s.mgr.Create(ctx, owner)
		}
		if err != nil {
			return err
		}
		asid = d.ASID()
		return nil
	})
	if err != nil {
		util.Fatalf("creating domain: %v", err)
	}
	util.Infof("%d", asid)
	return subcommands.ExitSuccess
}
