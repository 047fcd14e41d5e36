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
)

// Translate implements subcommands.Command for the "translate" command.
type Translate struct{}

// Name implements subcommands.Command.Name.
func (*Translate) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Translate) Synopsis() string {
	return "translate an IOVA to a physical address"
}

// Usage implements subcommands.Command.Usage.
func (*Translate) Usage() string {
	return `translate <asid> <iova> - print the physical address and permissions <iova> maps to.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Translate) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Translate) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
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
	err = withSession(ctx, conf, false, func(s *session) error {
		pa, perm, err := s.mgr.Translate(asid, iova)
		if err != nil {
			return err
		}
		util.Infof("%v %v", pa, perm)
		return nil
	})
	if err != nil {
		util.Fatalf("translating %v in domain %d: %v", iova, asid, err)
	}
	return subcommands.ExitSuccess
}
