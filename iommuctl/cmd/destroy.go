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
)

// Destroy implements subcommands.Command for the "destroy" command.
type Destroy struct{}

// Name implements subcommands.Command.Name.
func (*Destroy) Name() string {
	return "destroy"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Destroy) Synopsis() string {
	return "destroy translation domains"
}

// Usage implements subcommands.Command.Usage.
func (*Destroy) Usage() string {
	return `destroy <asid> [asid...] - destroy domains and release their mappings.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Destroy) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Destroy) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	err := withSession(ctx, conf, false, func(s *session) error {
		// Domains destroyed before a failure stay destroyed.
		defer func() {
			if err := s.save(); err != nil {
				util.Errorf("saving domain table: %v", err)
			}
		}()
		for _, arg := range f.Args() {
			asid, err := parseASID(arg)
			if err != nil {
				return err
			}
			if err := s.mgr.Destroy(ctx, conf.Subject, asid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		util.Fatalf("destroying domain: %v", err)
	}
	return subcommands.ExitSuccess
}
