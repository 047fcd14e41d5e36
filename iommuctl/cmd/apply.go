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

	"github.com/google/subcommands"
	"gvisor.dev/iommu/iommuctl/cmd/util"
	"gvisor.dev/iommu/iommuctl/config"
	"gvisor.dev/iommu/iommuctl/flag"
	"gvisor.dev/iommu/iommuctl/plan"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

// Apply implements subcommands.Command for the "apply" command.
type Apply struct{}

// Name implements subcommands.Command.Name.
func (*Apply) Name() string {
	return "apply"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Apply) Synopsis() string {
	return "apply a YAML plan of domain operations"
}

// Usage implements subcommands.Command.Usage.
func (*Apply) Usage() string {
	return `apply <plan.yaml> - run the steps of a plan in order, stopping at the first failure.

Steps that completed before a failure are kept.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Apply) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Apply) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	pf, err := plan.Load(f.Arg(0))
	if err != nil {
		util.Fatalf("loading plan: %v", err)
	}
	var applyErr error
	err = withSession(ctx, conf, true, func(s *session) error {
		var results []manager.StepResult
		results, applyErr = s.mgr.ApplyPlan(ctx, conf.Subject, pf.Plan())
		return writeResults(os.Stdout, results)
	})
	if err != nil {
		util.Fatalf("applying plan: %v", err)
	}
	if applyErr != nil {
		util.Fatalf("applying plan: %v", applyErr)
	}
	return subcommands.ExitSuccess
}

// writeResults writes a table of plan step results to out.
func writeResults(out io.Writer, results []manager.StepResult) error {
	w := tabwriter.NewWriter(out, 10, 1, 3, ' ', 0)
	fmt.Fprint(w, "STEP\tNAME\tASID\tCREATED\tUNMAPPED\tMAPPED\tDESTROYED\tRESULT\n")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%d\t%d\t%t\t%s\n", r.Step, r.Name, r.ASID, r.Created, r.Unmapped, r.Mapped, r.Destroyed, manager.Result(r.Err))
	}
	return w.Flush()
}
