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
	"os"

	"github.com/google/subcommands"
	"gvisor.dev/iommu/iommuctl/cmd/util"
	"gvisor.dev/iommu/iommuctl/config"
	"gvisor.dev/iommu/iommuctl/flag"
	"gvisor.dev/iommu/iommuctl/plan"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
	"gvisor.dev/iommu/pkg/metric"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	opts    manager.StressOptions
	base    string
	save    bool
	metrics bool
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "race concurrent map and unmap requests against a domain"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] [asid] - race workers mapping and unmapping random, mostly
overlapping ranges, then check that the surviving mappings are disjoint.

Without <asid>, a scratch domain is created and destroyed afterwards.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.opts.Workers, "workers", 4, "number of concurrent workers.")
	f.IntVar(&s.opts.Iterations, "iterations", 1000, "operations per worker.")
	f.Int64Var(&s.opts.Seed, "seed", 1, "random seed.")
	f.StringVar(&s.base, "base", "0x100000000", "start of the IOVA window.")
	f.IntVar(&s.opts.WindowPages, "window", 64, "size of the IOVA window in pages.")
	f.IntVar(&s.opts.MaxPages, "max-pages", 4, "maximum length of a mapping in pages.")
	f.BoolVar(&s.save, "save", false, "keep the mappings left by the run in the domain table.")
	f.BoolVar(&s.metrics, "metrics", false, "print Prometheus metrics after the run.")
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	base, err := plan.ParseAddr(s.base)
	if err != nil {
		util.Fatalf("%v", err)
	}
	s.opts.Base = base

	err = withSession(ctx, conf, s.save, func(sess *session) error {
		var (
			asid    = optionalASID(f)
			scratch = asid == 0
		)
		if scratch {
			d, err := sess.mgr.Create(ctx, conf.Subject)
			if err != nil {
				return err
			}
			asid = d.ASID()
			defer sess.mgr.Destroy(ctx, conf.Subject, asid)
		}
		rep, err := sess.mgr.Stress(ctx, conf.Subject, asid, s.opts)
		if err != nil {
			return err
		}
		util.Infof("domain %d: %d maps, %d overlaps rejected, %d unmaps, %d live, epoch +%d",
			asid, rep.Maps, rep.Overlaps, rep.Unmaps, rep.Live, rep.EpochDelta)
		if s.metrics {
			return sess.mgr.Registry().WritePrometheus(os.Stdout, metric.ExportOptions{})
		}
		return nil
	})
	if err != nil {
		util.Fatalf("stress: %v", err)
	}
	return subcommands.ExitSuccess
}

// optionalASID returns the optional ASID argument, or zero.
func optionalASID(f *flag.FlagSet) iommu.ASID {
	if f.NArg() == 0 {
		return 0
	}
	asid, err := parseASID(f.Arg(0))
	if err != nil {
		util.Fatalf("%v", err)
	}
	return asid
}
