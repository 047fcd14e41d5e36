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
	"gvisor.dev/iommu/pkg/metric"
)

// MetricExport implements subcommands.Command for the "export-metrics"
// command.
type MetricExport struct {
	exporterPrefix string
}

// Name implements subcommands.Command.Name.
func (*MetricExport) Name() string {
	return "export-metrics"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MetricExport) Synopsis() string {
	return "export metric data for the domain table"
}

// Usage implements subcommands.Command.Usage.
func (*MetricExport) Usage() string {
	return `export-metrics [-exporter-prefix=<iommuctl_>] - prints domain table metric data in Prometheus metric format
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *MetricExport) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.exporterPrefix, "exporter-prefix", "iommuctl_", "Prefix for all metric names, following Prometheus exporter convention")
}

// Execute implements subcommands.Command.Execute.
func (m *MetricExport) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	err := withSession(ctx, conf, false, func(s *session) error {
		return s.mgr.Registry().WritePrometheus(os.Stdout, metric.ExportOptions{
			ExporterPrefix: m.exporterPrefix,
		})
	})
	if err != nil {
		util.Fatalf("Cannot write metrics to stdout: %v", err)
	}
	return subcommands.ExitSuccess
}
