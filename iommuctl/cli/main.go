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

// Package cli is the main entrypoint for iommuctl.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"gvisor.dev/iommu/iommuctl/cmd"
	"gvisor.dev/iommu/iommuctl/cmd/util"
	"gvisor.dev/iommu/iommuctl/config"
	"gvisor.dev/iommu/iommuctl/flag"
	"gvisor.dev/iommu/pkg/log"
)

// version is set at link time with -X.
var version = "VERSION_MISSING"

// versionFlagName is the name of a flag that triggers printing the version.
const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	flag.Bool(versionFlagName, false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Are we showing the version?
	if flag.Get(flag.Lookup(versionFlagName).Value).(bool) {
		fmt.Fprintf(os.Stdout, "iommuctl version %s\n", version)
		os.Exit(0)
	}

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	subcommand := flag.CommandLine.Arg(0)
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	target, err := logTarget(conf, subcommand, time.Now())
	if err != nil {
		util.Fatalf("%v", err)
	}
	log.SetTarget(target)

	const delimString = `**************** iommuctl ****************`
	log.Infof(delimString)
	log.Infof("Version %s, %s, %s, %d CPUs, %s, PID %d, PPID %d, UID %d, GID %d", version, runtime.Version(), runtime.GOARCH, runtime.NumCPU(), runtime.GOOS, os.Getpid(), os.Getppid(), os.Getuid(), os.Getgid())
	log.Debugf("Page size: 0x%x (%d bytes)", os.Getpagesize(), os.Getpagesize())
	log.Infof("Args: %v", os.Args)
	conf.Log()
	log.Infof(delimString)

	// Interrupts cancel the command; domain operations observe the context.
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(ctx, conf)
	stop()
	if subcmdCode == subcommands.ExitSuccess {
		log.Infof("Exiting with status: %v", subcmdCode)
		os.Exit(0)
	}
	log.Warningf("Failure to execute command, err: %v", subcmdCode)
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// iommuctl.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	// Domain lifecycle.
	cb(new(cmd.Create), "")
	cb(new(cmd.Destroy), "")
	cb(new(cmd.List), "")
	cb(new(cmd.State), "")

	// Mappings.
	const mapGroup = "mappings"
	cb(new(cmd.Map), mapGroup)
	cb(new(cmd.Unmap), mapGroup)
	cb(new(cmd.BulkMap), mapGroup)
	cb(new(cmd.Translate), mapGroup)
	cb(new(cmd.Apply), mapGroup)

	// Helpers.
	const helperGroup = "helpers"
	cb(new(cmd.Check), helperGroup)
	cb(new(cmd.Stress), helperGroup)

	const metricGroup = "metrics"
	cb(new(cmd.MetricExport), metricGroup)
}

// logTarget builds the emitter for the global logger. With --log, logs go to
// the file and, with --alsologtostderr, to stderr too. Without a log file
// they go to stderr only when asked, since stdout and stderr carry command
// output. Errors reported by util.Errorf are mirrored to the log file.
func logTarget(conf *config.Config, subcommand string, start time.Time) (log.Emitter, error) {
	if conf.LogFilename == "" {
		if conf.Debug || conf.AlsoLogToStderr {
			return newEmitter(conf.LogFormat, os.Stderr)
		}
		return newEmitter("text", io.Discard)
	}

	// O_APPEND and not O_TRUNC: every invocation shares the log.
	f, err := log.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, log.FilePattern{Command: subcommand, Start: start})
	if err != nil {
		return nil, err
	}
	util.ErrorLogger = f
	fileEmitter, err := newEmitter(conf.LogFormat, f)
	if err != nil || !conf.AlsoLogToStderr {
		return fileEmitter, err
	}
	stderrEmitter, err := newEmitter(conf.LogFormat, os.Stderr)
	if err != nil {
		return nil, err
	}
	return &log.MultiEmitter{fileEmitter, stderrEmitter}, nil
}

func newEmitter(format string, w io.Writer) (log.Emitter, error) {
	switch format {
	case "text":
		return log.GoogleEmitter{&log.Writer{Next: w}}, nil
	case "json":
		return log.JSONEmitter{&log.Writer{Next: w}}, nil
	case "json-k8s":
		return log.K8sJSONEmitter{&log.Writer{Next: w}}, nil
	}
	return nil, fmt.Errorf("invalid log format %q, must be 'text', 'json', or 'json-k8s'", format)
}
