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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileOpts contains options for creating a log file.
type FileOpts interface {
	// Build constructs the log file path based on the given pattern.
	Build(logPattern string) string
}

// FilePattern expands %COMMAND%, %PID% and %TIMESTAMP% in a log file
// pattern, so that invocations sharing a --log value may write separate
// files.
type FilePattern struct {
	// Command is the subcommand being run.
	Command string

	// Start is the process start time.
	Start time.Time
}

// Build implements FileOpts.Build.
func (p FilePattern) Build(logPattern string) string {
	return strings.NewReplacer(
		"%COMMAND%", p.Command,
		"%PID%", strconv.Itoa(os.Getpid()),
		"%TIMESTAMP%", p.Start.Format("20060102-150405.000000"),
	).Replace(logPattern)
}

// OpenFile opens the log file named by expanding logPattern with opts,
// creating its directory if needed. An empty pattern returns a nil file.
func OpenFile(logPattern string, flags int, opts FileOpts) (*os.File, error) {
	if len(logPattern) == 0 {
		return nil, nil
	}
	logPath := opts.Build(logPattern)
	if err := os.MkdirAll(filepath.Dir(logPath), 0775); err != nil {
		return nil, fmt.Errorf("error creating log directory for %q: %w", logPath, err)
	}
	f, err := os.OpenFile(logPath, flags, 0664)
	if err != nil {
		return nil, fmt.Errorf("error opening log file %q: %w", logPath, err)
	}
	return f, nil
}
