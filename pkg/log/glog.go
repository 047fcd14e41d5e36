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
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// L is the level (D, I or W) and pid is padded to seven columns, as glog
// pads the thread ID.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

// glogTime is the layout of the glog timestamp.
const glogTime = "0102 15:04:05.000000"

var pid = fmt.Sprintf("%7d", os.Getpid())

var levelChars = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

// caller returns "file:line" for the frame depth levels above its caller.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???:0"
	}
	return filepath.Base(file) + ":" + strconv.Itoa(line)
}

// Emit emits the message, google-style.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	c := byte('?')
	if int(level) < len(levelChars) {
		c = levelChars[level]
	}
	line := make([]byte, 0, 64+len(format))
	line = append(line, c)
	line = timestamp.AppendFormat(line, glogTime)
	line = append(line, ' ')
	line = append(line, pid...)
	line = append(line, ' ')
	line = append(line, caller(depth+1)...)
	line = append(line, "] "...)

	// The header must not contain '%': the underlying emitter formats the
	// whole line. File names with one are escaped.
	hdr := strings.ReplaceAll(string(line), "%", "%%")
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	g.Emitter.Emit(depth, level, timestamp, hdr+format, args...)
}
