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

package metric

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ExportOptions controls how metrics are written out.
type ExportOptions struct {
	// ExporterPrefix is prepended to all metric names.
	ExporterPrefix string
}

// writeHeaderTo writes the metric comment header to the given writer.
func (m *Uint64Metric) writeHeaderTo(w io.Writer, options ExportOptions) error {
	if m.description != "" {
		// Prometheus metric description escape rules: Only backslashes and line breaks need escaping.
		help := strings.ReplaceAll(strings.ReplaceAll(m.description, "\\", "\\\\"), "\n", "\\n")
		if _, err := fmt.Fprintf(w, "# HELP %s%s %s\n", options.ExporterPrefix, m.name, help); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "# TYPE %s%s %s\n", options.ExporterPrefix, m.name, m.typ)
	return err
}

// writeSamplesTo writes one line per field combination.
func (m *Uint64Metric) writeSamplesTo(w io.Writer, options ExportOptions) error {
	for key := 0; key < m.fields.numFieldCombinations; key++ {
		values := m.fields.keyToMultiField(key)
		var v uint64
		if m.value != nil {
			v = m.value(values...)
		} else {
			v = m.values[key].Load()
		}
		if _, err := io.WriteString(w, options.ExporterPrefix+m.name); err != nil {
			return err
		}
		if len(values) > 0 {
			labels := make([]string, len(values))
			for i, val := range values {
				labels[i] = fmt.Sprintf("%s=%s", m.fields.fields[i].name, strconv.Quote(val))
			}
			if _, err := fmt.Fprintf(w, "{%s}", strings.Join(labels, ",")); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, " %d\n", v); err != nil {
			return err
		}
	}
	return nil
}

// WritePrometheus writes all metrics in r to w in the Prometheus text
// exposition format, ordered by name.
func (r *Registry) WritePrometheus(w io.Writer, options ExportOptions) error {
	bw := bufio.NewWriter(w)
	for _, m := range r.sorted() {
		if err := m.writeHeaderTo(bw, options); err != nil {
			return err
		}
		if err := m.writeSamplesTo(bw, options); err != nil {
			return err
		}
	}
	return bw.Flush()
}
