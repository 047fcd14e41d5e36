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

// Package metric provides primitives for collecting IOMMU metrics and
// exporting them in the Prometheus text exposition format.
package metric

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync/atomic"

	"gvisor.dev/iommu/pkg/sync"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not a valid Prometheus
	// metric name.
	ErrInvalidName = errors.New("metric name is not a valid Prometheus name")

	// ErrFieldHasNoAllowedValues indicates that the field needs to define some
	// allowed values to be a valid and useful field.
	ErrFieldHasNoAllowedValues = errors.New("field must contain allowed values")

	// ErrTooManyFieldCombinations is returned when registering a metric with
	// too many possible field combinations.
	ErrTooManyFieldCombinations = errors.New("too many field combinations")
)

var nameRegexp = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// Field contains the field name and allowed values for the metric which is
// used in registration of the metric.
type Field struct {
	// name is the metric field name.
	name string

	// allowedValues is the list of allowed values for the field.
	allowedValues []string
}

// NewField defines a new Field that can be used to break down a metric.
func NewField(name string, allowedValues []string) Field {
	return Field{
		name:          name,
		allowedValues: allowedValues,
	}
}

// fieldMapper provides multi-dimensional fields to a single unique integer key.
type fieldMapper struct {
	fields []Field

	// numFieldCombinations is the number of unique keys for all possible field
	// combinations.
	numFieldCombinations int
}

// newFieldMapper returns a new fieldMapper for the given set of fields.
func newFieldMapper(fields ...Field) (fieldMapper, error) {
	numFieldCombinations := 1
	for _, f := range fields {
		if len(f.allowedValues) == 0 {
			return fieldMapper{}, ErrFieldHasNoAllowedValues
		}
		numFieldCombinations *= len(f.allowedValues)
		if numFieldCombinations > math.MaxUint16 {
			return fieldMapper{}, ErrTooManyFieldCombinations
		}
	}
	return fieldMapper{
		fields:               fields,
		numFieldCombinations: numFieldCombinations,
	}, nil
}

// lookup returns the key for the given field values. It panics on a wrong
// number of fields or a disallowed value.
func (m fieldMapper) lookup(fieldValues ...string) int {
	if len(fieldValues) != len(m.fields) {
		panic("invalid field lookup depth")
	}
	idx := 0
	remaining := m.numFieldCombinations
IdxLookup:
	for i, val := range fieldValues {
		for valIdx, allowedVal := range m.fields[i].allowedValues {
			if val == allowedVal {
				remaining /= len(m.fields[i].allowedValues)
				idx += remaining * valIdx
				continue IdxLookup
			}
		}
		panic(fmt.Sprintf("disallowed value %q for field %q", val, m.fields[i].name))
	}
	return idx
}

// keyToMultiField is the reverse of lookup.
func (m fieldMapper) keyToMultiField(key int) []string {
	if len(m.fields) == 0 {
		return nil
	}
	values := make([]string, len(m.fields))
	remaining := m.numFieldCombinations
	for i, f := range m.fields {
		remaining /= len(f.allowedValues)
		values[i] = f.allowedValues[key/remaining]
		key %= remaining
	}
	return values
}

// Type is a Prometheus metric type.
type Type int

// List of supported metric types.
const (
	TypeCounter = Type(iota)
	TypeGauge
)

func (t Type) String() string {
	if t == TypeGauge {
		return "gauge"
	}
	return "counter"
}

// Uint64Metric encapsulates a uint64 that represents some kind of metric to be
// monitored, optionally broken down by fields.
type Uint64Metric struct {
	name        string
	description string
	typ         Type
	fields      fieldMapper

	// values holds one counter per field combination. It is nil for custom
	// metrics.
	values []atomic.Uint64

	// value is the function producing the value of a custom metric.
	value func(fieldValues ...string) uint64
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// Value returns the current value of the metric for the given set of fields.
func (m *Uint64Metric) Value(fieldValues ...string) uint64 {
	if m.value != nil {
		return m.value(fieldValues...)
	}
	return m.values[m.fields.lookup(fieldValues...)].Load()
}

// Increment increments the metric field by 1.
func (m *Uint64Metric) Increment(fieldValues ...string) {
	m.IncrementBy(1, fieldValues...)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64, fieldValues ...string) {
	m.values[m.fields.lookup(fieldValues...)].Add(v)
}

// Registry holds a set of metrics. The zero value is not usable; use
// NewRegistry.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]*Uint64Metric
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*Uint64Metric)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

func (r *Registry) register(m *Uint64Metric) error {
	if !nameRegexp.MatchString(m.name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, m.name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.metrics[m.name]; ok {
		return fmt.Errorf("%w: %q", ErrNameInUse, m.name)
	}
	r.metrics[m.name] = m
	return nil
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func (r *Registry) NewUint64Metric(name, description string, fields ...Field) (*Uint64Metric, error) {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return nil, err
	}
	m := &Uint64Metric{
		name:        name,
		description: description,
		typ:         TypeCounter,
		fields:      f,
		values:      make([]atomic.Uint64, f.numFieldCombinations),
	}
	if err := r.register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns an
// error.
func (r *Registry) MustCreateNewUint64Metric(name, description string, fields ...Field) *Uint64Metric {
	m, err := r.NewUint64Metric(name, description, fields...)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// RegisterCustomUint64Metric registers a gauge whose value is computed by
// value at export time.
func (r *Registry) RegisterCustomUint64Metric(name, description string, value func(fieldValues ...string) uint64, fields ...Field) error {
	f, err := newFieldMapper(fields...)
	if err != nil {
		return err
	}
	return r.register(&Uint64Metric{
		name:        name,
		description: description,
		typ:         TypeGauge,
		fields:      f,
		value:       value,
	})
}

// MustRegisterCustomUint64Metric calls RegisterCustomUint64Metric and panics
// if it returns an error.
func (r *Registry) MustRegisterCustomUint64Metric(name, description string, value func(fieldValues ...string) uint64, fields ...Field) {
	if err := r.RegisterCustomUint64Metric(name, description, value, fields...); err != nil {
		panic(fmt.Sprintf("Unable to register metric %q: %s", name, err))
	}
}

// Lookup returns the metric registered under name.
func (r *Registry) Lookup(name string) (*Uint64Metric, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[name]
	return m, ok
}

// sorted returns the registered metrics ordered by name.
func (r *Registry) sorted() []*Uint64Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := make([]*Uint64Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].name < ms[j].name })
	return ms
}
