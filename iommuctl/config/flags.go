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

package config

import (
	"fmt"
	"iter"
	"os"
	"os/user"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"gvisor.dev/iommu/iommuctl/flag"
	"gvisor.dev/iommu/pkg/iommu"
	"gvisor.dev/iommu/pkg/iommu/manager"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	// General flags.
	flagSet.String("root", "", "root directory for the domain table, default is \"$XDG_RUNTIME_DIR/iommuctl\" or \"/var/run/iommuctl\".")
	flagSet.String("config", "", "TOML file with flag values; flags on the command line take precedence.")

	// Logging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal log is written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Access control flags.
	flagSet.String("subject", "", "identity to run commands as, default is the current user.")
	flagSet.String("acl", "", "TOML access-control list; empty allows every operation.")
	flagSet.String("audit-log", "", "file that receives one JSON audit event per operation.")

	// Domain flags.
	store := iommu.StoreBTree
	flagSet.Var(&store, "store", "mapping store for new domains: btree (default) or slice.")
	flagSet.Int("max-domains", 0, "maximum number of live domains, 0 for the whole ASID space.")
	flagSet.Int("max-entries", 0, "maximum number of mappings per domain, 0 for unbounded.")
	flagSet.Bool("page-aligned", false, "reject addresses and lengths that are not page multiples.")
	flagSet.Duration("retry-timeout", manager.DefaultRetryTimeout, "how long --retry operations wait on a busy domain.")
	flagSet.Duration("lock-timeout", 5*time.Second, "how long to wait for the domain table lock.")
}

// flagFields yields the flag name and settable value of every Config field
// carrying a `flag` tag, in declaration order.
func (c *Config) flagFields() iter.Seq2[string, reflect.Value] {
	return func(yield func(string, reflect.Value) bool) {
		obj := reflect.ValueOf(c).Elem()
		for _, f := range reflect.VisibleFields(obj.Type()) {
			name, ok := f.Tag.Lookup("flag")
			if !ok {
				continue
			}
			if !yield(name, obj.FieldByIndex(f.Index)) {
				return
			}
		}
	}
}

// lookup returns the flag registered for a tagged field. Config and
// RegisterFlags must agree, so a missing flag is a programming error.
func lookup(flagSet *flag.FlagSet, name string) *flag.Flag {
	fl := flagSet.Lookup(name)
	if fl == nil {
		panic(fmt.Sprintf("no flag registered for config field %q", name))
	}
	return fl
}

// NewFromFlags creates a new Config with values coming from command line
// flags, then the --config file, then computed defaults.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	for name, field := range conf.flagFields() {
		field.Set(reflect.ValueOf(flag.Get(lookup(flagSet, name).Value)))
	}

	if conf.RootDir == "" {
		conf.RootDir = defaultRootDir()
	}
	if conf.Subject == "" {
		conf.Subject = "unknown"
		if u, err := user.Current(); err == nil {
			conf.Subject = u.Username
		}
	}

	if conf.ConfigFile != "" {
		if err := conf.ApplyFile(flagSet, conf.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// defaultRootDir prefers the per-user runtime directory so that unprivileged
// users get a writable domain table. An empty XDG_RUNTIME_DIR is ignored.
func defaultRootDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "iommuctl")
	}
	return "/var/run/iommuctl"
}

// ToFlags returns the command line flags that reproduce c, omitting those
// left at their default.
func (c *Config) ToFlags() []string {
	defaults := flag.NewFlagSet("defaults", flag.ContinueOnError)
	RegisterFlags(defaults)

	var args []string
	for name, field := range c.flagFields() {
		val := getVal(field)
		if val == lookup(defaults, name).DefValue {
			continue
		}
		args = append(args, "--"+name+"="+val)
	}
	return args
}

// Override writes a new value to a flag. The value is parsed by the flag
// itself, with the same rules as the command line. c is left unchanged if
// the resulting configuration is invalid.
func (c *Config) Override(flagSet *flag.FlagSet, name string, value string) error {
	next := c.Clone()
	for fieldName, field := range next.flagFields() {
		if fieldName != name {
			continue
		}
		fl := lookup(flagSet, name)
		if err := fl.Value.Set(value); err != nil {
			return fmt.Errorf("invalid value %q for flag %q: %w", value, name, err)
		}
		field.Set(reflect.ValueOf(flag.Get(fl.Value)))
		if err := next.validate(); err != nil {
			return err
		}
		*c = *next
		return nil
	}
	return fmt.Errorf("unknown flag %q, cannot set it to %q", name, value)
}

// aclKey is the table array of ACL rules. A config file holding rules is
// also used as the ACL unless --acl names another file.
const aclKey = "rule"

// ApplyFile reads flag values from the TOML file at path. Keys are flag
// names. Flags that were set explicitly on flagSet keep their value.
func (c *Config) ApplyFile(flagSet *flag.FlagSet, path string) error {
	values := make(map[string]any)
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("reading config %q: %w", path, err)
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if name == aclKey {
			if len(c.ACLFile) == 0 && !flag.IsSet(flagSet, "acl") {
				c.ACLFile = path
			}
			continue
		}
		if name == "config" {
			return fmt.Errorf("config %q: nested %q is not supported", path, name)
		}
		if flag.IsSet(flagSet, name) {
			continue
		}
		if err := c.Override(flagSet, name, tomlString(values[name])); err != nil {
			return fmt.Errorf("config %q: %w", path, err)
		}
	}
	return nil
}

func tomlString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

// getVal formats field the way its flag prints its default value.
func getVal(field reflect.Value) string {
	if s, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return s.String()
	}
	switch v := field.Interface().(type) {
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	}
	switch {
	case field.CanInt():
		return strconv.FormatInt(field.Int(), 10)
	case field.CanUint():
		return strconv.FormatUint(field.Uint(), 10)
	}
	panic("unsupported config field type " + field.Type().String())
}
