// Copyright 2022 Intel Corporation. All Rights Reserved.
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
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

// Event describes why a module notifier is invoked.
type Event string

const (
	// UpdateEvent is delivered after a new configuration has been taken into use.
	UpdateEvent Event = "update"
	// RevertEvent is delivered after a failed update rolled back the configuration.
	RevertEvent Event = "revert"
)

// NotifyFn is a function to call when the configuration of a module changes.
type NotifyFn func(Event) error

// GetDefaultsFn returns a freshly allocated pointer to the defaults of a module.
type GetDefaultsFn func() interface{}

// Validator is implemented by module options that can check themselves.
type Validator interface {
	Validate() error
}

// Option is an option applicable to a Module.
type Option func(*Module)

// Module is a registered configuration module.
type Module struct {
	name        string
	description string
	ptr         interface{}
	getDefaults GetDefaultsFn
	notifiers   []NotifyFn
}

// WithNotify registers a notifier for the module.
func WithNotify(fn NotifyFn) Option {
	return func(m *Module) {
		m.notifiers = append(m.notifiers, fn)
	}
}

var (
	lock    sync.Mutex
	modules = make(map[string]*Module)
)

// Register registers a module with the given options pointer and defaults.
func Register(name, description string, ptr interface{}, getDefaults GetDefaultsFn, opts ...Option) *Module {
	lock.Lock()
	defer lock.Unlock()

	if err := checkRegistration(name, ptr); err != nil {
		log.Panicf("%v", err)
	}

	m := &Module{
		name:        name,
		description: description,
		ptr:         ptr,
		getDefaults: getDefaults,
	}
	for _, o := range opts {
		o(m)
	}
	modules[strings.ToLower(name)] = m

	if getDefaults != nil {
		if err := m.reset(); err != nil {
			log.Panicf("module %s: failed to apply defaults: %v", name, err)
		}
	}

	log.Debugf("registered module %s", name)

	return m
}

func checkRegistration(name string, ptr interface{}) error {
	if name == "" || strings.ContainsAny(name, ". \t") {
		return configError("invalid module name %q", name)
	}
	if _, ok := modules[strings.ToLower(name)]; ok {
		return configError("module %s already registered", name)
	}
	v := reflect.ValueOf(ptr)
	if ptr == nil || v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return configError("module %s: expecting pointer to struct, got %T", name, ptr)
	}
	return nil
}

// SetConfigFromFile reads a YAML or JSON configuration file and applies it.
func SetConfigFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return configError("failed to read configuration file %s: %v", path, err)
	}
	if err := SetConfigFromData(data); err != nil {
		return configError("configuration file %s: %v", path, err)
	}
	log.Infof("configuration taken into use from %s", path)
	return nil
}

// SetConfigFromData applies the given YAML or JSON configuration.
func SetConfigFromData(data []byte) error {
	raw, err := yaml.YAMLToJSON(data)
	if err != nil {
		return configError("failed to parse configuration: %v", err)
	}
	cfg := map[string]json.RawMessage{}
	if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return configError("failed to parse configuration: %v", err)
		}
	}
	return setConfig(cfg)
}

// SetConfig applies the given configuration, keyed by module name.
func SetConfig(cfg map[string]interface{}) error {
	raw := map[string]json.RawMessage{}
	for name, data := range cfg {
		b, err := json.Marshal(data)
		if err != nil {
			return configError("module %s: %v", name, err)
		}
		raw[name] = b
	}
	return setConfig(raw)
}

// setConfig resets all modules to defaults, applies cfg on top, then notifies.
// Any failure reverts every module to its previous configuration.
func setConfig(cfg map[string]json.RawMessage) error {
	lock.Lock()
	defer lock.Unlock()

	for name := range cfg {
		if _, ok := modules[strings.ToLower(name)]; !ok {
			return configError("unknown configuration module %q", name)
		}
	}

	saved := map[string][]byte{}
	for name, m := range modules {
		b, err := json.Marshal(m.ptr)
		if err != nil {
			return configError("module %s: failed to save configuration: %v", m.name, err)
		}
		saved[name] = b
	}

	var errs *multierror.Error
	for name, m := range modules {
		if err := m.apply(lookup(cfg, name)); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs == nil {
		for _, m := range modules {
			if err := m.notify(UpdateEvent); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	if errs == nil {
		return nil
	}

	log.Errorf("configuration rejected, reverting: %v", errs)
	for name, m := range modules {
		if err := m.restore(saved[name]); err != nil {
			log.Errorf("module %s: failed to revert configuration: %v", m.name, err)
		}
	}
	for _, m := range modules {
		if err := m.notify(RevertEvent); err != nil {
			log.Errorf("module %s: revert notification failed: %v", m.name, err)
		}
	}

	return errs.ErrorOrNil()
}

func lookup(cfg map[string]json.RawMessage, name string) json.RawMessage {
	for n, data := range cfg {
		if strings.ToLower(n) == name {
			return data
		}
	}
	return nil
}

// GetConfig returns the current configuration of all modules as YAML.
func GetConfig() ([]byte, error) {
	lock.Lock()
	defer lock.Unlock()

	cfg := map[string]interface{}{}
	for _, m := range modules {
		cfg[m.name] = m.ptr
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, configError("failed to dump configuration: %v", err)
	}
	return yaml.JSONToYAML(raw)
}

// Describe returns the descriptions of the given, or all, modules.
func Describe(names ...string) string {
	lock.Lock()
	defer lock.Unlock()

	if len(names) == 0 {
		for _, m := range modules {
			names = append(names, m.name)
		}
	}
	sort.Strings(names)

	help := ""
	for _, name := range names {
		m, ok := modules[strings.ToLower(name)]
		if !ok {
			continue
		}
		help += fmt.Sprintf("- %s:\n%s\n", m.name, strings.TrimSpace(m.description))
	}
	return help
}

// ReInitialize forgets all registered modules. It is meant for tests.
func ReInitialize() {
	lock.Lock()
	defer lock.Unlock()
	modules = make(map[string]*Module)
}

// reset zeroes the module options and re-applies its defaults.
func (m *Module) reset() error {
	v := reflect.ValueOf(m.ptr).Elem()
	v.Set(reflect.Zero(v.Type()))
	if m.getDefaults == nil {
		return nil
	}
	b, err := json.Marshal(m.getDefaults())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, m.ptr)
}

// apply resets the module to defaults and overlays data, if any.
func (m *Module) apply(data json.RawMessage) error {
	if err := m.reset(); err != nil {
		return configError("module %s: failed to reset to defaults: %v", m.name, err)
	}
	if len(data) > 0 && string(data) != "null" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(m.ptr); err != nil {
			return configError("module %s: %v", m.name, err)
		}
	}
	if v, ok := m.ptr.(Validator); ok {
		if err := v.Validate(); err != nil {
			return configError("module %s: %v", m.name, err)
		}
	}
	return nil
}

// restore takes a previously saved configuration back into use.
func (m *Module) restore(data []byte) error {
	v := reflect.ValueOf(m.ptr).Elem()
	v.Set(reflect.Zero(v.Type()))
	return json.Unmarshal(data, m.ptr)
}

func (m *Module) notify(event Event) error {
	for _, fn := range m.notifiers {
		if err := fn(event); err != nil {
			return configError("module %s: %v", m.name, err)
		}
	}
	return nil
}

// configError returns a formatted package-specific error.
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("config: "+format, args...)
}
