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

package log

import (
	"encoding/json"
	"flag"
	"sort"
	"strings"

	"github.com/freebsd/freebsd-src-sub468/pkg/config"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// configModule is our module name in the runtime configuration.
	configModule = optPrefix
)

// options are the logger options configurable via the command line or pkg/config.
type options struct {
	// Level is the lowest severity of non-debug messages to emit.
	Level Level
	// Enable enables/disables normal logging for sources.
	Enable srcmap
	// Debug enables/disables debug logging for sources.
	Debug srcmap
	// Backend is the name of the logger backend to use.
	Backend string
}

// srcmap tracks logging or debugging settings for sources, '*' matching all.
type srcmap map[string]bool

// opt is our runtime configuration.
var opt = defaultOptions().(*options)

func defaultOptions() interface{} {
	return &options{
		Level:   DefaultLevel,
		Enable:  make(srcmap),
		Debug:   make(srcmap),
		Backend: FmtBackendName,
	}
}

// lookup returns the setting for source, falling back to any wildcard.
func (m srcmap) lookup(source string) (bool, bool) {
	if state, ok := m[source]; ok {
		return state, true
	}
	if state, ok := m["*"]; ok {
		return state, true
	}
	return false, false
}

// Set parses a comma-separated list of sources with optional on:/off: prefixes.
func (m *srcmap) Set(value string) error {
	if *m == nil {
		*m = make(srcmap)
	}
	state := true
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
			continue
		case strings.HasPrefix(entry, "on:"):
			state, entry = true, strings.TrimPrefix(entry, "on:")
		case strings.HasPrefix(entry, "off:"):
			state, entry = false, strings.TrimPrefix(entry, "off:")
		}
		if entry == "all" {
			entry = "*"
		}
		(*m)[entry] = state
	}
	return nil
}

// String returns the sources of this srcmap in a form accepted by Set.
func (m srcmap) String() string {
	on, off := []string{}, []string{}
	for source, state := range m {
		if state {
			on = append(on, source)
		} else {
			off = append(off, source)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	str := ""
	if len(on) > 0 {
		str = "on:" + strings.Join(on, ",")
	}
	if len(off) > 0 {
		if str != "" {
			str += ","
		}
		str += "off:" + strings.Join(off, ",")
	}
	return str
}

func (m srcmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *srcmap) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return loggerError("invalid source list %s: %v", string(data), err)
	}
	*m = make(srcmap)
	return m.Set(value)
}

// Set sets the level from the given name.
func (l *Level) Set(value string) error {
	level, err := ParseLevel(value)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return loggerError("invalid logging level %s: %v", string(data), err)
	}
	return l.Set(name)
}

// backendFlag activates a backend when set from the command line.
type backendFlag struct{}

func (backendFlag) Set(value string) error {
	if err := SetBackend(value); err != nil {
		return err
	}
	opt.Backend = value
	return nil
}

func (backendFlag) String() string {
	return opt.Backend
}

// levelFlag updates the active level when set from the command line.
type levelFlag struct{}

func (levelFlag) Set(value string) error {
	if err := opt.Level.Set(value); err != nil {
		return err
	}
	SetLevel(opt.Level)
	return nil
}

func (levelFlag) String() string {
	return opt.Level.String()
}

// sourceFlag updates a srcmap and reconfigures loggers when set.
type sourceFlag struct {
	m *srcmap
}

func (f sourceFlag) Set(value string) error {
	if err := f.m.Set(value); err != nil {
		return err
	}
	log.configure(opt)
	return nil
}

func (f sourceFlag) String() string {
	if f.m == nil {
		return ""
	}
	return f.m.String()
}

// configNotify is our runtime configuration notification callback.
func configNotify(event config.Event) error {
	if err := SetBackend(opt.Backend); err != nil {
		return err
	}
	log.configure(opt)
	return nil
}

// adapt lets pkg/config log through us.
func adapt() config.Logger {
	l := NewLogger("config")
	return config.Logger{
		DebugEnabled: l.DebugEnabled,
		Debugf:       l.Debug,
		Infof:        l.Info,
		Warningf:     l.Warn,
		Errorf:       l.Error,
		Fatalf:       l.Fatal,
		Panicf:       l.Panic,
	}
}

func init() {
	flag.Var(levelFlag{}, optPrefix+"-level",
		"lowest severity of messages to emit (debug, info, warning, error)")
	flag.Var(sourceFlag{&opt.Enable}, optPrefix+"-sources",
		"comma-separated list of [on:|off:]sources to enable or disable logging for")
	flag.Var(sourceFlag{&opt.Debug}, optPrefix+"-debug",
		"comma-separated list of [on:|off:]sources to enable or disable debugging for")
	flag.Var(backendFlag{}, optPrefix+"-backend",
		"logger backend to use (fmt, klog, zap)")

	config.Register(configModule, configHelp, opt, defaultOptions,
		config.WithNotify(configNotify))
	config.SetLogger(adapt())
}
