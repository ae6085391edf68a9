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
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelPanic is the severity for panic messages.
	LevelPanic
	// LevelFatal is the severity for fatal errors.
	LevelFatal
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logging is the shared state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level                // lowest non-debug severity emitted
	active  Backend              // active backend
	backend map[string]BackendFn // registered backends
	loggers map[string]*logger   // loggers by source
	forced  bool                 // debugging forced on for all sources
	align   int                  // longest source name
}

var log = &logging{
	level:   DefaultLevel,
	backend: make(map[string]BackendFn),
	loggers: make(map[string]*logger),
}

// logger implements Logger for a single source.
type logger struct {
	source  string
	enabled bool
	debug   bool
}

// NewLogger creates a logger for the given source, or returns the existing one.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

func (l *logging) get(source string) *logger {
	l.Lock()
	defer l.Unlock()

	if lg, ok := l.loggers[source]; ok {
		return lg
	}

	lg := &logger{
		source:  source,
		enabled: true,
	}
	if enable, ok := opt.Enable.lookup(source); ok {
		lg.enabled = enable
	}
	if debug, ok := opt.Debug.lookup(source); ok {
		lg.debug = debug
	}
	l.loggers[source] = lg

	if len(source) > l.align {
		l.align = len(source)
		if l.active != nil {
			l.active.SetSourceAlignment(l.align)
		}
	}

	return lg
}

// SetLevel sets the lowest severity of non-debug messages to emit.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// ForceDebug forces debugging on for all sources, returning the previous state.
func ForceDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	old := log.forced
	log.forced = state
	return old
}

// SetBackend activates the named logging backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()

	fn, ok := log.backend[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}
	if log.active != nil {
		if log.active.Name() == name {
			return nil
		}
		log.active.Sync()
		log.active.Stop()
	}
	log.active = fn()
	log.active.SetSourceAlignment(log.align)

	return nil
}

// Flush waits for any buffered messages to get emitted.
func Flush() {
	log.RLock()
	active := log.active
	log.RUnlock()
	if active != nil {
		active.Sync()
	}
}

// Sources returns the names of all known logger sources.
func Sources() []string {
	log.RLock()
	defer log.RUnlock()

	sources := make([]string, 0, len(log.loggers))
	for source := range log.loggers {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	return sources
}

// configure applies the given options to all existing loggers.
func (l *logging) configure(o *options) {
	l.Lock()
	defer l.Unlock()

	l.level = o.Level
	for source, lg := range l.loggers {
		lg.enabled = true
		if enable, ok := o.Enable.lookup(source); ok {
			lg.enabled = enable
		}
		lg.debug = false
		if debug, ok := o.Debug.lookup(source); ok {
			lg.debug = debug
		}
	}
}

// emitter returns the active backend if a message of the given level is emitted.
func (lg *logger) emitter(level Level) (Backend, bool) {
	log.RLock()
	defer log.RUnlock()

	switch {
	case log.active == nil:
		return nil, false
	case level == LevelDebug:
		return log.active, lg.debug || log.forced
	case level >= LevelPanic:
		return log.active, true
	case level < log.level:
		return nil, false
	case level == LevelInfo:
		return log.active, lg.enabled
	}
	return log.active, true
}

func (lg *logger) emit(level Level, format string, args ...interface{}) {
	if active, ok := lg.emitter(level); ok {
		active.Log(level, lg.source, format, args...)
	}
}

func (lg *logger) block(level Level, prefix, format string, args ...interface{}) {
	if active, ok := lg.emitter(level); ok {
		active.Block(level, lg.source, prefix, format, args...)
	}
}

func (lg *logger) Debug(format string, args ...interface{}) {
	lg.emit(LevelDebug, format, args...)
}

func (lg *logger) Info(format string, args ...interface{}) {
	lg.emit(LevelInfo, format, args...)
}

func (lg *logger) Warn(format string, args ...interface{}) {
	lg.emit(LevelWarn, format, args...)
}

func (lg *logger) Error(format string, args ...interface{}) {
	lg.emit(LevelError, format, args...)
}

// Panic logs a panic message and panic()'s.
func (lg *logger) Panic(format string, args ...interface{}) {
	lg.emit(LevelPanic, format, args...)
	Flush()
	panic(fmt.Sprintf(lg.source+": "+format, args...))
}

// Fatal logs a fatal error message and os.Exit(1)'s.
func (lg *logger) Fatal(format string, args ...interface{}) {
	lg.emit(LevelFatal, format, args...)
	Flush()
	os.Exit(1)
}

func (lg *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	lg.block(LevelDebug, prefix, format, args...)
}

func (lg *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	lg.block(LevelInfo, prefix, format, args...)
}

func (lg *logger) WarnBlock(prefix string, format string, args ...interface{}) {
	lg.block(LevelWarn, prefix, format, args...)
}

func (lg *logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	lg.block(LevelError, prefix, format, args...)
}

// EnableDebug enables/disables debug logging for this logger.
func (lg *logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	old := lg.debug
	lg.debug = state
	return old
}

// DebugEnabled checks debug logging is enabled for this logger.
func (lg *logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return lg.debug || log.forced
}

func (lg *logger) Source() string {
	return lg.source
}

// String returns the name of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return levelNames[LevelInfo]
}

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warning",
	LevelError: "error",
	LevelPanic: "panic",
	LevelFatal: "fatal",
}

// ParseLevel parses the given name into a Level.
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warn" {
		name = "warning"
	}
	for level, n := range levelNames {
		if n == name {
			return level, nil
		}
	}
	return LevelInfo, loggerError("invalid logging level %q", name)
}

// loggerError returns a formatted package-specific error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
