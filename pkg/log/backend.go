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
	"io"
	"os"
	"strings"
	"sync"
)

// BackendFn is a function that creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits log messages with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line log messages, with an additional line prefix.
	Block(Level, string, string, string, ...interface{})
	// Sync waits for all messages to get emitted.
	Sync()
	// Stop stops the backend instance.
	Stop()
	// SetSourceAlignment sets the maximum prefix length for optional alignment.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backend[name] = fn
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
)

// severity tags fmtBackend uses to prefix emitted messages with.
var fmtTags = map[Level]string{
	LevelDebug: "D: ",
	LevelInfo:  "I: ",
	LevelWarn:  "W: ",
	LevelError: "E: ",
	LevelFatal: "F: ",
	LevelPanic: "P: ",
}

// fmtBackend is our simple, default fmt.Fprintf-based Backend.
type fmtBackend struct {
	sync.Mutex
	out   io.Writer
	align int
}

func createFmtBackend() Backend {
	return &fmtBackend{out: os.Stderr}
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.emit(level, source, "", fmt.Sprintf(format, args...))
}

func (f *fmtBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	f.emit(level, source, prefix, fmt.Sprintf(format, args...))
}

func (f *fmtBackend) Sync() {
	f.Lock()
	defer f.Unlock()
	if s, ok := f.out.(interface{ Sync() error }); ok {
		s.Sync()
	}
}

func (f *fmtBackend) Stop() {
	f.Sync()
}

func (f *fmtBackend) SetSourceAlignment(len int) {
	f.Lock()
	defer f.Unlock()
	f.align = len
}

// emit formats and emits a single, possibly multi-line, message.
func (f *fmtBackend) emit(level Level, source, prefix, msg string) {
	f.Lock()
	defer f.Unlock()

	suflen := (f.align - len(source)) / 2
	prelen := f.align - (len(source) + suflen)
	if suflen < 0 || prelen < 0 {
		suflen, prelen = 0, 0
	}
	src := "[" + strings.Repeat(" ", prelen) + source + strings.Repeat(" ", suflen) + "]"

	for _, line := range strings.Split(msg, "\n") {
		if prefix == "" {
			fmt.Fprintln(f.out, fmtTags[level]+src, line)
		} else {
			fmt.Fprintln(f.out, fmtTags[level]+src, prefix, line)
		}
	}
}

func init() {
	RegisterBackend(FmtBackendName, createFmtBackend)
	SetBackend(FmtBackendName)
}
