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
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder is a test Backend recording every emitted message.
type recorder struct {
	sync.Mutex
	messages []string
}

const recorderName = "recorder"

var rec = &recorder{}

func (*recorder) Name() string { return recorderName }

func (r *recorder) Log(level Level, source, format string, args ...interface{}) {
	r.Lock()
	defer r.Unlock()
	r.messages = append(r.messages, fmt.Sprintf("%s [%s] "+format, append([]interface{}{level, source}, args...)...))
}

func (r *recorder) Block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		r.Log(level, source, "%s%s", prefix, line)
	}
}

func (*recorder) Sync()                  {}
func (*recorder) Stop()                  {}
func (*recorder) SetSourceAlignment(int) {}

func (r *recorder) take() []string {
	r.Lock()
	defer r.Unlock()
	msgs := r.messages
	r.messages = nil
	return msgs
}

func setup(t *testing.T) {
	RegisterBackend(recorderName, func() Backend { return rec })
	require.NoError(t, SetBackend(recorderName))
	rec.take()
	t.Cleanup(func() {
		SetLevel(DefaultLevel)
		ForceDebug(false)
		require.NoError(t, SetBackend(FmtBackendName))
	})
}

func TestLevels(t *testing.T) {
	setup(t)
	l := NewLogger("levels")

	tcases := []struct {
		name     string
		level    Level
		expected []string
	}{
		{
			name:  "info and above",
			level: LevelInfo,
			expected: []string{
				"info [levels] i", "warning [levels] w", "error [levels] e",
			},
		},
		{
			name:     "errors only",
			level:    LevelError,
			expected: []string{"error [levels] e"},
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			SetLevel(tc.level)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")
			require.Equal(t, tc.expected, rec.take())
		})
	}
}

func TestDebugToggle(t *testing.T) {
	setup(t)
	l := NewLogger("toggle")

	l.Debug("hidden")
	require.Empty(t, rec.take())

	require.False(t, l.EnableDebug(true))
	require.True(t, l.DebugEnabled())
	l.Debug("shown %d", 1)
	require.Equal(t, []string{"debug [toggle] shown 1"}, rec.take())

	l.EnableDebug(false)
	ForceDebug(true)
	l.DebugBlock("  ", "a\nb")
	require.Equal(t, []string{"debug [toggle]   a", "debug [toggle]   b"}, rec.take())
}

func TestNewLoggerIsShared(t *testing.T) {
	require.Same(t, NewLogger("shared"), Get("shared"))
	require.Contains(t, Sources(), "shared")
}

func TestSourceMap(t *testing.T) {
	m := srcmap{}
	require.NoError(t, m.Set("on:*,off:config,pageout"))

	state, ok := m.lookup("laundry")
	require.True(t, ok)
	require.True(t, state)

	state, ok = m.lookup("pageout")
	require.True(t, ok)
	require.False(t, state)

	require.Equal(t, "on:*,off:config,pageout", m.String())
}

func TestParseLevel(t *testing.T) {
	for name, expected := range map[string]Level{
		"debug": LevelDebug, "Info": LevelInfo, "warn": LevelWarn, "warning": LevelWarn, "error": LevelError,
	} {
		level, err := ParseLevel(name)
		require.NoError(t, err, name)
		require.Equal(t, expected, level)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestFmtBackendAlignment(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &fmtBackend{out: buf}
	f.SetSourceAlignment(6)
	f.Log(LevelWarn, "ab", "low on %s", "pages")
	require.Equal(t, "W: [  ab  ] low on pages\n", buf.String())
}
