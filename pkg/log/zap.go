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
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// ZapBackendName is the name of the zap-based structured logging backend.
	ZapBackendName = "zap"
)

// zapBackend emits messages as structured zap entries with a source field.
type zapBackend struct {
	z *zap.Logger
}

func createZapBackend() Backend {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	cfg.DisableStacktrace = true
	z, err := cfg.Build(zap.AddCallerSkip(3))
	if err != nil {
		z = zap.NewNop()
	}
	return &zapBackend{z: z}
}

func (*zapBackend) Name() string {
	return ZapBackendName
}

func (b *zapBackend) Log(level Level, source, format string, args ...interface{}) {
	b.emit(level, source, fmt.Sprintf(format, args...))
}

func (b *zapBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		b.emit(level, source, prefix+line)
	}
}

func (b *zapBackend) emit(level Level, source, msg string) {
	src := zap.String("source", source)
	switch level {
	case LevelDebug:
		b.z.Debug(msg, src)
	case LevelInfo:
		b.z.Info(msg, src)
	case LevelWarn:
		b.z.Warn(msg, src)
	default:
		// Panic and Fatal are handled by the logger itself.
		b.z.Error(msg, src)
	}
}

func (b *zapBackend) Sync() {
	_ = b.z.Sync()
}

func (b *zapBackend) Stop() {
	b.Sync()
}

func (*zapBackend) SetSourceAlignment(int) {}

func init() {
	RegisterBackend(ZapBackendName, createZapBackend)
}
