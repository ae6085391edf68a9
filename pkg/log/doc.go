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

// Package log implements per-source loggers with pluggable backends.
//
// Every package creates its own logger with NewLogger, using a short name for
// its source. Messages are emitted by the active backend: a plain fmt-based
// one, klog, or zap. Debugging can be toggled per source at runtime.
package log

var configHelp = `
Logging and debugging messages.

You can control the lowest severity of messages to pass through, which log
sources are enabled, and which log sources are producing debug messages.
For instance, to enable only warnings and errors, turn on debugging for the
pageout and laundry sources, and emit messages using klog:

  logger:
    Level: warning
    Debug: pageout,laundry
    Backend: klog

You can prefix a source or a list of source names with 'off:' or 'on:' to
toggle them. For instance, to debug everything except the config source:

  logger:
    Debug: on:*,off:config

The same settings are available as the --logger-level, --logger-sources,
--logger-debug and --logger-backend command line options.
`
