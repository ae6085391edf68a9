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
	"fmt"

	"k8s.io/klog/v2"
)

// pkg/log registers its own configuration with us, so we cannot use it
// directly. It installs itself as our Logger once initialized; until then
// messages go to klog.

// Logger is our set of logging functions.
type Logger struct {
	DebugEnabled func() bool
	Debugf       func(string, ...interface{})
	Infof        func(string, ...interface{})
	Warningf     func(string, ...interface{})
	Errorf       func(string, ...interface{})
	Fatalf       func(string, ...interface{})
	Panicf       func(string, ...interface{})
}

// log is our Logger.
var log = klogLogger()

// SetLogger sets our logger. Nil functions are left untouched.
func SetLogger(logger Logger) {
	if logger.DebugEnabled != nil {
		log.DebugEnabled = logger.DebugEnabled
	}
	if logger.Debugf != nil {
		log.Debugf = logger.Debugf
	}
	if logger.Infof != nil {
		log.Infof = logger.Infof
	}
	if logger.Warningf != nil {
		log.Warningf = logger.Warningf
	}
	if logger.Errorf != nil {
		log.Errorf = logger.Errorf
	}
	if logger.Fatalf != nil {
		log.Fatalf = logger.Fatalf
	}
	if logger.Panicf != nil {
		log.Panicf = logger.Panicf
	}
}

func klogLogger() Logger {
	return Logger{
		DebugEnabled: func() bool { return bool(klog.V(2).Enabled()) },
		Debugf:       func(f string, a ...interface{}) { klog.V(2).Infof("[config] "+f, a...) },
		Infof:        func(f string, a ...interface{}) { klog.Infof("[config] "+f, a...) },
		Warningf:     func(f string, a ...interface{}) { klog.Warningf("[config] "+f, a...) },
		Errorf:       func(f string, a ...interface{}) { klog.Errorf("[config] "+f, a...) },
		Fatalf:       func(f string, a ...interface{}) { klog.Fatalf("[config] "+f, a...) },
		Panicf: func(f string, a ...interface{}) {
			klog.Errorf("[config] "+f, a...)
			panic(fmt.Sprintf("config: "+f, a...))
		},
	}
}
