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

// Package pidfile maintains an flock()ed PID file for a daemon instance.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PidFile is a PID file held locked by this process.
type PidFile struct {
	path string
	f    *os.File
}

// DefaultPath returns the default PID file path for the running binary.
func DefaultPath() string {
	name := filepath.Base(os.Args[0])
	if os.Geteuid() > 0 {
		return filepath.Join(os.TempDir(), name+".pid")
	}
	return filepath.Join("/", "var", "run", name+".pid")
}

// Acquire creates or opens the PID file at path, locks it and writes our PID
// into it. It fails if another live process holds the lock.
func Acquire(path string) (*PidFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create PID file directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PID file")
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			owner, _ := Read(path)
			return nil, errors.Errorf("PID file %s is locked by process %d", path, owner)
		}
		return nil, errors.Wrap(err, "failed to lock PID file")
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to truncate PID file")
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "failed to write PID file")
	}

	return &PidFile{path: path, f: f}, nil
}

// Path returns the path of the PID file.
func (p *PidFile) Path() string {
	return p.path
}

// Release removes and unlocks the PID file.
func (p *PidFile) Release() error {
	if p == nil || p.f == nil {
		return nil
	}
	err := os.Remove(p.path)
	if err != nil && !os.IsNotExist(err) {
		err = errors.Wrap(err, "failed to remove PID file")
	} else {
		err = nil
	}
	p.f.Close()
	p.f = nil
	return err
}

// Read returns the PID stored in the file at path, 0 if there is no such file.
func Read(path string) (int, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return -1, errors.Wrap(err, "failed to read PID file")
	}
	str := strings.TrimSpace(string(buf))
	if str == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(str)
	if err != nil {
		return -1, errors.Wrapf(err, "invalid PID %q in PID file", str)
	}
	return pid, nil
}
