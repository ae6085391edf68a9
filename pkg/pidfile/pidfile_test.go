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

package pidfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "pageoutd.pid")

	pid, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 0, pid)

	p, err := Acquire(path)
	require.NoError(t, err)
	require.Equal(t, path, p.Path())

	pid, err = Read(path)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	// flock is per open file description, so a second open conflicts
	_, err = Acquire(path)
	require.Error(t, err)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	p, err = Acquire(path)
	require.NoError(t, err)
	require.NoError(t, p.Release())
}

func TestReadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pid")
	require.NoError(t, os.WriteFile(path, []byte("pageoutd\n"), 0644))

	pid, err := Read(path)
	require.Error(t, err)
	require.Equal(t, -1, pid)
}
