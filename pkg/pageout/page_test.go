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

package pageout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPageStatePacking(t *testing.T) {
	s := PageState{Queue: QueueUnswappable, Flags: FlagEnqueued | FlagSwapFreePending, ActCount: ActMax}
	require.Equal(t, s, unpackState(s.pack()))
	require.True(t, s.InLaundry())
	require.False(t, s.Pending())
	require.Equal(t, "enqueued,swapfree", s.Flags.String())
	require.Equal(t, "-", PageFlags(0).String())
}

func TestPageBusy(t *testing.T) {
	var p Page

	require.True(t, p.TrySBusy())
	require.True(t, p.TrySBusy())
	require.False(t, p.TryXBusy(), "shared busy excludes exclusive busy")
	p.SUnbusy()
	p.SUnbusy()
	require.False(t, p.Busy())

	require.True(t, p.TryXBusy())
	require.False(t, p.TryXBusy())
	require.False(t, p.TrySBusy(), "exclusive busy excludes shared busy")

	p.downgrade()
	require.True(t, p.Busy())
	require.True(t, p.TrySBusy())
	p.SUnbusy()
	p.SUnbusy()
	require.False(t, p.Busy())
}

func TestPageReference(t *testing.T) {
	var p Page
	p.state.Store(PageState{Queue: QueueActive, Flags: FlagEnqueued, ActCount: 3}.pack())

	p.Reference()
	p.Reference()
	s := p.State()
	require.Equal(t, QueueActive, s.Queue)
	require.Equal(t, FlagEnqueued|FlagReferenced, s.Flags)
	require.Equal(t, uint8(3), s.ActCount)
}

func TestPageSetDirty(t *testing.T) {
	var p Page
	p.state.Store(PageState{Queue: QueueLaundry, Flags: FlagEnqueued | FlagSwapFreePending}.pack())

	p.SetDirty()
	require.True(t, p.Dirty())
	require.Equal(t, FlagEnqueued, p.State().Flags)
	p.Undirty()
	require.False(t, p.Dirty())
}

func TestSoftPmap(t *testing.T) {
	var (
		pm SoftPmap
		p  Page
	)

	p.Map(false)
	p.Touch(true)
	require.True(t, p.Mapped())
	require.False(t, pm.IsModified(&p), "write through a read-only mapping")
	require.Equal(t, 1, pm.TSReferenced(&p))
	require.Equal(t, 0, pm.TSReferenced(&p))

	p.Map(true)
	p.Touch(true)
	require.True(t, pm.IsModified(&p))
	pm.RemoveWrite(&p)
	require.True(t, p.Dirty())
	require.False(t, pm.IsModified(&p))

	p.Touch(true)
	require.False(t, pm.IsModified(&p), "write protected")
	require.Equal(t, 1, pm.TSReferenced(&p))

	p.Touch(false)
	pm.RemoveAll(&p)
	require.False(t, p.Mapped())
	require.Equal(t, 0, pm.TSReferenced(&p))
}
