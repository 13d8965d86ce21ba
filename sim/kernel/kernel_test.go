package kernel

import (
	"testing"

	"github.com/kunsheng/gpgpu-sim/sim/page"
	"github.com/stretchr/testify/require"
)

func TestKernel_ReadyRequiresAllDepsFinished(t *testing.T) {
	k := NewKernel(3, 0, 0, LayerInfo{}, nil, []ID{1, 2})
	finished := map[ID]bool{1: true, 2: false}

	require.False(t, k.Ready(func(id ID) bool { return finished[id] }))

	finished[2] = true
	require.True(t, k.Ready(func(id ID) bool { return finished[id] }))
}

func TestKernel_AccessRequestDrainsFIFO(t *testing.T) {
	r1 := &Request{ID: 1}
	r2 := &Request{ID: 2}
	k := NewKernel(1, 0, 0, LayerInfo{}, []*Request{r1, r2}, nil)

	require.Same(t, r1, k.AccessRequest())
	require.Same(t, r2, k.AccessRequest())
	require.Nil(t, k.AccessRequest())
	require.True(t, k.Empty())
}

func TestGroup_UnionsRequestsWeightedByMultiplier(t *testing.T) {
	a := NewKernel(1, 0, 0, LayerInfo{LayerID: 5}, []*Request{{ID: 1}}, nil)
	a.SMSet = map[int]bool{0: true}
	a.Multiplier = 2

	b := NewKernel(2, 0, 0, LayerInfo{LayerID: 5}, []*Request{{ID: 2}}, nil)
	b.SMSet = map[int]bool{1: true}

	g := Group(99, []*Kernel{a, b})

	require.Len(t, g.Requests, 3) // a's request twice + b's request once
	require.True(t, g.SMSet[0])
	require.True(t, g.SMSet[1])
}

func TestLayerInfo_NumOfMemorySumsFootprint(t *testing.T) {
	l := LayerInfo{FilterMem: 10, IFMapMem: 20, OFMapMem: 30}
	require.EqualValues(t, 60, l.NumOfMemory())
}

func TestPageTouch_FieldsAddressable(t *testing.T) {
	pt := PageTouch{PageID: page.ID(7), Remaining: 2}
	require.EqualValues(t, 7, pt.PageID)
	require.Equal(t, 2, pt.Remaining)
}
