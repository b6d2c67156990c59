package systems

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/math"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

func newTestMaterials(t *testing.T, regionSize uint64) (*MaterialSystem, *BindlessSystem, *memory.EpochTracker) {
	t.Helper()
	bs, _, epochs := newTestBindless(t, 64, 8)
	region, err := memory.NewRegion(7, 0x80000000, regionSize, make([]byte, regionSize))
	require.NoError(t, err)
	ms, err := NewMaterialSystem(bs, region)
	require.NoError(t, err)
	return ms, bs, epochs
}

func TestMaterialAcquireRegistersTextures(t *testing.T) {
	ms, bs, _ := newTestMaterials(t, 4096)

	material, err := ms.Acquire(MaterialConfig{
		Name:             "brick",
		BaseColor:        math.NewVec4(1, 1, 1, 1),
		BaseColorTexture: "brick_albedo",
		NormalMapTexture: "brick_normal",
	})
	require.NoError(t, err)

	assert.NotZero(t, material.Address)
	assert.Len(t, material.slots, 2)
	assert.Equal(t, uint32(2), bs.LiveCount(metadata.BindingKindSampledImage))
}

func TestMaterialAcquireIdempotent(t *testing.T) {
	ms, _, _ := newTestMaterials(t, 4096)

	first, err := ms.Acquire(MaterialConfig{Name: "brick"})
	require.NoError(t, err)
	second, err := ms.Acquire(MaterialConfig{Name: "brick"})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestMaterialAcquireConcurrentSameName(t *testing.T) {
	ms, bs, _ := newTestMaterials(t, 8192)

	config := MaterialConfig{
		Name:             "brick",
		BaseColorTexture: "brick_albedo",
		NormalMapTexture: "brick_normal",
	}

	const callers = 8
	results := make(chan *Material, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			material, err := ms.Acquire(config)
			assert.NoError(t, err)
			results <- material
		}()
	}
	wg.Wait()
	close(results)

	first := <-results
	for material := range results {
		assert.Same(t, first, material)
	}

	// Losing builders return their texture slots; only the winner's
	// two registrations stay live.
	assert.Equal(t, uint32(2), bs.LiveCount(metadata.BindingKindSampledImage))
}

func TestMaterialAddressStable(t *testing.T) {
	ms, _, _ := newTestMaterials(t, 4096)

	material, err := ms.Acquire(MaterialConfig{Name: "brick"})
	require.NoError(t, err)
	assert.Equal(t, material.Address, ms.Get("brick").Address)
}

func TestMaterialReloadMovesAddressAndDefersOldSlots(t *testing.T) {
	ms, bs, epochs := newTestMaterials(t, 4096)

	epoch := epochs.Begin()
	old, err := ms.Acquire(MaterialConfig{Name: "brick", BaseColorTexture: "v1"})
	require.NoError(t, err)

	reloaded, err := ms.Reload(MaterialConfig{Name: "brick", BaseColorTexture: "v2"})
	require.NoError(t, err)

	assert.NotEqual(t, old.Address, reloaded.Address)
	assert.NotEqual(t, old.ID, reloaded.ID)

	// The old texture slot is gone from the live count but not yet
	// recyclable: its frame is still in flight.
	assert.Equal(t, uint32(1), bs.LiveCount(metadata.BindingKindSampledImage))
	next, err := bs.RegisterTexture("unrelated")
	require.NoError(t, err)
	assert.NotEqual(t, old.slots[0].Index, next.Index)

	epochs.Retire(epoch)
	recycled, err := bs.RegisterTexture("later")
	require.NoError(t, err)
	assert.Equal(t, old.slots[0].Index, recycled.Index)
}

func TestMaterialOutOfRegionSpace(t *testing.T) {
	ms, _, _ := newTestMaterials(t, 64)

	_, err := ms.Acquire(MaterialConfig{Name: "tiny"})
	require.ErrorIs(t, err, core.ErrOutOfRegionSpace)
}

func TestMaterialReleaseUnknown(t *testing.T) {
	ms, _, _ := newTestMaterials(t, 4096)
	require.ErrorIs(t, ms.Release("ghost"), core.ErrInvalidHandle)
}
