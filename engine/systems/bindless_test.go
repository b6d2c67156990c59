package systems

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

type descriptorWrite struct {
	index    uint32
	resource any
}

// fakeWriter records writes in order. Registration may write from
// several goroutines, so the recording is locked.
type fakeWriter struct {
	mu            sync.Mutex
	imageWrites   []descriptorWrite
	samplerWrites []descriptorWrite
	fail          error
}

func (fw *fakeWriter) WriteSampledImage(index uint32, view any) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.fail != nil {
		return fw.fail
	}
	fw.imageWrites = append(fw.imageWrites, descriptorWrite{index, view})
	return nil
}

func (fw *fakeWriter) WriteSampler(index uint32, sampler any) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.fail != nil {
		return fw.fail
	}
	fw.samplerWrites = append(fw.samplerWrites, descriptorWrite{index, sampler})
	return nil
}

func newTestBindless(t *testing.T, images, samplers uint32) (*BindlessSystem, *fakeWriter, *memory.EpochTracker) {
	t.Helper()
	writer := &fakeWriter{}
	epochs := memory.NewEpochTracker()
	bs, err := NewBindlessSystem(BindlessSystemConfig{
		MaxSampledImages: images,
		MaxSamplers:      samplers,
	}, writer, epochs)
	require.NoError(t, err)
	return bs, writer, epochs
}

func TestBindlessIndicesUniqueAmongLive(t *testing.T) {
	bs, writer, _ := newTestBindless(t, 16, 4)

	seen := map[uint32]bool{}
	for i := 0; i < 8; i++ {
		slot, err := bs.RegisterTexture(i)
		require.NoError(t, err)
		assert.False(t, seen[slot.Index], "index %d handed out twice", slot.Index)
		seen[slot.Index] = true
	}
	assert.Len(t, writer.imageWrites, 8)
	assert.Equal(t, uint32(8), bs.LiveCount(metadata.BindingKindSampledImage))
}

func TestBindlessCapacityExceeded(t *testing.T) {
	bs, _, _ := newTestBindless(t, 2, 1)

	_, err := bs.RegisterTexture("a")
	require.NoError(t, err)
	_, err = bs.RegisterTexture("b")
	require.NoError(t, err)
	_, err = bs.RegisterTexture("c")
	require.ErrorIs(t, err, core.ErrCapacityExceeded)
}

func TestBindlessReleaseDeferredUntilEpochRetires(t *testing.T) {
	bs, _, epochs := newTestBindless(t, 4, 1)

	epoch := epochs.Begin()
	slot, err := bs.RegisterTexture("tex")
	require.NoError(t, err)
	require.NoError(t, bs.Release(slot))

	// The releasing frame is still in flight: the index must not come back.
	next, err := bs.RegisterTexture("other")
	require.NoError(t, err)
	assert.NotEqual(t, slot.Index, next.Index)

	epochs.Retire(epoch)
	reused, err := bs.RegisterTexture("third")
	require.NoError(t, err)
	assert.Equal(t, slot.Index, reused.Index)
	assert.Equal(t, slot.Generation+1, reused.Generation)
}

func TestBindlessLIFOReuse(t *testing.T) {
	bs, _, epochs := newTestBindless(t, 8, 1)

	epoch := epochs.Begin()
	a, _ := bs.RegisterTexture("a")
	b, _ := bs.RegisterTexture("b")
	require.NoError(t, bs.Release(a))
	require.NoError(t, bs.Release(b))
	epochs.Retire(epoch)

	// Last released, first reused.
	reused, err := bs.RegisterTexture("c")
	require.NoError(t, err)
	assert.Equal(t, b.Index, reused.Index)
}

func TestBindlessStaleSlotRejected(t *testing.T) {
	bs, _, epochs := newTestBindless(t, 4, 1)

	epoch := epochs.Begin()
	slot, err := bs.RegisterTexture("tex")
	require.NoError(t, err)
	require.NoError(t, bs.Release(slot))
	epochs.Retire(epoch)

	_, err = bs.RegisterTexture("replacement")
	require.NoError(t, err)

	// The released slot's generation is behind the recycled index.
	err = bs.Release(slot)
	require.ErrorIs(t, err, core.ErrInvalidHandle)
}

func TestBindlessSamplerPoolIndependent(t *testing.T) {
	bs, writer, _ := newTestBindless(t, 4, 4)

	tex, err := bs.RegisterTexture("tex")
	require.NoError(t, err)
	smp, err := bs.RegisterSampler("linear")
	require.NoError(t, err)

	// Both pools start at index 0; kinds keep them apart.
	assert.Equal(t, tex.Index, smp.Index)
	assert.Equal(t, metadata.BindingKindSampledImage, tex.Kind)
	assert.Equal(t, metadata.BindingKindSampler, smp.Kind)
	assert.Len(t, writer.samplerWrites, 1)
}

func TestBindlessFailedWriteReturnsIndex(t *testing.T) {
	bs, writer, _ := newTestBindless(t, 4, 1)

	writer.fail = core.ErrDeviceLost
	_, err := bs.RegisterTexture("tex")
	require.Error(t, err)

	writer.fail = nil
	slot, err := bs.RegisterTexture("tex")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), slot.Index)
}
