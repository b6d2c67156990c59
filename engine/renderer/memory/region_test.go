package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

type cameraRecord struct {
	View       [16]float32
	Projection [16]float32
}

func testRegion(t *testing.T, size uint64) *Region {
	t.Helper()
	region, err := NewRegion(0, metadata.DeviceAddress(0x40000000), size, make([]byte, size))
	require.NoError(t, err)
	return region
}

func TestRegionRejectsShortMapping(t *testing.T) {
	_, err := NewRegion(0, 0x1000, 256, make([]byte, 128))
	require.Error(t, err)
}

func TestBlockAddressStable(t *testing.T) {
	region := testRegion(t, 1024)

	block, err := AllocateBlock(region, cameraRecord{})
	require.NoError(t, err)

	first, err := block.Address()
	require.NoError(t, err)
	second, err := block.Address()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBlockAddressesDoNotOverlap(t *testing.T) {
	region := testRegion(t, 1024)

	a, err := AllocateBlock(region, cameraRecord{})
	require.NoError(t, err)
	b, err := AllocateBlock(region, cameraRecord{})
	require.NoError(t, err)

	addrA, err := a.Address()
	require.NoError(t, err)
	addrB, err := b.Address()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, uint64(addrB), uint64(addrA)+128)
	assert.Zero(t, uint64(addrA)%16)
	assert.Zero(t, uint64(addrB)%16)
}

func TestAllocateBlockOutOfSpace(t *testing.T) {
	region := testRegion(t, 160)

	_, err := AllocateBlock(region, cameraRecord{})
	require.NoError(t, err)
	_, err = AllocateBlock(region, cameraRecord{})
	require.ErrorIs(t, err, core.ErrOutOfRegionSpace)
}

func TestUpdateWritesThroughMapping(t *testing.T) {
	region := testRegion(t, 1024)

	block, err := AllocateBlock(region, cameraRecord{})
	require.NoError(t, err)

	value := cameraRecord{}
	value.View[0] = 2.5
	require.NoError(t, block.Update(value))

	// Float bit pattern of 2.5 lands at the block's offset in the mapping.
	assert.Equal(t, []byte{0x00, 0x00, 0x20, 0x40}, region.host[:4])
}

func TestAllocateBlockDeviceLocal(t *testing.T) {
	region, err := NewRegion(1, 0x2000, 1024, nil)
	require.NoError(t, err)

	// Allocation succeeds without a mapping; only Update needs one.
	block, err := AllocateBlock(region, cameraRecord{})
	require.NoError(t, err)

	first, err := block.Address()
	require.NoError(t, err)
	second, err := block.Address()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	err = block.Update(cameraRecord{})
	require.ErrorIs(t, err, core.ErrRegionNotMappable)
}

func TestResetInvalidatesBlocks(t *testing.T) {
	region := testRegion(t, 1024)

	block, err := AllocateBlock(region, cameraRecord{})
	require.NoError(t, err)

	region.Reset()
	assert.Equal(t, region.Size(), region.Remaining())

	err = block.Update(cameraRecord{})
	require.ErrorIs(t, err, core.ErrInvalidHandle)
	_, err = block.Address()
	require.ErrorIs(t, err, core.ErrInvalidHandle)
}

func TestEpochTracker(t *testing.T) {
	epochs := NewEpochTracker()

	first := epochs.Begin()
	second := epochs.Begin()
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	assert.False(t, epochs.IsRetired(first))
	epochs.Retire(first)
	assert.True(t, epochs.IsRetired(first))
	assert.False(t, epochs.IsRetired(second))

	// Retiring out of order never rolls the watermark back.
	epochs.Retire(second)
	epochs.Retire(first)
	assert.True(t, epochs.IsRetired(second))
}
